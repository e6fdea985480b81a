package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/narvanalabs/jsbuilder/internal/models"
)

// writeSourceTree creates <root>/o/r/main with the given module files.
func writeSourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "o", "r", "main")
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func testConfig() *models.BuildConfig {
	return &models.BuildConfig{
		Source:        models.Source{Owner: "o", Repo: "r", Ref: "main"},
		Include:       []string{"core", "main", "util"},
		Exclude:       []string{"util"},
		Pragmas:       json.RawMessage(`{"debug":true,"level":1}`),
		PragmasOnSave: json.RawMessage(`{"debug":false}`),
		OutputName:    "r.js",
		OutputExt:     ".js",
		MimeType:      models.MimeJavaScript,
	}
}

func TestNewRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Wrap = json.RawMessage(`{"end":"})();","start":"(function(){"}`)

	plain, err := NewRequest(cfg, "/src", "/ws", "abc", false)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if want := []string{"core", "main"}; !reflect.DeepEqual(plain.Modules, want) {
		t.Errorf("modules = %v, want %v", plain.Modules, want)
	}
	if plain.OutputPath != filepath.Join("/ws", "abc.js") {
		t.Errorf("output = %s", plain.OutputPath)
	}
	if plain.SourceDir != filepath.Join("/src", "o", "r", "main") {
		t.Errorf("source dir = %s", plain.SourceDir)
	}
	if plain.Wrap == nil || plain.Wrap.Start != "(function(){" || plain.Wrap.End != "})();" {
		t.Errorf("wrap = %+v", plain.Wrap)
	}
	if plain.Pragmas["debug"] != true {
		t.Errorf("unminified pragmas = %v", plain.Pragmas)
	}

	min, err := NewRequest(cfg, "/src", "/ws", "abc", true)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if min.OutputPath != filepath.Join("/ws", "abc.min.js") {
		t.Errorf("minified output = %s", min.OutputPath)
	}
	if min.Pragmas["debug"] != false {
		t.Errorf("pragmasOnSave must override pragmas for the minified variant: %v", min.Pragmas)
	}
	if got := min.PragmaNames(); !reflect.DeepEqual(got, []string{"debug", "level"}) {
		t.Errorf("pragma names = %v", got)
	}
}

func TestNewRequestRejectsBadPragma(t *testing.T) {
	cfg := testConfig()
	cfg.Pragmas = json.RawMessage(`{"not-an-identifier":true}`)
	if _, err := NewRequest(cfg, "/src", "/ws", "abc", false); !errors.Is(err, ErrInvalidPragma) {
		t.Errorf("err = %v, want ErrInvalidPragma", err)
	}
}

func TestEsbuildBundle(t *testing.T) {
	root := writeSourceTree(t, map[string]string{
		"core.js": "// core module\nvar core = { version: \"1.0\" };\n",
		"main.js": "function greet(name) {\n  if (pragmas.debug) {\n    console.log(\"debugging \" + name);\n  }\n  return \"hello \" + name;\n}\n",
		"util.js": "var shouldNotAppear = true;\n",
	})
	cfg := testConfig()
	cfg.Wrap = json.RawMessage(`{"start":"/* start */","end":"/* end */"}`)
	ws := t.TempDir()

	b := NewEsbuild()
	plainReq, err := NewRequest(cfg, root, ws, "k", false)
	if err != nil {
		t.Fatal(err)
	}
	plainPath, err := b.Bundle(context.Background(), plainReq)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	plain, err := os.ReadFile(plainPath)
	if err != nil {
		t.Fatal(err)
	}

	out := string(plain)
	if !strings.HasPrefix(out, "/* start */") || !strings.Contains(out, "/* end */") {
		t.Errorf("wrap missing from output:\n%s", out)
	}
	if !strings.Contains(out, "greet") || !strings.Contains(out, "core") {
		t.Errorf("modules missing from output:\n%s", out)
	}
	if strings.Contains(out, "shouldNotAppear") {
		t.Error("excluded module was bundled")
	}

	minReq, err := NewRequest(cfg, root, ws, "k", true)
	if err != nil {
		t.Fatal(err)
	}
	minPath, err := b.Bundle(context.Background(), minReq)
	if err != nil {
		t.Fatalf("Bundle minified: %v", err)
	}
	minified, err := os.ReadFile(minPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(minified) >= len(plain) {
		t.Errorf("minified output (%d bytes) not smaller than plain (%d bytes)", len(minified), len(plain))
	}
	if strings.Contains(string(minified), "debugging") {
		t.Errorf("debug branch should be removed when pragmas.debug is false:\n%s", minified)
	}
}

func TestEsbuildCSS(t *testing.T) {
	root := writeSourceTree(t, map[string]string{
		"main.css": "body {\n  color: red;\n}\n",
	})
	cfg := testConfig()
	cfg.Include = []string{"main"}
	cfg.Exclude = nil
	cfg.MimeType = models.MimeCSS

	req, err := NewRequest(cfg, root, t.TempDir(), "k", true)
	if err != nil {
		t.Fatal(err)
	}
	path, err := NewEsbuild().Bundle(context.Background(), req)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if filepath.Ext(path) != ".css" {
		t.Errorf("path = %s", path)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "body{color:red}") {
		t.Errorf("unexpected css %q", data)
	}
}

func TestEsbuildErrors(t *testing.T) {
	root := writeSourceTree(t, map[string]string{
		"main.js":   "var ok = 1;\n",
		"broken.js": "function (\n",
	})
	b := NewEsbuild()

	cfg := testConfig()
	cfg.Include = []string{"missing"}
	cfg.Exclude = nil
	req, _ := NewRequest(cfg, root, t.TempDir(), "k", false)
	if _, err := b.Bundle(context.Background(), req); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("missing module: err = %v", err)
	}

	cfg.Include = []string{"broken"}
	req, _ = NewRequest(cfg, root, t.TempDir(), "k", false)
	if _, err := b.Bundle(context.Background(), req); err == nil || !strings.HasPrefix(err.Error(), "esbuild:") {
		t.Errorf("syntax error: err = %v", err)
	}

	cfg.Include = []string{"main"}
	cfg.Exclude = []string{"main"}
	req, _ = NewRequest(cfg, root, t.TempDir(), "k", false)
	if _, err := b.Bundle(context.Background(), req); !errors.Is(err, ErrNoModules) {
		t.Errorf("all excluded: err = %v", err)
	}
}

func TestNew(t *testing.T) {
	if b, err := New("", CommandOptions{}); err != nil || b.Name() != KindEsbuild {
		t.Errorf("default kind: %v, %v", b, err)
	}
	if _, err := New(KindCommand, CommandOptions{}); !errors.Is(err, ErrNoCommand) {
		t.Errorf("command without path: %v", err)
	}
	if _, err := New("grunt", CommandOptions{}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind: %v", err)
	}
}

// TestHelperProcess is not a real test. It acts as an external bundler when
// invoked by the command tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("JSBUILDER_HELPER_BUNDLER") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 {
		os.Exit(2)
	}
	mode, configPath := args[1], args[2]

	if mode == "fail" {
		os.Stderr.WriteString("syntax error in main.js\n")
		os.Exit(3)
	}
	if mode == "sleep" {
		time.Sleep(10 * time.Second)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		os.Exit(4)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		os.Exit(5)
	}
	if mode == "silent" {
		return
	}

	var out strings.Builder
	for _, module := range req.Modules {
		src, err := os.ReadFile(req.ModulePath(module))
		if err != nil {
			os.Exit(6)
		}
		out.Write(src)
	}
	if err := os.WriteFile(req.OutputPath, []byte(out.String()), 0o644); err != nil {
		os.Exit(7)
	}
}

func helperCommand(t *testing.T, mode string, timeout time.Duration) *Command {
	t.Helper()
	c, err := NewCommand(CommandOptions{
		Path:    os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--", mode},
		Env:     []string{"JSBUILDER_HELPER_BUNDLER=1"},
		Timeout: timeout,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCommandBundle(t *testing.T) {
	root := writeSourceTree(t, map[string]string{
		"core.js": "var core = 1;\n",
		"main.js": "var main = 2;\n",
	})
	ws := t.TempDir()
	req, err := NewRequest(testConfig(), root, ws, "k", false)
	if err != nil {
		t.Fatal(err)
	}

	path, err := helperCommand(t, "ok", 30*time.Second).Bundle(context.Background(), req)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "var core = 1;\nvar main = 2;\n" {
		t.Errorf("output = %q", data)
	}
	if _, err := os.Stat(filepath.Join(ws, "k.build.json")); err != nil {
		t.Errorf("config file not written: %v", err)
	}
}

func TestCommandFailures(t *testing.T) {
	root := writeSourceTree(t, map[string]string{"main.js": "var main = 2;\n"})
	cfg := testConfig()
	cfg.Include = []string{"main"}

	req, _ := NewRequest(cfg, root, t.TempDir(), "k", false)
	_, err := helperCommand(t, "fail", 30*time.Second).Bundle(context.Background(), req)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.ExitCode != 3 || !strings.Contains(exitErr.Output(), "syntax error") {
		t.Errorf("exit = %d, output = %q", exitErr.ExitCode, exitErr.Output())
	}

	req, _ = NewRequest(cfg, root, t.TempDir(), "k", false)
	if _, err := helperCommand(t, "silent", 30*time.Second).Bundle(context.Background(), req); !errors.Is(err, ErrNoOutput) {
		t.Errorf("silent: err = %v, want ErrNoOutput", err)
	}

	req, _ = NewRequest(cfg, root, t.TempDir(), "k", false)
	_, err = helperCommand(t, "sleep", 100*time.Millisecond).Bundle(context.Background(), req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("sleep: err = %v, want deadline exceeded", err)
	}
}
