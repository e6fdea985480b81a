package builder

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/narvanalabs/jsbuilder/internal/builder/archive"
	"github.com/narvanalabs/jsbuilder/internal/builder/bundler"
	builderrors "github.com/narvanalabs/jsbuilder/internal/builder/errors"
	"github.com/narvanalabs/jsbuilder/internal/builder/hash"
	"github.com/narvanalabs/jsbuilder/internal/builder/normalize"
	"github.com/narvanalabs/jsbuilder/internal/builder/workspace"
	"github.com/narvanalabs/jsbuilder/internal/models"
)

// testEnv is a source tree, staging root and compiled directory.
type testEnv struct {
	sourceRoot  string
	stagingDir  string
	compiledDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		sourceRoot:  filepath.Join(root, "src"),
		stagingDir:  filepath.Join(root, "staging"),
		compiledDir: filepath.Join(root, "compiled"),
	}
	modules := map[string]string{
		"core.js":   "var coreLoaded = true;\n",
		"main.js":   "if (pragmas.debug) { console.log(\"debug build\"); }\nvar mainLoaded = coreLoaded;\n",
		"extra.js":  "var extraLoaded = true;\n",
		"style.css": "body {\n  color: red;\n}\n",
		"broken.js": "var = ;\n",
	}
	dir := filepath.Join(env.sourceRoot, "o", "r", "main")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range modules {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return env
}

func (e *testEnv) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	ws, err := workspace.NewManager(e.stagingDir)
	if err != nil {
		t.Fatalf("workspace.NewManager: %v", err)
	}
	p, err := NewPipeline(PipelineConfig{
		SourceRoot:  e.sourceRoot,
		CompiledDir: e.compiledDir,
	}, bundler.NewEsbuild(), ws)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

// stagingEmpty reports whether every workspace has been removed.
func (e *testEnv) stagingEmpty(t *testing.T) bool {
	t.Helper()
	entries, err := os.ReadDir(e.stagingDir)
	if os.IsNotExist(err) {
		return true
	}
	if err != nil {
		t.Fatal(err)
	}
	return len(entries) == 0
}

func prepare(t *testing.T, raw models.RawParams, filterID string) (*models.BuildConfig, string) {
	t.Helper()
	cfg, err := normalize.Normalize(raw, normalize.DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	key, err := hash.Digest(cfg, filterID)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	return cfg, key
}

func TestPipelineRawBuild(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(t)

	cfg, key := prepare(t, models.RawParams{
		Owner: "o", Repo: "r", Ref: "main",
		Include: "core,main,extra",
		Exclude: "extra",
		Wrap:    `{"start":"(function(){","end":"})();"}`,
	}, "")

	art, err := p.Build(context.Background(), key, cfg, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if want := filepath.Join(env.compiledDir, key+".js"); art.Path != want {
		t.Errorf("path = %s, want %s", art.Path, want)
	}
	if art.MimeType != models.MimeJavaScript {
		t.Errorf("mime type = %s", art.MimeType)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	out := string(data)
	for _, want := range []string{"coreLoaded", "mainLoaded", "(function(){", "})();"} {
		if !strings.Contains(out, want) {
			t.Errorf("artifact missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "extraLoaded") {
		t.Errorf("excluded module was bundled:\n%s", out)
	}
	if art.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", art.Size, len(data))
	}
	if !env.stagingEmpty(t) {
		t.Error("workspace was not removed")
	}
}

func TestPipelineOptimizedBuild(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(t)

	cfg, key := prepare(t, models.RawParams{
		Owner: "o", Repo: "r", Ref: "main",
		Include:       "core,main",
		Optimize:      "1",
		Pragmas:       `{"debug":true}`,
		PragmasOnSave: `{"debug":false}`,
	}, "banner")

	art, err := p.Build(context.Background(), key, cfg, "banner")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if want := filepath.Join(env.compiledDir, key+".min.js"); art.Path != want {
		t.Errorf("path = %s, want %s", art.Path, want)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "/*! modules: core, main */") {
		t.Errorf("banner missing:\n%s", data)
	}
	if strings.Contains(string(data), "debug build") {
		t.Errorf("on-save pragma did not remove the debug branch:\n%s", data)
	}
}

func TestPipelineArchiveBuild(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(t)

	cfg, key := prepare(t, models.RawParams{
		Owner: "o", Repo: "r", Ref: "main",
		Name:    "mylib.zip",
		Include: "core,main",
	}, "")

	art, err := p.Build(context.Background(), key, cfg, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if want := filepath.Join(env.compiledDir, key+".zip"); art.Path != want {
		t.Errorf("path = %s, want %s", art.Path, want)
	}
	if art.MimeType != models.MimeZip {
		t.Errorf("mime type = %s", art.MimeType)
	}

	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := archive.Entries(data)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []string{"mylib.js", "mylib.min.js"}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("entries = %v, want %v", entries, want)
	}
	if !reflect.DeepEqual(art.Files, want) {
		t.Errorf("files = %v, want %v", art.Files, want)
	}
	if !env.stagingEmpty(t) {
		t.Error("workspace was not removed")
	}
}

func TestPipelineStylesheet(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(t)

	cfg, key := prepare(t, models.RawParams{
		Owner: "o", Repo: "r", Ref: "main",
		Name:     "theme.css",
		Include:  "style",
		Optimize: "true",
	}, "")

	art, err := p.Build(context.Background(), key, cfg, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if art.MimeType != models.MimeCSS {
		t.Errorf("mime type = %s", art.MimeType)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "body{color:red}") {
		t.Errorf("stylesheet not minified:\n%s", data)
	}
}

func TestPipelineFailures(t *testing.T) {
	tests := []struct {
		name     string
		raw      models.RawParams
		filterID string
		code     string
	}{
		{
			name: "missing module",
			raw:  models.RawParams{Owner: "o", Repo: "r", Ref: "main", Include: "core,nope"},
			code: builderrors.CodeBundlerFailed,
		},
		{
			name:     "unknown filter",
			raw:      models.RawParams{Owner: "o", Repo: "r", Ref: "main"},
			filterID: "nope",
			code:     builderrors.CodeUnknownFilter,
		},
		{
			name: "syntax error",
			raw:  models.RawParams{Owner: "o", Repo: "r", Ref: "main", Include: "core,broken"},
			code: builderrors.CodeBundlerFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			p := env.pipeline(t)
			cfg, key := prepare(t, tt.raw, tt.filterID)

			_, err := p.Build(context.Background(), key, cfg, tt.filterID)
			if err == nil {
				t.Fatal("expected an error")
			}
			if code := builderrors.CodeOf(err); code != tt.code {
				t.Errorf("code = %q, want %q (%v)", code, tt.code, err)
			}
			entries, _ := os.ReadDir(env.compiledDir)
			if len(entries) != 0 {
				t.Errorf("failed build published %d files", len(entries))
			}
			if !env.stagingEmpty(t) {
				t.Error("workspace was not removed")
			}
		})
	}
}
