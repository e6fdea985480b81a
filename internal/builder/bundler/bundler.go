// Package bundler invokes the bundling toolchain for one build variant.
package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/narvanalabs/jsbuilder/internal/models"
)

// Supported bundler kinds.
const (
	KindEsbuild = "esbuild"
	KindCommand = "command"
)

// Bundler produces one bundle variant inside a workspace.
type Bundler interface {
	// Name returns the bundler kind.
	Name() string

	// Bundle builds req and returns the path of the produced file, which is
	// always req.OutputPath.
	Bundle(ctx context.Context, req *Request) (string, error)
}

// Wrap holds code placed around the bundle.
type Wrap struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Request is the bundler configuration for one variant. It is also the
// document written to the workspace for external bundlers.
type Request struct {
	// SourceDir is the source tree the modules are read from.
	SourceDir string `json:"sourceDir"`

	// Modules lists the modules to bundle, in order, with exclusions applied.
	Modules []string `json:"modules"`

	// Exclude lists the excluded modules as requested.
	Exclude []string `json:"exclude"`

	// Ext is the module file extension, ".js" or ".css".
	Ext string `json:"ext"`

	Minify bool `json:"minify"`
	Wrap   *Wrap `json:"wrap,omitempty"`

	// Pragmas are compile-time constants, already merged with the
	// on-save pragmas for minified variants.
	Pragmas map[string]any `json:"pragmas"`

	// Workspace is the per-build staging directory.
	Workspace string `json:"workspace"`

	// OutputPath is the file the bundle must be written to.
	OutputPath string `json:"outputPath"`
}

// pragmaName restricts pragma names to identifiers usable in a define.
var pragmaName = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// NewRequest derives the bundler configuration for one variant of cfg.
// Output files are named by key so that archive entries can be renamed by
// stripping it: <key><ext> and <key>.min<ext>.
func NewRequest(cfg *models.BuildConfig, sourceRoot, workspace, key string, minify bool) (*Request, error) {
	ext := models.SourceExtForMime(cfg.MimeType)

	req := &Request{
		SourceDir: filepath.Join(sourceRoot, cfg.Source.Owner, cfg.Source.Repo, cfg.Source.Ref),
		Modules:   Modules(cfg.Include, cfg.Exclude),
		Exclude:   append([]string(nil), cfg.Exclude...),
		Ext:       ext,
		Minify:    minify,
		Workspace: workspace,
	}

	if minify {
		req.OutputPath = filepath.Join(workspace, key+".min"+ext)
	} else {
		req.OutputPath = filepath.Join(workspace, key+ext)
	}

	if len(cfg.Wrap) > 0 {
		var w Wrap
		if err := json.Unmarshal(cfg.Wrap, &w); err != nil {
			return nil, fmt.Errorf("decoding wrap: %w", err)
		}
		req.Wrap = &w
	}

	pragmas, err := decodePragmas(cfg.Pragmas)
	if err != nil {
		return nil, fmt.Errorf("decoding pragmas: %w", err)
	}
	if minify {
		onSave, err := decodePragmas(cfg.PragmasOnSave)
		if err != nil {
			return nil, fmt.Errorf("decoding pragmasOnSave: %w", err)
		}
		for k, v := range onSave {
			pragmas[k] = v
		}
	}
	req.Pragmas = pragmas

	return req, nil
}

// Modules returns include minus exclude, keeping the include order.
func Modules(include, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	out := make([]string, 0, len(include))
	for _, name := range include {
		if !skip[name] {
			out = append(out, name)
		}
	}
	return out
}

// ModulePath returns the file a module is read from.
func (r *Request) ModulePath(module string) string {
	return filepath.Join(r.SourceDir, filepath.FromSlash(module)+r.Ext)
}

// PragmaNames returns the pragma names, sorted.
func (r *Request) PragmaNames() []string {
	names := make([]string, 0, len(r.Pragmas))
	for name := range r.Pragmas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteConfig writes the request as JSON next to its output file and
// returns the config path.
func (r *Request) WriteConfig() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling bundler config: %w", err)
	}
	path := strings.TrimSuffix(r.OutputPath, r.Ext) + ".build.json"
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing bundler config: %w", err)
	}
	return path, nil
}

func decodePragmas(raw json.RawMessage) (map[string]any, error) {
	out := make(map[string]any)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	for name := range out {
		if !pragmaName.MatchString(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPragma, name)
		}
	}
	return out, nil
}

// New returns the bundler for kind.
func New(kind string, opts CommandOptions) (Bundler, error) {
	switch kind {
	case "", KindEsbuild:
		return NewEsbuild(), nil
	case KindCommand:
		return NewCommand(opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}
