package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Esbuild bundles in process. Module files are concatenated in order and
// passed through a single esbuild transform.
type Esbuild struct{}

// NewEsbuild creates a new in-process bundler.
func NewEsbuild() *Esbuild {
	return &Esbuild{}
}

// Name returns the bundler kind.
func (e *Esbuild) Name() string {
	return KindEsbuild
}

// Bundle concatenates the modules of req, transforms the result and writes it
// to req.OutputPath.
func (e *Esbuild) Bundle(ctx context.Context, req *Request) (string, error) {
	if len(req.Modules) == 0 {
		return "", ErrNoModules
	}

	var src bytes.Buffer
	for _, module := range req.Modules {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := os.ReadFile(req.ModulePath(module))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrModuleNotFound, module)
			}
			return "", fmt.Errorf("reading module %s: %w", module, err)
		}
		src.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			src.WriteByte('\n')
		}
	}

	opts, err := transformOptions(req)
	if err != nil {
		return "", err
	}

	result := api.Transform(src.String(), opts)
	if len(result.Errors) > 0 {
		return "", transformError(result.Errors)
	}

	if err := os.WriteFile(req.OutputPath, result.Code, 0o644); err != nil {
		return "", fmt.Errorf("writing bundle: %w", err)
	}
	return req.OutputPath, nil
}

// transformOptions maps a request onto esbuild transform options.
func transformOptions(req *Request) (api.TransformOptions, error) {
	opts := api.TransformOptions{
		Loader:            api.LoaderJS,
		Sourcefile:        "bundle" + req.Ext,
		MinifyWhitespace:  req.Minify,
		MinifyIdentifiers: req.Minify,
		MinifySyntax:      req.Minify,
	}
	if req.Ext == ".css" {
		opts.Loader = api.LoaderCSS
	}

	if req.Wrap != nil {
		opts.Banner = req.Wrap.Start
		opts.Footer = req.Wrap.End
	}

	if opts.Loader == api.LoaderJS && len(req.Pragmas) > 0 {
		opts.Define = make(map[string]string, len(req.Pragmas))
		for _, name := range req.PragmaNames() {
			value, err := json.Marshal(req.Pragmas[name])
			if err != nil {
				return opts, fmt.Errorf("encoding pragma %s: %w", name, err)
			}
			opts.Define["pragmas."+name] = string(value)
		}
	}

	return opts, nil
}

// transformError joins esbuild messages into one error.
func transformError(msgs []api.Message) error {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if loc := msg.Location; loc != nil {
			lines = append(lines, fmt.Sprintf("%s:%d:%d: %s", loc.File, loc.Line, loc.Column, msg.Text))
			continue
		}
		lines = append(lines, msg.Text)
	}
	return errors.New("esbuild: " + strings.Join(lines, "; "))
}
