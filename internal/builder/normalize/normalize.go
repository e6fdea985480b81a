// Package normalize turns raw bundle request parameters into a canonical
// BuildConfig.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	builderrors "github.com/narvanalabs/jsbuilder/internal/builder/errors"
	"github.com/narvanalabs/jsbuilder/internal/models"
)

// DefaultInclude is the module built when a request names none.
const DefaultInclude = "main"

// Options controls request-independent normalization choices.
type Options struct {
	// ExternalFirst places external modules before the included ones.
	ExternalFirst bool
}

// DefaultOptions returns the options the service runs with by default.
func DefaultOptions() Options {
	return Options{ExternalFirst: true}
}

// Values treated as a false optimize flag. Anything else non-empty is true.
var falseFlags = map[string]bool{
	"":      true,
	"0":     true,
	"f":     true,
	"false": true,
	"n":     true,
	"no":    true,
	"off":   true,
	"none":  true,
}

// Normalize validates raw and produces its canonical BuildConfig. All
// failures are config errors.
func Normalize(raw models.RawParams, opts Options) (*models.BuildConfig, error) {
	src := models.Source{Owner: raw.Owner, Repo: raw.Repo, Ref: raw.Ref}
	for field, v := range map[string]string{"owner": src.Owner, "repo": src.Repo, "ref": src.Ref} {
		if err := validateSegment(v); err != nil {
			return nil, builderrors.NewConfigError(fmt.Errorf("%s: %w", field, err))
		}
	}

	include := SplitList(raw.Include)
	if len(include) == 0 {
		include = []string{DefaultInclude}
	}
	exclude := SplitList(raw.Exclude)
	external := SplitList(raw.External)

	for _, list := range [][]string{include, exclude, external} {
		for _, name := range list {
			if err := validateModule(name); err != nil {
				return nil, builderrors.NewConfigError(err)
			}
		}
	}

	if len(external) > 0 {
		if opts.ExternalFirst {
			include = mergeUnique(external, include)
		} else {
			include = mergeUnique(include, external)
		}
	}

	wrap, err := canonicalJSON("wrap", raw.Wrap, "")
	if err != nil {
		return nil, err
	}
	pragmas, err := canonicalJSON("pragmas", raw.Pragmas, "{}")
	if err != nil {
		return nil, err
	}
	pragmasOnSave, err := canonicalJSON("pragmasOnSave", raw.PragmasOnSave, "{}")
	if err != nil {
		return nil, err
	}

	cfg := &models.BuildConfig{
		Source:        src,
		Include:       include,
		Exclude:       exclude,
		ExternalFirst: opts.ExternalFirst,
		Optimize:      ParseFlag(raw.Optimize),
		Wrap:          wrap,
		Pragmas:       pragmas,
		PragmasOnSave: pragmasOnSave,
	}

	if err := resolveOutput(cfg, raw.Name); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SplitList splits a comma separated list, trims entries, drops empty and
// duplicate entries and sorts the result.
func SplitList(s string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}

// ParseFlag coerces a textual flag to a boolean.
func ParseFlag(s string) bool {
	return !falseFlags[strings.ToLower(strings.TrimSpace(s))]
}

// mergeUnique concatenates first and second, keeping the first occurrence
// of each name.
func mergeUnique(first, second []string) []string {
	seen := make(map[string]bool, len(first)+len(second))
	out := make([]string, 0, len(first)+len(second))
	for _, list := range [][]string{first, second} {
		for _, name := range list {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// resolveOutput derives the output name, extension and MIME type.
func resolveOutput(cfg *models.BuildConfig, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = cfg.Source.Repo + ".js"
	}
	if err := validateSegment(name); err != nil {
		return builderrors.NewConfigError(fmt.Errorf("name: %w", err))
	}

	ext := path.Ext(name)
	if ext == "" {
		ext = ".js"
	}
	mimeType, ok := models.MimeTypeForExt(ext)
	if !ok {
		return builderrors.NewConfigError(fmt.Errorf("unsupported output extension %q", ext))
	}

	if cfg.Optimize && mimeType != models.MimeZip && !strings.HasSuffix(strings.TrimSuffix(name, path.Ext(name)), ".min") {
		ext = ".min" + ext
	}

	cfg.OutputName = name
	cfg.OutputExt = ext
	cfg.MimeType = mimeType
	return nil
}

// canonicalJSON validates a JSON object parameter and re-encodes it so that
// formatting and key order never change the serialized config. An empty
// value yields def, or nil when def is empty.
func canonicalJSON(field, value, def string) (json.RawMessage, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if def == "" {
			return nil, nil
		}
		value = def
	}

	var v any
	dec := json.NewDecoder(strings.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, builderrors.NewConfigError(fmt.Errorf("%s: %w", field, err))
	}
	if dec.More() {
		return nil, builderrors.NewConfigError(fmt.Errorf("%s: trailing data after JSON value", field))
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, builderrors.NewConfigError(fmt.Errorf("%s: must be a JSON object", field))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, builderrors.NewConfigError(fmt.Errorf("%s: %w", field, err))
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// validateSegment checks a single path segment such as an owner or an output name.
func validateSegment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("must not be empty")
	case s == "." || s == "..":
		return fmt.Errorf("%q is not a valid name", s)
	case strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("%q must not contain path separators", s)
	}
	return nil
}

// validateModule checks a module name. Module names may contain forward
// slashes for nested modules but must stay inside the source tree.
func validateModule(name string) error {
	if strings.ContainsAny(name, "\\\x00") || strings.HasPrefix(name, "/") {
		return fmt.Errorf("invalid module name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid module name %q", name)
		}
	}
	return nil
}
