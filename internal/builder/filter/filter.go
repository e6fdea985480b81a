// Package filter provides the post-processing transforms applied to a
// bundle after the bundler runs.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Built-in filter identifiers.
const (
	Identity       = "identity"
	Banner         = "banner"
	StripSourcemap = "strip-sourcemap"
)

// Input carries the bundle being filtered and what it was built from.
type Input struct {
	// Contents is the bundle text.
	Contents []byte

	// Modules lists the bundled modules in order.
	Modules []string

	// Minified reports whether this is the minified variant.
	Minified bool

	// Ext is the bundle extension, ".js" or ".css".
	Ext string
}

// Filter transforms bundle contents.
type Filter interface {
	Apply(ctx context.Context, in *Input) ([]byte, error)
}

// Func adapts a function to the Filter interface.
type Func func(ctx context.Context, in *Input) ([]byte, error)

// Apply calls f.
func (f Func) Apply(ctx context.Context, in *Input) ([]byte, error) {
	return f(ctx, in)
}

// Registry maps filter identifiers to filters. Filters are registered at
// startup; requests can only select among them.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]Filter
}

// NewRegistry creates a registry holding the built-in filters.
func NewRegistry() *Registry {
	r := &Registry{filters: make(map[string]Filter)}
	r.Register(Identity, Func(identity))
	r.Register(Banner, Func(banner))
	r.Register(StripSourcemap, Func(stripSourcemap))
	return r
}

// Register adds or replaces a filter.
func (r *Registry) Register(id string, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[id] = f
}

// Get returns the filter for id. The empty id selects the identity filter.
func (r *Registry) Get(id string) (Filter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := Canonical(id)
	if key == "" {
		key = Identity
	}
	f, ok := r.filters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, id)
	}
	return f, nil
}

// Has reports whether id names a registered filter.
func (r *Registry) Has(id string) bool {
	_, err := r.Get(id)
	return err == nil
}

// IDs returns the registered filter identifiers, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.filters))
	for id := range r.filters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Canonical returns the canonical form of a filter id. The identity filter
// is always spelled as the empty id so that it never changes a cache key.
func Canonical(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || id == Identity {
		return ""
	}
	return id
}

func identity(_ context.Context, in *Input) ([]byte, error) {
	return in.Contents, nil
}

// banner prepends a comment listing the bundled modules.
func banner(_ context.Context, in *Input) ([]byte, error) {
	var header string
	if in.Minified {
		header = "/*! modules: " + strings.Join(in.Modules, ", ") + " */\n"
	} else {
		header = "/**\n * Custom build\n * modules: " + strings.Join(in.Modules, ", ") + "\n */\n"
	}
	out := make([]byte, 0, len(header)+len(in.Contents))
	out = append(out, header...)
	return append(out, in.Contents...), nil
}

var sourcemapComment = regexp.MustCompile(`(?m)^[ \t]*(?://[#@] sourceMappingURL=[^\n]*|/\*[#@] sourceMappingURL=[^*]*\*/)[ \t]*\n?`)

// stripSourcemap removes sourceMappingURL comments.
func stripSourcemap(_ context.Context, in *Input) ([]byte, error) {
	return sourcemapComment.ReplaceAll(in.Contents, nil), nil
}
