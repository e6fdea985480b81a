// Package catalog serves the module catalog: the list of modules a client
// can pick from, stamped with the version of the source tree.
//
// The catalog is authored as JSONC (JSON with comments and trailing
// commas). Its "version" object receives the "version" field of the
// source tree's package.json.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/tidwall/jsonc"
)

var (
	// ErrNotObject is returned when the catalog is not a JSON object.
	ErrNotObject = errors.New("catalog must be a JSON object")

	// ErrInvalidCallback is returned for a JSONP callback that is not a
	// dotted JavaScript identifier.
	ErrInvalidCallback = errors.New("invalid JSONP callback")
)

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// Catalog reads the catalog and package manifest from disk on each load so
// that edits are picked up without a restart.
type Catalog struct {
	path        string
	packagePath string
}

// New creates a Catalog. packagePath may be empty.
func New(path, packagePath string) *Catalog {
	return &Catalog{path: path, packagePath: packagePath}
}

// Load returns the catalog document with the package version applied.
func (c *Catalog) Load() (map[string]any, error) {
	doc, err := readObject(c.path)
	if err != nil {
		return nil, err
	}

	version, err := c.packageVersion()
	if err != nil {
		return nil, err
	}
	if version != "" {
		v, ok := doc["version"].(map[string]any)
		if !ok {
			v = make(map[string]any)
		}
		v["version"] = version
		doc["version"] = v
	}
	return doc, nil
}

// JSON returns the catalog serialized as JSON.
func (c *Catalog) JSON() ([]byte, error) {
	doc, err := c.Load()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling catalog: %w", err)
	}
	return data, nil
}

// JSONP returns the catalog wrapped in a call to callback.
func (c *Catalog) JSONP(callback string) ([]byte, error) {
	if !ValidCallback(callback) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCallback, callback)
	}
	data, err := c.JSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(callback) + len(data) + 3)
	buf.WriteString(callback)
	buf.WriteByte('(')
	buf.Write(data)
	buf.WriteString(");")
	return buf.Bytes(), nil
}

// ValidCallback reports whether name may be used as a JSONP callback.
func ValidCallback(name string) bool {
	return callbackPattern.MatchString(name)
}

func (c *Catalog) packageVersion() (string, error) {
	if c.packagePath == "" {
		return "", nil
	}
	pkg, err := readObject(c.packagePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	version, _ := pkg["version"].(string)
	return version, nil
}

func readObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotObject)
	}
	return obj, nil
}
