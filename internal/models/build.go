// Package models holds the data types shared by the build service packages.
package models

import (
	"encoding/json"
	"time"
)

// RawParams are the textual parameters of a bundle request, exactly as
// received from the route and query string.
type RawParams struct {
	Owner         string `json:"owner"`
	Repo          string `json:"repo"`
	Ref           string `json:"ref"`
	Name          string `json:"name,omitempty"`
	Include       string `json:"include,omitempty"`
	Exclude       string `json:"exclude,omitempty"`
	External      string `json:"external,omitempty"`
	Optimize      string `json:"optimize,omitempty"`
	Wrap          string `json:"wrap,omitempty"`
	Pragmas       string `json:"pragmas,omitempty"`
	PragmasOnSave string `json:"pragmasOnSave,omitempty"`
	Filter        string `json:"filter,omitempty"`
}

// Source identifies the source tree a bundle is built from.
type Source struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Ref   string `json:"ref"`
}

// BuildConfig is the canonical form of a build request. Field order is
// fixed and every list is sorted, so two semantically identical requests
// serialize to the same bytes.
//
// OutputName, OutputExt and MimeType are not part of the serialized form;
// the cache key takes the MIME type (and, for archives, the output name)
// as separate inputs.
type BuildConfig struct {
	Source        Source          `json:"source"`
	Include       []string        `json:"include"`
	Exclude       []string        `json:"exclude"`
	ExternalFirst bool            `json:"externalFirst"`
	Optimize      bool            `json:"optimize"`
	Wrap          json.RawMessage `json:"wrap,omitempty"`
	Pragmas       json.RawMessage `json:"pragmas"`
	PragmasOnSave json.RawMessage `json:"pragmasOnSave"`

	OutputName string `json:"-"`
	OutputExt  string `json:"-"`
	MimeType   string `json:"-"`
}

// IsArchive reports whether the build is delivered as a zip archive.
func (c *BuildConfig) IsArchive() bool {
	return c.MimeType == MimeZip
}

// BaseName returns the output name without its extension.
func (c *BuildConfig) BaseName() string {
	name := c.OutputName
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
		if name[i] == '/' {
			break
		}
	}
	return name
}

// DownloadName returns the name the artifact is delivered under.
func (c *BuildConfig) DownloadName() string {
	if c.IsArchive() {
		return c.OutputName
	}
	return c.BaseName() + c.OutputExt
}

// Artifact is the result of a successful build.
type Artifact struct {
	Key      string    `json:"key"`
	Path     string    `json:"path"`
	MimeType string    `json:"mime_type"`
	Size     int64     `json:"size"`
	Files    []string  `json:"files,omitempty"`
	BuiltAt  time.Time `json:"built_at"`
	Adopted  bool      `json:"adopted,omitempty"`
}

// Delivery describes how a resolved artifact is sent to the caller.
type Delivery struct {
	Key          string `json:"key"`
	Path         string `json:"path"`
	DownloadName string `json:"download_name"`
	MimeType     string `json:"mime_type"`
	Attachment   bool   `json:"attachment"`
}

// ArtifactRecord is the durable index entry of a published artifact.
type ArtifactRecord struct {
	Key          string          `json:"key"`
	Path         string          `json:"path"`
	MimeType     string          `json:"mime_type"`
	DownloadName string          `json:"download_name"`
	Size         int64           `json:"size"`
	Files        []string        `json:"files,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	AccessedAt   time.Time       `json:"accessed_at"`
}
