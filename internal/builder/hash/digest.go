// Package hash derives content-addressed cache keys for build configurations.
package hash

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/narvanalabs/jsbuilder/internal/models"
)

// ErrNilConfig is returned when no configuration is given.
var ErrNilConfig = errors.New("build config is nil")

// keyPattern matches a well-formed cache key.
var keyPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Digest computes the cache key of a normalized configuration.
//
// The hash is fed, in order: the JSON serialization of cfg, the MIME type,
// the filter id when one is set, and the output name when the build is
// delivered as an archive (archive entry names derive from it). Each
// optional field is preceded by a distinct tag byte so that adjacent
// fields can never run together.
func Digest(cfg *models.BuildConfig, filter string) (string, error) {
	if cfg == nil {
		return "", ErrNilConfig
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling build config: %w", err)
	}

	h := sha1.New()
	h.Write(data)
	h.Write([]byte(cfg.MimeType))
	if filter != "" {
		h.Write([]byte{0, 'f'})
		h.Write([]byte(filter))
	}
	if cfg.IsArchive() {
		h.Write([]byte{0, 'n'})
		h.Write([]byte(cfg.OutputName))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsValidKey reports whether key looks like a key produced by Digest.
func IsValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
