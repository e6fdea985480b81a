// Package store provides the durable artifact index interfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/narvanalabs/jsbuilder/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("resource not found")

// ListOptions bounds a listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 100

// ArtifactStore defines operations on the artifact index.
type ArtifactStore interface {
	// Put inserts or replaces the record for rec.Key.
	Put(ctx context.Context, rec *models.ArtifactRecord) error
	// Get retrieves a record by cache key.
	Get(ctx context.Context, key string) (*models.ArtifactRecord, error)
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, key string) error
	// Touch updates the last access time of a record.
	Touch(ctx context.Context, key string, at time.Time) error
	// List retrieves records, most recently created first.
	List(ctx context.Context, opts ListOptions) ([]*models.ArtifactRecord, error)
	// ListAccessedBefore retrieves records last accessed before cutoff.
	ListAccessedBefore(ctx context.Context, cutoff time.Time) ([]*models.ArtifactRecord, error)
	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
}

// Store is the main interface for index storage.
type Store interface {
	// Artifacts returns the ArtifactStore.
	Artifacts() ArtifactStore

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the storage.
	Close() error
}
