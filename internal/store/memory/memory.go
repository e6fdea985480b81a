// Package memory provides an in-process implementation of the store
// interfaces. The index does not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/narvanalabs/jsbuilder/internal/models"
	"github.com/narvanalabs/jsbuilder/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	artifacts *ArtifactStore
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{artifacts: &ArtifactStore{records: make(map[string]*models.ArtifactRecord)}}
}

// Artifacts returns the ArtifactStore.
func (s *Store) Artifacts() store.ArtifactStore {
	return s.artifacts
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// ArtifactStore implements store.ArtifactStore in memory.
type ArtifactStore struct {
	mu      sync.RWMutex
	records map[string]*models.ArtifactRecord
}

// Put inserts or replaces a record.
func (s *ArtifactStore) Put(ctx context.Context, rec *models.ArtifactRecord) error {
	now := time.Now().UTC()
	stored := clone(rec)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.AccessedAt.IsZero() {
		stored.AccessedAt = stored.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = stored
	rec.CreatedAt, rec.AccessedAt = stored.CreatedAt, stored.AccessedAt
	return nil
}

// Get retrieves a record by key.
func (s *ArtifactStore) Get(ctx context.Context, key string) (*models.ArtifactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(rec), nil
}

// Delete removes a record.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Touch updates the last access time of a record.
func (s *ArtifactStore) Touch(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return store.ErrNotFound
	}
	rec.AccessedAt = at.UTC()
	return nil
}

// List retrieves records, most recently created first.
func (s *ArtifactStore) List(ctx context.Context, opts store.ListOptions) ([]*models.ArtifactRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	all := s.snapshot()
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Key < all[j].Key
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if opts.Offset >= len(all) {
		return []*models.ArtifactRecord{}, nil
	}
	all = all[opts.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListAccessedBefore retrieves records last accessed before cutoff.
func (s *ArtifactStore) ListAccessedBefore(ctx context.Context, cutoff time.Time) ([]*models.ArtifactRecord, error) {
	var out []*models.ArtifactRecord
	for _, rec := range s.snapshot() {
		if rec.AccessedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessedAt.Before(out[j].AccessedAt) })
	return out, nil
}

// Count returns the number of records.
func (s *ArtifactStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *ArtifactStore) snapshot() []*models.ArtifactRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ArtifactRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, clone(rec))
	}
	return out
}

func clone(rec *models.ArtifactRecord) *models.ArtifactRecord {
	c := *rec
	c.Files = append([]string(nil), rec.Files...)
	c.Config = append([]byte(nil), rec.Config...)
	return &c
}
