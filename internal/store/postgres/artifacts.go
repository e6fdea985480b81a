package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/jsbuilder/internal/models"
	"github.com/narvanalabs/jsbuilder/internal/store"
)

// ArtifactStore implements store.ArtifactStore using PostgreSQL.
type ArtifactStore struct {
	db     queryable
	logger *slog.Logger
}

const artifactColumns = `key, path, mime_type, download_name, size, files, config, created_at, accessed_at`

// Put inserts or replaces the record for rec.Key. The creation time of an
// existing record is kept.
func (s *ArtifactStore) Put(ctx context.Context, rec *models.ArtifactRecord) error {
	query := `
		INSERT INTO artifacts (` + artifactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			path = EXCLUDED.path,
			mime_type = EXCLUDED.mime_type,
			download_name = EXCLUDED.download_name,
			size = EXCLUDED.size,
			files = EXCLUDED.files,
			config = EXCLUDED.config,
			accessed_at = EXCLUDED.accessed_at
		RETURNING created_at, accessed_at`

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = rec.CreatedAt
	}

	files, err := json.Marshal(nonNil(rec.Files))
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}

	// Handle nullable config
	var config sql.NullString
	if len(rec.Config) > 0 {
		config = sql.NullString{String: string(rec.Config), Valid: true}
	}

	err = s.db.QueryRowContext(ctx, query,
		rec.Key,
		rec.Path,
		rec.MimeType,
		rec.DownloadName,
		rec.Size,
		string(files),
		config,
		rec.CreatedAt,
		rec.AccessedAt,
	).Scan(&rec.CreatedAt, &rec.AccessedAt)
	if err != nil {
		return fmt.Errorf("upserting artifact: %w", err)
	}

	return nil
}

// Get retrieves a record by cache key.
func (s *ArtifactStore) Get(ctx context.Context, key string) (*models.ArtifactRecord, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE key = $1`

	rec, err := scanArtifact(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying artifact: %w", err)
	}
	return rec, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
	}
	return nil
}

// Touch updates the last access time of a record.
func (s *ArtifactStore) Touch(ctx context.Context, key string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE artifacts SET accessed_at = $2 WHERE key = $1`, key, at.UTC())
	if err != nil {
		return fmt.Errorf("touching artifact: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List retrieves records, most recently created first.
func (s *ArtifactStore) List(ctx context.Context, opts store.ListOptions) ([]*models.ArtifactRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	query := `SELECT ` + artifactColumns + ` FROM artifacts
		ORDER BY created_at DESC, key
		LIMIT $1 OFFSET $2`

	return s.query(ctx, query, limit, opts.Offset)
}

// ListAccessedBefore retrieves records last accessed before cutoff, oldest first.
func (s *ArtifactStore) ListAccessedBefore(ctx context.Context, cutoff time.Time) ([]*models.ArtifactRecord, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts
		WHERE accessed_at < $1
		ORDER BY accessed_at`

	return s.query(ctx, query, cutoff.UTC())
}

// Count returns the number of records.
func (s *ArtifactStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting artifacts: %w", err)
	}
	return n, nil
}

func (s *ArtifactStore) query(ctx context.Context, query string, args ...any) ([]*models.ArtifactRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ArtifactRecord, 0)
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artifacts: %w", err)
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (*models.ArtifactRecord, error) {
	rec := &models.ArtifactRecord{}
	var files []byte
	var config sql.NullString

	if err := row.Scan(
		&rec.Key,
		&rec.Path,
		&rec.MimeType,
		&rec.DownloadName,
		&rec.Size,
		&files,
		&config,
		&rec.CreatedAt,
		&rec.AccessedAt,
	); err != nil {
		return nil, err
	}

	if len(files) > 0 {
		if err := json.Unmarshal(files, &rec.Files); err != nil {
			return nil, fmt.Errorf("unmarshaling files: %w", err)
		}
	}
	if config.Valid {
		rec.Config = json.RawMessage(config.String)
	}
	return rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
