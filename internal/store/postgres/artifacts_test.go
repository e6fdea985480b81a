package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/jsbuilder/internal/models"
	"github.com/narvanalabs/jsbuilder/internal/store"
)

func getTestDSN() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// setupTestStore connects to the test database and resets the artifacts table.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := getTestDSN()
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}

	s, err := NewPostgresStore(context.Background(), DefaultConfig(dsn), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s.DB().Exec("DELETE FROM artifacts"); err != nil {
		s.Close()
		t.Fatalf("failed to reset artifacts: %v", err)
	}
	t.Cleanup(func() {
		s.DB().Exec("DELETE FROM artifacts")
		s.Close()
	})
	return s
}

// genArtifactRecord generates artifact records.
func genArtifactRecord() gopter.Gen {
	return gopter.CombineGens(
		gen.RegexMatch(`[0-9a-f]{40}`),
		gen.OneConstOf(models.MimeJavaScript, models.MimeCSS, models.MimeZip),
		gen.Int64Range(0, 1<<30),
		gen.SliceOfN(2, gen.AlphaString()),
	).Map(func(vals []interface{}) *models.ArtifactRecord {
		key := vals[0].(string)
		return &models.ArtifactRecord{
			Key:          key,
			Path:         "/compiled/" + key + ".js",
			MimeType:     vals[1].(string),
			DownloadName: "bundle.js",
			Size:         vals[2].(int64),
			Files:        vals[3].([]string),
			Config:       json.RawMessage(`{"include": ["main"]}`),
		}
	})
}

// TestArtifactRoundTrip checks that a stored record is read back unchanged.
func TestArtifactRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("put then get returns the same record", prop.ForAll(
		func(rec *models.ArtifactRecord) bool {
			if err := s.Artifacts().Put(ctx, rec); err != nil {
				t.Logf("Put: %v", err)
				return false
			}
			got, err := s.Artifacts().Get(ctx, rec.Key)
			if err != nil {
				t.Logf("Get: %v", err)
				return false
			}
			var wantCfg, gotCfg any
			_ = json.Unmarshal(rec.Config, &wantCfg)
			_ = json.Unmarshal(got.Config, &gotCfg)
			return got.Path == rec.Path &&
				got.MimeType == rec.MimeType &&
				got.Size == rec.Size &&
				reflect.DeepEqual(nonNil(got.Files), nonNil(rec.Files)) &&
				reflect.DeepEqual(gotCfg, wantCfg)
		},
		genArtifactRecord(),
	))

	properties.TestingRun(t)
}

func TestArtifactLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	artifacts := s.Artifacts()

	old := time.Now().Add(-48 * time.Hour).UTC().Truncate(time.Microsecond)
	for _, rec := range []*models.ArtifactRecord{
		{Key: "old", Path: "/compiled/old.js", MimeType: models.MimeJavaScript, CreatedAt: old, AccessedAt: old},
		{Key: "new", Path: "/compiled/new.zip", MimeType: models.MimeZip},
	} {
		if err := artifacts.Put(ctx, rec); err != nil {
			t.Fatalf("Put(%s): %v", rec.Key, err)
		}
	}

	if n, err := artifacts.Count(ctx); err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	list, err := artifacts.List(ctx, store.ListOptions{Limit: 10})
	if err != nil || len(list) != 2 || list[0].Key != "new" {
		t.Fatalf("List = %v, %v", list, err)
	}

	stale, err := artifacts.ListAccessedBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || len(stale) != 1 || stale[0].Key != "old" {
		t.Fatalf("ListAccessedBefore = %v, %v", stale, err)
	}

	if err := artifacts.Touch(ctx, "old", time.Now()); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	stale, _ = artifacts.ListAccessedBefore(ctx, time.Now().Add(-24*time.Hour))
	if len(stale) != 0 {
		t.Errorf("touched record still stale: %v", stale)
	}
	if err := artifacts.Touch(ctx, "missing", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch missing: %v", err)
	}

	if err := artifacts.Delete(ctx, "old"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := artifacts.Get(ctx, "old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
