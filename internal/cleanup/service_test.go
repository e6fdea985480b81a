package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/jsbuilder/internal/builder/events"
	"github.com/narvanalabs/jsbuilder/internal/builder/workspace"
	"github.com/narvanalabs/jsbuilder/internal/models"
	"github.com/narvanalabs/jsbuilder/internal/store"
	"github.com/narvanalabs/jsbuilder/internal/store/memory"
)

// fakeCache records invalidated keys.
type fakeCache struct {
	mu   sync.Mutex
	keys []string
}

func (c *fakeCache) InvalidateCacheKey(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) Publish(ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func testKey(n int) string {
	return fmt.Sprintf("%040x", n)
}

// writeArtifact writes a compiled artifact of size bytes last modified at mtime.
func writeArtifact(t *testing.T, dir, name string, size int, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestCleanupArtifactsByFileTime(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := writeArtifact(t, dir, testKey(1)+".js", 10, now.Add(-30*24*time.Hour))
	fresh := writeArtifact(t, dir, testKey(2)+".zip", 10, now)
	other := writeArtifact(t, dir, "README", 10, now.Add(-30*24*time.Hour))

	rec := &recorder{}
	svc, err := NewService(dir, nil, WithEvents(rec))
	if err != nil {
		t.Fatal(err)
	}

	result, err := svc.CleanupArtifacts(context.Background())
	if err != nil {
		t.Fatalf("CleanupArtifacts: %v", err)
	}
	if result.ItemsRemoved != 1 || result.SpaceFreed != 10 {
		t.Errorf("result = %+v", result)
	}
	if exists(old) || !exists(fresh) || !exists(other) {
		t.Errorf("old=%v fresh=%v other=%v", exists(old), exists(fresh), exists(other))
	}
	if len(rec.events) != 1 || rec.events[0].Type != events.TypeArtifactRemoved || rec.events[0].Key != testKey(1) {
		t.Errorf("events = %v", rec.events)
	}
}

func TestCleanupArtifactsUsesIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	now := time.Now()
	longAgo := now.Add(-30 * 24 * time.Hour)
	index := memory.New().Artifacts()
	c := &fakeCache{}

	// Old file, recently used: kept.
	used := writeArtifact(t, dir, testKey(1)+".js", 10, longAgo)
	// Recent file, not used for a long time: removed.
	unused := writeArtifact(t, dir, testKey(2)+".js", 10, now)
	for _, r := range []*models.ArtifactRecord{
		{Key: testKey(1), Path: used, CreatedAt: longAgo, AccessedAt: now},
		{Key: testKey(2), Path: unused, CreatedAt: longAgo, AccessedAt: longAgo},
		{Key: testKey(3), Path: filepath.Join(dir, testKey(3)+".js"), CreatedAt: longAgo, AccessedAt: longAgo},
	} {
		if err := index.Put(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	svc, err := NewService(dir, nil, WithIndex(index), WithCache(c))
	if err != nil {
		t.Fatal(err)
	}
	result, err := svc.CleanupArtifacts(ctx)
	if err != nil {
		t.Fatalf("CleanupArtifacts: %v", err)
	}
	if result.ItemsRemoved != 1 {
		t.Errorf("removed = %d, want 1", result.ItemsRemoved)
	}
	if !exists(used) || exists(unused) {
		t.Errorf("used=%v unused=%v", exists(used), exists(unused))
	}
	for _, key := range []string{testKey(2), testKey(3)} {
		if _, err := index.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("record %s not dropped: %v", key, err)
		}
	}
	if _, err := index.Get(ctx, testKey(1)); err != nil {
		t.Errorf("used record dropped: %v", err)
	}
	if len(c.keys) != 2 {
		t.Errorf("invalidated = %v", c.keys)
	}
}

func TestCleanupWorkspaces(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "staging")
	compiled := filepath.Join(root, "compiled")
	ws, err := workspace.NewManager(staging)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(compiled, 0o755); err != nil {
		t.Fatal(err)
	}

	stale := filepath.Join(staging, fmt.Sprintf("%d-deadbeef", time.Now().Add(-2*time.Hour).UnixNano()))
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	writeArtifact(t, stale, "partial.js", 5, time.Now())
	live, err := ws.Create()
	if err != nil {
		t.Fatal(err)
	}
	temp := writeArtifact(t, compiled, tempPrefix+"123", 7, time.Now().Add(-2*time.Hour))

	svc, err := NewService(compiled, ws)
	if err != nil {
		t.Fatal(err)
	}
	result, err := svc.CleanupWorkspaces(context.Background())
	if err != nil {
		t.Fatalf("CleanupWorkspaces: %v", err)
	}
	if result.ItemsRemoved != 2 || result.SpaceFreed != 12 {
		t.Errorf("result = %+v", result)
	}
	if exists(stale) || exists(temp) || !exists(live.Dir) {
		t.Errorf("stale=%v temp=%v live=%v", exists(stale), exists(temp), exists(live.Dir))
	}
}

func TestTrimToSize(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	oldest := writeArtifact(t, dir, testKey(1)+".js", 100, now.Add(-3*time.Hour))
	middle := writeArtifact(t, dir, testKey(2)+".js", 100, now.Add(-2*time.Hour))
	newest := writeArtifact(t, dir, testKey(3)+".js", 100, now.Add(-time.Hour))

	svc, err := NewService(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := svc.TrimToSize(context.Background(), 150)
	if err != nil {
		t.Fatalf("TrimToSize: %v", err)
	}
	if result.ItemsRemoved != 2 || result.SpaceFreed != 200 {
		t.Errorf("result = %+v", result)
	}
	if exists(oldest) || exists(middle) || !exists(newest) {
		t.Errorf("oldest=%v middle=%v newest=%v", exists(oldest), exists(middle), exists(newest))
	}
}

func TestDiskMonitor(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i := 1; i <= 10; i++ {
		writeArtifact(t, dir, testKey(i)+".js", 100, now.Add(-time.Duration(i)*time.Minute))
	}

	svc, err := NewService(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	if trimmed, err := NewDiskMonitor(svc, 0, nil).Check(context.Background()); err != nil || trimmed {
		t.Errorf("disabled monitor trimmed=%v err=%v", trimmed, err)
	}
	if trimmed, err := NewDiskMonitor(svc, 1200, nil).Check(context.Background()); err != nil || trimmed {
		t.Errorf("warning level trimmed=%v err=%v", trimmed, err)
	}

	m := NewDiskMonitor(svc, 1000, nil)
	trimmed, err := m.Check(context.Background())
	if err != nil || !trimmed {
		t.Fatalf("critical level trimmed=%v err=%v", trimmed, err)
	}
	u, err := m.Usage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if u.Used != 800 || u.Artifacts != 8 {
		t.Errorf("usage after trim = %+v", u)
	}
}

func TestSettingsValidate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("settings are valid iff every period is positive", prop.ForAll(
		func(artifact, ws, interval int64) bool {
			s := &Settings{
				ArtifactRetention:  time.Duration(artifact) * time.Minute,
				WorkspaceRetention: time.Duration(ws) * time.Minute,
				Interval:           time.Duration(interval) * time.Minute,
			}
			valid := artifact > 0 && ws > 0 && interval > 0
			return (s.Validate() == nil) == valid
		},
		gen.Int64Range(-10, 100),
		gen.Int64Range(-10, 100),
		gen.Int64Range(-10, 100),
	))

	properties.TestingRun(t)

	if _, err := NewService(t.TempDir(), nil, WithSettings(&Settings{})); err == nil {
		t.Error("NewService accepted zero settings")
	}
}
