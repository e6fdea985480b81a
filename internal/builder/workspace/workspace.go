// Package workspace manages the per-build staging directories.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyRoot is returned when no staging root is configured.
var ErrEmptyRoot = errors.New("staging root not configured")

// Workspace is a staging directory owned by one build.
type Workspace struct {
	// Dir is the absolute workspace path.
	Dir string

	// CreatedAt is when the workspace name was allocated.
	CreatedAt time.Time
}

// Manager allocates workspaces under a staging root.
type Manager struct {
	root string
	now  func() time.Time
}

// NewManager creates a new Manager rooted at root.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving staging root: %w", err)
	}
	return &Manager{root: abs, now: time.Now}, nil
}

// Root returns the staging root.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates and creates a new workspace named
// <unix-nanos>-<random suffix>. An already existing directory is not an
// error.
func (m *Manager) Create() (*Workspace, error) {
	now := m.now()
	name := strconv.FormatInt(now.UnixNano(), 10) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	ws := &Workspace{Dir: filepath.Join(m.root, name), CreatedAt: now}
	if err := ws.Ensure(); err != nil {
		return nil, err
	}
	return ws, nil
}

// Ensure creates the workspace directory. An existing directory counts as
// success.
func (w *Workspace) Ensure() error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("creating workspace %s: %w", w.Dir, err)
	}
	return nil
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("removing workspace %s: %w", w.Dir, err)
	}
	return nil
}

// Stale returns the workspaces under the staging root created before
// cutoff. Workspaces of builds that were interrupted are never removed
// otherwise.
func (m *Manager) Stale(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading staging root: %w", err)
	}

	var stale []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		created, ok := parseCreated(entry.Name())
		if !ok {
			continue
		}
		if created.Before(cutoff) {
			stale = append(stale, filepath.Join(m.root, entry.Name()))
		}
	}
	return stale, nil
}

// parseCreated extracts the creation time from a workspace name.
func parseCreated(name string) (time.Time, bool) {
	prefix, _, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
