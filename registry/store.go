// Package registry persists the fleet's device announcements: a map from
// device id to its last-seen announcement payload.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Announcement is a free-form device announcement. It must carry a
// non-empty "id" field; Store.Upsert uses that field as the map key.
type Announcement map[string]any

// ID returns the announcement's id field, or "" if absent or not a string.
func (a Announcement) ID() string {
	id, _ := a["id"].(string)
	return id
}

// Store is an in-memory registry of device announcements backed by a JSON
// snapshot on disk. The in-memory map is the authority; Save is a
// best-effort mirror, never a dependency for correctness within a process
// lifetime.
type Store struct {
	path string

	mu      sync.Mutex
	devices map[string]Announcement
}

// NewStore returns a Store that persists to path. Call Load to populate it
// from disk before use.
func NewStore(path string) *Store {
	return &Store{path: path, devices: make(map[string]Announcement)}
}

// Load reads the snapshot at s.path into memory, replacing whatever is
// currently held. A missing file is treated as an empty registry, not an
// error. A corrupt file is also treated as empty, but logged at WARN.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.devices = make(map[string]Announcement)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("registry: read %s: %w", s.path, err)
	}

	var devices map[string]Announcement
	if err := json.Unmarshal(data, &devices); err != nil {
		slog.Warn("registry snapshot is corrupt, starting empty", "path", s.path, "error", err)
		devices = make(map[string]Announcement)
	}

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	return nil
}

// Upsert stores a under its own id, overwriting any prior announcement for
// that device. It returns an error if a has no id.
func (s *Store) Upsert(a Announcement) error {
	id := a.ID()
	if id == "" {
		return fmt.Errorf("registry: announcement missing id")
	}
	s.mu.Lock()
	s.devices[id] = a
	s.mu.Unlock()
	return nil
}

// List returns every announcement currently held, in no particular order.
func (s *Store) List() []Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Announcement, 0, len(s.devices))
	for _, a := range s.devices {
		out = append(out, a)
	}
	return out
}

// Save writes the current registry to disk atomically: the map is copied
// under the lock, then serialized, written to a temporary sibling file and
// renamed into place outside the lock, so a concurrent Upsert is never
// blocked on disk I/O.
func (s *Store) Save() error {
	s.mu.Lock()
	snapshot := make(map[string]Announcement, len(s.devices))
	for id, a := range s.devices {
		snapshot[id] = a
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: create %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(s.path), uuid.NewString()[:8]))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("registry: rename snapshot into place: %w", err)
	}
	return nil
}
