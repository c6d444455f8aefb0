package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is written into every store file. Loads accept any file
// whose major version matches.
const SchemaVersion = "1.1.0"

// ErrSchemaIncompatible rejects a store written by a different major
// schema revision.
var ErrSchemaIncompatible = errors.New("position store schema incompatible")

// PositionStore persists paper positions. Implementations must survive
// a process restart with the full position set intact.
type PositionStore interface {
	Load(ctx context.Context) ([]Position, error)
	Upsert(ctx context.Context, p Position) error
	Delete(ctx context.Context, id string) error
}

// storeFile is the on-disk layout of the file-backed store.
type storeFile struct {
	SchemaVersion string     `json:"schema_version"`
	Positions     []Position `json:"positions"`
}

// FileStore keeps positions in a single JSON file, rewritten atomically
// on every change.
type FileStore struct {
	mu        sync.Mutex
	path      string
	positions map[string]Position
	loaded    bool
}

// NewFileStore creates a store backed by the given path. The file is
// created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:      path,
		positions: make(map[string]Position),
	}
}

// Load reads the full position set. A missing file is an empty store.
func (s *FileStore) Load(_ context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read position store: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse position store: %w", err)
	}
	if err := checkSchema(f.SchemaVersion); err != nil {
		return nil, err
	}

	s.positions = make(map[string]Position, len(f.Positions))
	for _, p := range f.Positions {
		s.positions[p.ID] = p
	}
	s.loaded = true
	return append([]Position(nil), f.Positions...), nil
}

// Upsert writes a position and flushes the file.
func (s *FileStore) Upsert(_ context.Context, p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return s.flushLocked()
}

// Delete removes a position and flushes the file.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	ids := make([]string, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	f := storeFile{SchemaVersion: SchemaVersion, Positions: make([]Position, 0, len(ids))}
	for _, id := range ids {
		f.Positions = append(f.Positions, s.positions[id])
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal position store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write position store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace position store: %w", err)
	}
	return nil
}

func checkSchema(version string) error {
	if version == "" {
		return fmt.Errorf("%w: missing schema version", ErrSchemaIncompatible)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: bad schema version %q", ErrSchemaIncompatible, version)
	}
	current := semver.MustParse(SchemaVersion)
	if v.Major() != current.Major() {
		return fmt.Errorf("%w: file schema %s, supported %s", ErrSchemaIncompatible, version, SchemaVersion)
	}
	return nil
}
