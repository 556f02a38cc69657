package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// Registry is the file-backed Store: one human-readable JSON document per
// machine under <baseDir>/machines. Every write goes to a temporary file
// that is synced and renamed over the old record, so a crash mid-write
// leaves either the old or the new record, never a mix. Registries in
// separate processes may share baseDir; LockID serializes them per id
// through <id>.lock files next to the records.
type Registry struct {
	dir string

	// mu keeps List from observing a directory with a half-applied write.
	mu sync.RWMutex
}

// NewRegistry creates a registry rooted at baseDir.
func NewRegistry(baseDir string) (*Registry, error) {
	dir := filepath.Join(baseDir, "machines")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	return &Registry{dir: dir}, nil
}

// Dir returns the directory holding the machine records.
func (r *Registry) Dir() string {
	return r.dir
}

func (r *Registry) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

// List reads every record in the registry.
func (r *Registry) List(ctx context.Context, includeStopped bool) ([]Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	machines := make([]Machine, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		// Temporary files from interrupted writes start with a dot.
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		m, err := r.load(filepath.Join(r.dir, name))
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}

	return sortMachines(machines, includeStopped), nil
}

// Get returns the record for id.
func (r *Registry) Get(ctx context.Context, id string) (Machine, error) {
	if !ValidID(id) {
		return Machine{}, &NotFoundError{ID: id}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, err := r.load(r.path(id))
	if os.IsNotExist(err) {
		return Machine{}, &NotFoundError{ID: id}
	}
	return m, err
}

// Upsert atomically writes m.
func (r *Registry) Upsert(ctx context.Context, m Machine) error {
	if !ValidID(m.ID) {
		return &ValidationError{Field: "id", Message: fmt.Sprintf("%q is not a valid machine id", m.ID)}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal machine %s: %w", m.ID, err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := renameio.WriteFile(r.path(m.ID), data, 0644); err != nil {
		return fmt.Errorf("write machine %s: %w", m.ID, err)
	}
	return nil
}

// Delete removes the record for id.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return &NotFoundError{ID: id}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{ID: id}
		}
		return fmt.Errorf("remove machine %s: %w", id, err)
	}
	return nil
}

// Close is a no-op; the registry holds no open handles.
func (r *Registry) Close() error {
	return nil
}

// load reads one record. The returned error satisfies os.IsNotExist for a
// missing file.
func (r *Registry) load(path string) (Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Machine{}, err
		}
		return Machine{}, fmt.Errorf("read machine: %w", err)
	}

	var m Machine
	if err := json.Unmarshal(data, &m); err != nil {
		return Machine{}, fmt.Errorf("parse machine %s: %w", filepath.Base(path), err)
	}
	return m, nil
}
