package storage

import (
	"errors"
	"regexp"
	"sort"
	"sync"

	"github.com/eugenenazirov/confreg/internal/registry"
)

// DefaultCapacity bounds the number of stored snapshots.
const DefaultCapacity = 32

var (
	// ErrInvalidSnapshotName indicates the name violates naming rules.
	ErrInvalidSnapshotName = errors.New("snapshot name must match [a-zA-Z0-9._-]{1,64}")
	// ErrSnapshotNotFound indicates no snapshot is stored under the name.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrStorageFull indicates the store reached its capacity.
	ErrStorageFull = errors.New("snapshot storage is full")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// Storage keeps named configuration snapshots.
type Storage interface {
	Put(name string, snap registry.Snapshot) error
	Get(name string) (registry.Snapshot, error)
	List() []string
	Delete(name string) error
}

// MemoryStorage keeps snapshots in-memory and guards access with a RWMutex.
// Snapshots are immutable, so they are shared without copying.
type MemoryStorage struct {
	mu        sync.RWMutex
	capacity  int
	snapshots map[string]registry.Snapshot
}

// NewMemoryStorage initialises an empty store holding up to capacity
// snapshots; a non-positive capacity selects DefaultCapacity.
func NewMemoryStorage(capacity int) *MemoryStorage {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStorage{
		capacity:  capacity,
		snapshots: make(map[string]registry.Snapshot),
	}
}

// ValidName reports whether name is acceptable as a snapshot name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Put stores snap under name, replacing any previous snapshot of that name.
func (s *MemoryStorage) Put(name string, snap registry.Snapshot) error {
	if !ValidName(name) {
		return ErrInvalidSnapshotName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[name]; !exists && len(s.snapshots) >= s.capacity {
		return ErrStorageFull
	}
	s.snapshots[name] = snap
	return nil
}

// Get returns the snapshot stored under name.
func (s *MemoryStorage) Get(name string) (registry.Snapshot, error) {
	if !ValidName(name) {
		return registry.Snapshot{}, ErrInvalidSnapshotName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[name]
	if !ok {
		return registry.Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

// List returns the stored snapshot names sorted.
func (s *MemoryStorage) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.snapshots))
	for name := range s.snapshots {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Delete removes the snapshot stored under name.
func (s *MemoryStorage) Delete(name string) error {
	if !ValidName(name) {
		return ErrInvalidSnapshotName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[name]; !ok {
		return ErrSnapshotNotFound
	}
	delete(s.snapshots, name)
	return nil
}
