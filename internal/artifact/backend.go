package artifact

import (
	"context"
	"errors"
	"sync"
)

// ErrBlobNotFound is returned when a backend holds no bytes for a handle.
var ErrBlobNotFound = errors.New("blob not found")

// Backend holds artifact bytes keyed by handle. Implementations must be safe
// for concurrent use.
type Backend interface {
	Put(ctx context.Context, handle string, data []byte) error
	Get(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
	Close() error
}

// Compile-time interface satisfaction check.
var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps artifact bytes in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

// Put stores a private copy of data under handle.
func (m *MemoryBackend) Put(_ context.Context, handle string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[handle] = cp
	return nil
}

// Get returns the bytes stored under handle. Callers must not modify them.
func (m *MemoryBackend) Get(_ context.Context, handle string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[handle]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return data, nil
}

// Delete drops the bytes stored under handle. Missing handles are ignored.
func (m *MemoryBackend) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, handle)
	return nil
}

// Len reports how many blobs are held.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Close drops all blobs.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = make(map[string][]byte)
	return nil
}
