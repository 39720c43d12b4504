// Package artifact manages the lifetime of binary artifacts and the handles
// that reference them. Each slot holds at most one valid handle; storing into
// a slot revokes its previous handle before the new one exists.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seantiz/desolidify/internal/model"
)

var (
	// ErrHandleRevoked is returned when opening a handle that was released or superseded.
	ErrHandleRevoked = errors.New("artifact handle revoked")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("artifact store closed")
)

// Change describes a slot mutation. Handle is empty when the slot was released.
type Change struct {
	Slot   model.Slot
	Handle string
}

// Store owns the handle for every slot and the bytes behind it.
// It is safe for concurrent use.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	slots   map[model.Slot]string
	live    map[string]model.Slot
	subs    map[int]func(Change)
	nextSub int
	closed  bool
}

// NewStore creates a store that keeps bytes in backend.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		slots:   make(map[model.Slot]string),
		live:    make(map[string]model.Slot),
		subs:    make(map[int]func(Change)),
	}
}

// Store installs data as the artifact for slot and returns its new handle.
// The previous handle for slot, if any, is revoked first, so there is never a
// moment where two handles for the same slot are valid.
func (s *Store) Store(ctx context.Context, slot model.Slot, data []byte) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}

	s.revokeLocked(slot)

	handle := model.NewHandle()
	if err := s.backend.Put(ctx, handle, data); err != nil {
		s.mu.Unlock()
		s.notify(Change{Slot: slot})
		return "", fmt.Errorf("store %s artifact: %w", slot, err)
	}
	s.slots[slot] = handle
	s.live[handle] = slot
	s.mu.Unlock()

	liveHandles.WithLabelValues(string(slot)).Inc()
	artifactBytes.WithLabelValues(string(slot)).Observe(float64(len(data)))
	s.logger.Debug("artifact stored", "slot", slot, "handle", handle, "bytes", len(data))

	s.notify(Change{Slot: slot, Handle: handle})
	return handle, nil
}

// Release revokes the handle for slot. Releasing an empty slot is a no-op.
func (s *Store) Release(slot model.Slot) {
	s.mu.Lock()
	released := s.revokeLocked(slot)
	s.mu.Unlock()

	if released {
		s.notify(Change{Slot: slot})
	}
}

// Get returns the current handle for slot.
func (s *Store) Get(slot model.Slot) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.slots[slot]
	return h, ok
}

// Snapshot returns the current handle of every occupied slot.
func (s *Store) Snapshot() map[model.Slot]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Slot]string, len(s.slots))
	for k, v := range s.slots {
		out[k] = v
	}
	return out
}

// Valid reports whether handle is currently live.
func (s *Store) Valid(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[handle]
	return ok
}

// Open returns the bytes behind a live handle.
func (s *Store) Open(ctx context.Context, handle string) ([]byte, error) {
	s.mu.Lock()
	_, ok := s.live[handle]
	s.mu.Unlock()
	if !ok {
		return nil, ErrHandleRevoked
	}

	data, err := s.backend.Get(ctx, handle)
	if errors.Is(err, ErrBlobNotFound) {
		// Released between the liveness check and the read.
		return nil, ErrHandleRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return data, nil
}

// Subscribe registers fn to be called after every slot change. Callbacks run
// on the mutating goroutine and must not block.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close releases every slot and closes the backend. Further stores fail.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	var released []model.Slot
	for slot := range s.slots {
		if s.revokeLocked(slot) {
			released = append(released, slot)
		}
	}
	s.closed = true
	s.mu.Unlock()

	for _, slot := range released {
		s.notify(Change{Slot: slot})
	}

	s.mu.Lock()
	s.subs = make(map[int]func(Change))
	s.mu.Unlock()

	return s.backend.Close()
}

// revokeLocked drops the handle for slot and its bytes. Backend failures are
// logged; the handle is invalid either way. Caller must hold s.mu.
func (s *Store) revokeLocked(slot model.Slot) bool {
	old, ok := s.slots[slot]
	if !ok {
		return false
	}
	delete(s.slots, slot)
	delete(s.live, old)
	liveHandles.WithLabelValues(string(slot)).Dec()

	if err := s.backend.Delete(context.Background(), old); err != nil {
		s.logger.Error("failed to delete artifact bytes", "slot", slot, "handle", old, "error", err)
	}
	s.logger.Debug("artifact released", "slot", slot, "handle", old)
	return true
}

func (s *Store) notify(c Change) {
	s.mu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}
