package viewer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned for an unknown viewport name.
var ErrNotFound = errors.New("viewport not found")

type entry struct {
	viewer *Viewer
	mount  *VirtualMount
	unbind func()
}

// Registry holds the named viewports of a process along with the virtual
// mounts that remote clients drive.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Add registers v. mount may be nil when the viewer is mounted elsewhere.
// unbind, if non-nil, is called when the viewer is removed.
func (r *Registry) Add(v *Viewer, mount *VirtualMount, unbind func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[v.Name()]; ok {
		return fmt.Errorf("viewport %q already registered", v.Name())
	}
	r.entries[v.Name()] = entry{viewer: v, mount: mount, unbind: unbind}
	return nil
}

// Get returns the viewer with the given name.
func (r *Registry) Get(name string) (*Viewer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.viewer, nil
}

// Mount returns the virtual mount registered for name, or nil if the viewer
// has none.
func (r *Registry) Mount(name string) (*VirtualMount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.mount, nil
}

// List returns all viewers sorted by name.
func (r *Registry) List() []*Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Viewer, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.viewer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Close unbinds and disposes every viewer.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]entry)
	r.mu.Unlock()

	for _, e := range entries {
		if e.unbind != nil {
			e.unbind()
		}
		e.viewer.Dispose()
	}
}
