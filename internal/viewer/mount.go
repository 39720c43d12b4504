package viewer

import (
	"sync"

	"github.com/seantiz/desolidify/internal/render"
)

// PointerType identifies a pointer event.
type PointerType string

// Pointer event types.
const (
	PointerDown PointerType = "down"
	PointerMove PointerType = "move"
	PointerUp   PointerType = "up"
)

// PointerEvent is a pointer action in mount coordinates.
type PointerEvent struct {
	Type PointerType `json:"type"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
}

// Mount is where a viewer's surface is displayed. Registration methods return
// a function that removes the listener.
type Mount interface {
	Size() (w, h int)
	Attach(s *render.Surface)
	Detach(s *render.Surface)
	ObserveResize(fn func()) (remove func())
	OnPointer(fn func(PointerEvent)) (remove func())
}

// VirtualMount is a Mount driven programmatically, for example by a remote
// client over a websocket.
type VirtualMount struct {
	mu       sync.Mutex
	w, h     int
	surface  *render.Surface
	resize   map[int]func()
	pointer  map[int]func(PointerEvent)
	nextID   int
	attaches int
}

var _ Mount = (*VirtualMount)(nil)

// NewVirtualMount creates a mount reporting the given size.
func NewVirtualMount(w, h int) *VirtualMount {
	return &VirtualMount{
		w:       w,
		h:       h,
		resize:  make(map[int]func()),
		pointer: make(map[int]func(PointerEvent)),
	}
}

// Size returns the current mount size.
func (m *VirtualMount) Size() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w, m.h
}

// Resize changes the reported size and notifies resize observers.
func (m *VirtualMount) Resize(w, h int) {
	m.mu.Lock()
	m.w, m.h = w, h
	fns := make([]func(), 0, len(m.resize))
	for _, fn := range m.resize {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Pointer dispatches e to pointer listeners.
func (m *VirtualMount) Pointer(e PointerEvent) {
	m.mu.Lock()
	fns := make([]func(PointerEvent), 0, len(m.pointer))
	for _, fn := range m.pointer {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Attach records s as the displayed surface.
func (m *VirtualMount) Attach(s *render.Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.surface = s
	m.attaches++
}

// Detach clears the displayed surface if it is s.
func (m *VirtualMount) Detach(s *render.Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.surface == s {
		m.surface = nil
	}
}

// Surface returns the attached surface, or nil.
func (m *VirtualMount) Surface() *render.Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surface
}

// Attaches returns how many times a surface has been attached.
func (m *VirtualMount) Attaches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attaches
}

// Listeners returns the number of registered resize and pointer listeners.
func (m *VirtualMount) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resize) + len(m.pointer)
}

// ObserveResize registers fn to run after every Resize.
func (m *VirtualMount) ObserveResize(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.resize[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.resize, id)
	}
}

// OnPointer registers fn to receive pointer events.
func (m *VirtualMount) OnPointer(fn func(PointerEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.pointer[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.pointer, id)
	}
}
