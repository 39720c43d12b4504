// Package viewer manages the rendering resources of one viewport: acquiring
// the render modules, building the scene once a mount exists, loading meshes
// by artifact handle and tearing everything down.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/seantiz/desolidify/internal/mesh"
	"github.com/seantiz/desolidify/internal/periodic"
	"github.com/seantiz/desolidify/internal/render"
)

// Scene and interaction constants.
const (
	CameraFOV            = 45
	CameraNear           = 0.01
	CameraFar            = 10000
	AmbientIntensity     = 0.6
	DirectionalIntensity = 0.8
	RotatePerPixel       = 0.005
	MinSurfaceSize       = 10
	FrameDistanceScale   = 1.2

	defaultFrameInterval = 50 * time.Millisecond
)

var (
	defaultCameraPosition = mesh.Vec3{X: 100, Y: 120, Z: 160}
	lightPosition         = mesh.Vec3{X: 200, Y: 240, Z: 140}
	frameDirection        = mesh.Vec3{X: 1, Y: 0.9, Z: 1.2}
)

var (
	// ErrDisposed is returned by operations on a disposed viewer.
	ErrDisposed = errors.New("viewer disposed")

	// ErrMounted is returned when mounting a viewer that already has a mount.
	ErrMounted = errors.New("viewer already mounted")
)

// RenderState is the acquisition state of the render modules.
type RenderState int

// Render states.
const (
	Unacquired RenderState = iota
	Acquiring
	Ready
	Failed
)

func (s RenderState) String() string {
	switch s {
	case Unacquired:
		return "unacquired"
	case Acquiring:
		return "acquiring"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("RenderState(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s RenderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MeshLoader loads geometry for an artifact handle.
type MeshLoader interface {
	Load(ctx context.Context, handle string) (*mesh.Geometry, error)
}

// Modules are the components a viewer needs before it can draw.
type Modules struct {
	Engine *render.Engine
	Loader MeshLoader
}

// AcquireFunc obtains the render modules. It runs once per viewer.
type AcquireFunc func(ctx context.Context) (Modules, error)

// Token identifies one Show request. Later tokens supersede earlier ones.
type Token uint64

// Options configures a Viewer.
type Options struct {
	FrameInterval time.Duration
	MeshColor     color.RGBA
}

// Pose is a snapshot of what the viewer is showing.
type Pose struct {
	Name      string             `json:"name"`
	State     RenderState        `json:"state"`
	Handle    string             `json:"handle,omitempty"`
	Loaded    string             `json:"loaded,omitempty"`
	Token     Token              `json:"token"`
	Applied   Token              `json:"applied"`
	RotationX float64            `json:"rotation_x"`
	RotationY float64            `json:"rotation_y"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Camera    render.CameraState `json:"camera"`
	Frames    uint64             `json:"frames"`
	Error     string             `json:"error,omitempty"`
}

// Viewer owns one viewport's render resources. It is safe for concurrent use.
type Viewer struct {
	name   string
	logger *slog.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu         sync.Mutex
	state      RenderState
	acquireErr error
	modules    Modules
	mount      Mount
	setup      bool
	scene      *render.Scene
	camera     *render.Camera
	surface    *render.Surface
	current    *render.Mesh
	width      int
	height     int
	dirty      bool
	dragging   bool
	lastX      float64
	lastY      float64
	desired    string
	loaded     string
	gen        Token
	applied    Token
	loadCancel context.CancelFunc
	lastErr    error
	loop       *periodic.Task
	removers   []func()
	disposed   bool
	watchers   map[int]func(Pose)
	nextWatch  int
}

// New creates a viewer and starts acquiring its modules in the background.
func New(name string, acquire AcquireFunc, opts Options, logger *slog.Logger) *Viewer {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = defaultFrameInterval
	}
	if opts.MeshColor == (color.RGBA{}) {
		opts.MeshColor = render.DefaultMeshColor
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &Viewer{
		name:     name,
		logger:   logger.With("viewport", name),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		state:    Acquiring,
		watchers: make(map[int]func(Pose)),
	}
	go v.acquire(acquire)
	return v
}

// Name returns the viewport name.
func (v *Viewer) Name() string {
	return v.name
}

func (v *Viewer) acquire(fn AcquireFunc) {
	mods, err := fn(v.ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.disposed {
		return
	}
	if err == nil && (mods.Engine == nil || mods.Loader == nil) {
		err = errors.New("incomplete render modules")
	}
	if err != nil {
		v.state = Failed
		v.acquireErr = err
		v.logger.Error("render modules unavailable", "error", err)
		return
	}

	v.state = Ready
	v.modules = mods
	v.scene = render.NewScene()
	v.camera = render.NewPerspectiveCamera(CameraFOV, 1, CameraNear, CameraFar)
	v.camera.SetPosition(defaultCameraPosition)
	v.logger.Debug("render modules ready")

	if v.mount != nil {
		v.setupLocked()
	}
	if v.desired != "" {
		v.startLoadLocked(v.gen, v.desired)
	}
}

// State returns the render state.
func (v *Viewer) State() RenderState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Mount attaches the viewer to m. Setup runs now if the modules are ready,
// otherwise as soon as they are.
func (v *Viewer) Mount(m Mount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.disposed {
		return ErrDisposed
	}
	if v.mount != nil {
		return ErrMounted
	}
	v.mount = m
	if v.state == Ready {
		v.setupLocked()
	}
	return nil
}

// setupLocked builds the surface, lights, listeners and render loop. It runs
// at most once. Caller must hold v.mu.
func (v *Viewer) setupLocked() {
	if v.setup {
		return
	}
	v.setup = true

	w, h := clampSize(v.mount.Size())
	v.width, v.height = w, h
	v.surface = v.modules.Engine.NewSurface(w, h)
	v.mount.Attach(v.surface)
	v.camera.SetAspect(float64(w) / float64(h))

	v.scene.Ambient = &render.AmbientLight{Intensity: AmbientIntensity}
	v.scene.Directional = &render.DirectionalLight{Intensity: DirectionalIntensity, Position: lightPosition}

	v.removers = append(v.removers,
		v.mount.ObserveResize(v.handleResize),
		v.mount.OnPointer(v.handlePointer),
	)
	v.dirty = true
	v.loop = periodic.Start(v.ctx, v.opts.FrameInterval, v.renderTick, periodic.Options{Immediate: true})
	v.logger.Info("viewport set up", "width", w, "height", h)
}

func clampSize(w, h int) (int, int) {
	return max(w, MinSurfaceSize), max(h, MinSurfaceSize)
}

// handleResize re-derives the surface size and camera aspect when the mount
// size actually changed.
func (v *Viewer) handleResize() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.disposed || v.surface == nil {
		return
	}
	w, h := clampSize(v.mount.Size())
	if w == v.width && h == v.height {
		return
	}
	v.width, v.height = w, h
	v.surface.SetSize(w, h)
	v.camera.SetAspect(float64(w) / float64(h))
	v.dirty = true
}

func (v *Viewer) handlePointer(e PointerEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.disposed || v.scene == nil {
		return
	}
	switch e.Type {
	case PointerDown:
		v.dragging = true
		v.lastX, v.lastY = e.X, e.Y
	case PointerMove:
		if !v.dragging {
			return
		}
		dx := (e.X - v.lastX) * RotatePerPixel
		dy := (e.Y - v.lastY) * RotatePerPixel
		v.scene.Root.Rotate(dy, dx)
		v.lastX, v.lastY = e.X, e.Y
		v.dirty = true
	case PointerUp:
		v.dragging = false
	}
}

// renderTick draws a frame if anything changed since the last one.
func (v *Viewer) renderTick(context.Context) {
	v.mu.Lock()
	if v.disposed || v.surface == nil || !v.dirty {
		v.mu.Unlock()
		return
	}
	v.dirty = false
	if err := v.surface.Render(v.scene, v.camera); err != nil {
		v.mu.Unlock()
		v.logger.Error("render failed", "error", err)
		return
	}
	framesTotal.WithLabelValues(v.name).Inc()
	pose := v.poseLocked()
	watchers := make([]func(Pose), 0, len(v.watchers))
	for _, fn := range v.watchers {
		watchers = append(watchers, fn)
	}
	v.mu.Unlock()

	for _, fn := range watchers {
		fn(pose)
	}
}

// Show requests that handle be displayed and returns the request's token.
// An empty handle clears the mesh. Loads for superseded tokens are discarded.
// Before the modules are ready the request is remembered and loaded later.
func (v *Viewer) Show(handle string) Token {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.gen++
	tok := v.gen
	if v.disposed {
		return tok
	}

	v.desired = handle
	if v.loadCancel != nil {
		v.loadCancel()
		v.loadCancel = nil
	}
	if v.state != Ready {
		return tok
	}

	if handle == "" {
		v.clearMeshLocked()
		v.loaded = ""
		v.applied = tok
		v.dirty = true
		return tok
	}
	v.startLoadLocked(tok, handle)
	return tok
}

func (v *Viewer) startLoadLocked(tok Token, handle string) {
	ctx, cancel := context.WithCancel(v.ctx)
	v.loadCancel = cancel
	loader := v.modules.Loader

	go func() {
		defer cancel()
		g, err := loader.Load(ctx, handle)
		v.finishLoad(tok, handle, g, err)
	}()
}

// finishLoad applies a completed load if it is still the latest request.
func (v *Viewer) finishLoad(tok Token, handle string, g *mesh.Geometry, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.disposed || tok != v.gen {
		loadsTotal.WithLabelValues(v.name, loadStale).Inc()
		v.logger.Debug("discarding superseded load", "handle", handle, "token", tok)
		return
	}
	if err != nil {
		loadsTotal.WithLabelValues(v.name, loadError).Inc()
		v.lastErr = err
		v.logger.Warn("mesh load failed", "handle", handle, "error", err)
		return
	}

	if !g.HasNormals() {
		g.ComputeVertexNormals()
	}
	bb := g.Center()

	v.clearMeshLocked()
	m := render.NewMesh(g)
	m.SetColor(v.opts.MeshColor)
	v.scene.Root.Add(m)
	v.current = m

	v.frameCameraLocked(bb.Diagonal())
	v.loaded = handle
	v.applied = tok
	v.lastErr = nil
	v.dirty = true
	loadsTotal.WithLabelValues(v.name, loadOK).Inc()
	v.logger.Info("mesh loaded", "handle", handle, "triangles", g.Triangles())
}

// clearMeshLocked detaches and disposes the current mesh.
func (v *Viewer) clearMeshLocked() {
	if v.current == nil {
		return
	}
	v.scene.Root.Remove(v.current)
	v.current.Dispose()
	v.current = nil
}

// frameCameraLocked places the camera so a mesh with the given bounding
// diagonal, centered on the origin, fills the view.
func (v *Viewer) frameCameraLocked(diagonal float64) {
	if diagonal <= 0 || math.IsNaN(diagonal) || math.IsInf(diagonal, 0) {
		diagonal = 1
	}
	dist := diagonal * FrameDistanceScale
	v.camera.SetPosition(frameDirection.Normalize().Scale(dist))
	v.camera.SetClip(math.Max(CameraNear, dist/100), dist*10)
	v.camera.LookAt(mesh.Vec3{})
}

// Mesh returns the mesh currently attached, or nil.
func (v *Viewer) Mesh() *render.Mesh {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Surface returns the render surface, or nil before setup and after Dispose.
func (v *Viewer) Surface() *render.Surface {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return nil
	}
	return v.surface
}

// Pose returns a snapshot of the viewer.
func (v *Viewer) Pose() Pose {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.poseLocked()
}

func (v *Viewer) poseLocked() Pose {
	p := Pose{
		Name:    v.name,
		State:   v.state,
		Handle:  v.desired,
		Loaded:  v.loaded,
		Token:   v.gen,
		Applied: v.applied,
		Width:   v.width,
		Height:  v.height,
	}
	if v.scene != nil {
		p.RotationX, p.RotationY = v.scene.Root.Rotation()
	}
	if v.camera != nil {
		p.Camera = v.camera.State()
	}
	if v.surface != nil {
		p.Frames = v.surface.Frames()
	}
	switch {
	case v.acquireErr != nil:
		p.Error = v.acquireErr.Error()
	case v.lastErr != nil:
		p.Error = v.lastErr.Error()
	}
	return p
}

// Watch registers fn to receive the pose after every rendered frame. fn runs
// on the render goroutine and must not block.
func (v *Viewer) Watch(fn func(Pose)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextWatch
	v.nextWatch++
	v.watchers[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.watchers, id)
	}
}

// Dispose stops the render loop, removes listeners, discards pending loads
// and releases the mesh and surface. It is idempotent and safe in every
// render state.
func (v *Viewer) Dispose() {
	v.once.Do(func() {
		v.mu.Lock()
		v.disposed = true
		v.gen++
		if v.loadCancel != nil {
			v.loadCancel()
			v.loadCancel = nil
		}
		loop := v.loop
		if loop != nil {
			loop.Stop()
		}
		for _, remove := range v.removers {
			remove()
		}
		v.removers = nil
		if v.scene != nil {
			v.clearMeshLocked()
		}
		if v.surface != nil {
			v.mount.Detach(v.surface)
			v.surface.Dispose()
		}
		v.watchers = make(map[int]func(Pose))
		v.mu.Unlock()

		v.cancel()
		if loop != nil {
			loop.Wait()
		}
		v.logger.Info("viewport disposed")
	})
}

// Disposed reports whether Dispose has been called.
func (v *Viewer) Disposed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disposed
}
