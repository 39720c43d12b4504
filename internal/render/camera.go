package render

import (
	"math"
	"sync"

	"github.com/seantiz/desolidify/internal/mesh"
)

// Camera is a perspective camera looking at Target.
type Camera struct {
	mu       sync.Mutex
	fov      float64
	aspect   float64
	near     float64
	far      float64
	position mesh.Vec3
	target   mesh.Vec3
}

// CameraState is a copy of a camera's parameters.
type CameraState struct {
	FOV      float64   `json:"fov"`
	Aspect   float64   `json:"aspect"`
	Near     float64   `json:"near"`
	Far      float64   `json:"far"`
	Position mesh.Vec3 `json:"position"`
	Target   mesh.Vec3 `json:"target"`
}

// NewPerspectiveCamera creates a camera with a vertical field of view in
// degrees, looking at the origin.
func NewPerspectiveCamera(fov, aspect, near, far float64) *Camera {
	return &Camera{fov: fov, aspect: aspect, near: near, far: far}
}

// SetAspect sets the width to height ratio.
func (c *Camera) SetAspect(aspect float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
}

// SetClip sets the near and far clip distances.
func (c *Camera) SetClip(near, far float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near, c.far = near, far
}

// SetPosition moves the camera.
func (c *Camera) SetPosition(p mesh.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = p
}

// LookAt points the camera at t.
func (c *Camera) LookAt(t mesh.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = t
}

// State returns a copy of the camera parameters.
func (c *Camera) State() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CameraState{
		FOV:      c.fov,
		Aspect:   c.aspect,
		Near:     c.near,
		Far:      c.far,
		Position: c.position,
		Target:   c.target,
	}
}

// view holds the precomputed camera basis for one frame.
type view struct {
	eye                mesh.Vec3
	right, up, forward mesh.Vec3
	tanHalf, aspect    float64
	near, far          float64
}

func (s CameraState) view() view {
	forward := s.Target.Sub(s.Position).Normalize()
	worldUp := mesh.Vec3{Y: 1}
	right := forward.Cross(worldUp)
	if right.Len() < 1e-9 {
		right = forward.Cross(mesh.Vec3{Z: -1})
	}
	right = right.Normalize()
	aspect := s.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	return view{
		eye:     s.Position,
		right:   right,
		up:      right.Cross(forward),
		forward: forward,
		tanHalf: math.Tan(s.FOV * math.Pi / 360),
		aspect:  aspect,
		near:    s.Near,
		far:     s.Far,
	}
}

// project maps a world point to normalized device x, y in [-1, 1] and view
// depth. ok is false when the point lies outside the clip range.
func (v view) project(p mesh.Vec3) (x, y, depth float64, ok bool) {
	d := p.Sub(v.eye)
	depth = d.Dot(v.forward)
	if depth < v.near || depth > v.far {
		return 0, 0, depth, false
	}
	x = d.Dot(v.right) / (depth * v.tanHalf * v.aspect)
	y = d.Dot(v.up) / (depth * v.tanHalf)
	return x, y, depth, true
}
