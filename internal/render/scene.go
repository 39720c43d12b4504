// Package render is a small software renderer for triangle meshes. A Scene
// holds a rotatable root group, lights and a background; a Surface rasterizes
// it through a perspective Camera into an RGBA frame.
package render

import (
	"image/color"
	"math"
	"slices"
	"sync"

	"github.com/seantiz/desolidify/internal/mesh"
)

// DefaultMeshColor is the base color of meshes that do not set one.
var DefaultMeshColor = color.RGBA{R: 0x9a, G: 0xb8, B: 0xd6, A: 0xff}

// Mesh is geometry placed in a scene.
type Mesh struct {
	mu       sync.Mutex
	geometry *mesh.Geometry
	color    color.RGBA
	disposed bool
}

// NewMesh wraps g. Normals are computed if g has none.
func NewMesh(g *mesh.Geometry) *Mesh {
	if !g.HasNormals() {
		g.ComputeVertexNormals()
	}
	return &Mesh{geometry: g, color: DefaultMeshColor}
}

// Geometry returns the mesh geometry, or nil after Dispose.
func (m *Mesh) Geometry() *mesh.Geometry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.geometry
}

// SetColor sets the base color.
func (m *Mesh) SetColor(c color.RGBA) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.color = c
}

// Dispose releases the geometry. It is idempotent.
func (m *Mesh) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geometry = nil
	m.disposed = true
}

// Disposed reports whether Dispose has been called.
func (m *Mesh) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Group is a rotatable container of meshes. Rotation is applied about Y
// first, then X.
type Group struct {
	mu        sync.Mutex
	rotationX float64
	rotationY float64
	children  []*Mesh
}

// Add appends m to the group.
func (g *Group) Add(m *Mesh) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.children = append(g.children, m)
}

// Remove detaches m from the group. Removing an absent mesh is a no-op.
func (g *Group) Remove(m *Mesh) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i := slices.Index(g.children, m); i >= 0 {
		g.children = slices.Delete(g.children, i, i+1)
	}
}

// Children returns a copy of the attached meshes.
func (g *Group) Children() []*Mesh {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.children)
}

// Rotate adds dx radians about X and dy radians about Y.
func (g *Group) Rotate(dx, dy float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotationX += dx
	g.rotationY += dy
}

// Rotation returns the current rotation about X and Y in radians.
func (g *Group) Rotation() (x, y float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rotationX, g.rotationY
}

// transform returns a function mapping model space to world space.
func (g *Group) transform() func(mesh.Vec3) mesh.Vec3 {
	rx, ry := g.Rotation()
	sx, cx := math.Sincos(rx)
	sy, cy := math.Sincos(ry)
	return func(v mesh.Vec3) mesh.Vec3 {
		// about Y
		x := v.X*cy + v.Z*sy
		z := -v.X*sy + v.Z*cy
		// about X
		y := v.Y*cx - z*sx
		z = v.Y*sx + z*cx
		return mesh.Vec3{X: x, Y: y, Z: z}
	}
}

// AmbientLight lights every face equally.
type AmbientLight struct {
	Intensity float64
}

// DirectionalLight lights faces by the angle between their normal and the
// direction from the origin toward Position.
type DirectionalLight struct {
	Intensity float64
	Position  mesh.Vec3
}

// Scene is everything a Surface draws.
type Scene struct {
	Root        *Group
	Ambient     *AmbientLight
	Directional *DirectionalLight
	Background  color.RGBA
}

// NewScene returns a scene with an empty root group and no lights.
func NewScene() *Scene {
	return &Scene{
		Root:       &Group{},
		Background: color.RGBA{R: 0x11, G: 0x14, B: 0x18, A: 0xff},
	}
}
