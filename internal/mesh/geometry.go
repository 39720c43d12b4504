// Package mesh decodes STL meshes into triangle geometry.
package mesh

import "math"

// Vec3 is a point or direction in model space.
type Vec3 struct {
	X, Y, Z float64
}

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64   { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Len() float64         { return math.Sqrt(a.Dot(a)) }
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{a.Y*b.Z - a.Z*b.Y, a.Z*b.X - a.X*b.Z, a.X*b.Y - a.Y*b.X}
}

// Normalize returns a unit vector in the direction of a, or the zero vector.
func (a Vec3) Normalize() Vec3 {
	l := a.Len()
	if l == 0 {
		return Vec3{}
	}
	return a.Scale(1 / l)
}

// Box is an axis-aligned bounding box. An empty box has Min > Max.
type Box struct {
	Min, Max Vec3
}

// Empty reports whether the box contains no points.
func (b Box) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Center returns the midpoint of the box.
func (b Box) Center() Vec3 {
	if b.Empty() {
		return Vec3{}
	}
	return b.Min.Add(b.Max).Scale(0.5)
}

// Size returns the extent of the box along each axis.
func (b Box) Size() Vec3 {
	if b.Empty() {
		return Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Diagonal returns the length of the box diagonal.
func (b Box) Diagonal() float64 {
	return b.Size().Len()
}

// Geometry is a non-indexed triangle list: every three positions form one
// triangle. Normals, when present, has one entry per position.
type Geometry struct {
	Positions []Vec3
	Normals   []Vec3
}

// Triangles returns the number of triangles.
func (g *Geometry) Triangles() int {
	return len(g.Positions) / 3
}

// HasNormals reports whether per-vertex normals are present.
func (g *Geometry) HasNormals() bool {
	return len(g.Normals) == len(g.Positions) && len(g.Normals) > 0
}

// ComputeVertexNormals assigns every vertex the normal of its face.
func (g *Geometry) ComputeVertexNormals() {
	g.Normals = make([]Vec3, len(g.Positions))
	for i := 0; i+2 < len(g.Positions); i += 3 {
		a, b, c := g.Positions[i], g.Positions[i+1], g.Positions[i+2]
		n := b.Sub(a).Cross(c.Sub(a)).Normalize()
		g.Normals[i], g.Normals[i+1], g.Normals[i+2] = n, n, n
	}
}

// BoundingBox returns the bounds of all positions.
func (g *Geometry) BoundingBox() Box {
	inf := math.Inf(1)
	b := Box{Min: Vec3{inf, inf, inf}, Max: Vec3{-inf, -inf, -inf}}
	for _, p := range g.Positions {
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Min.Z = math.Min(b.Min.Z, p.Z)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
		b.Max.Z = math.Max(b.Max.Z, p.Z)
	}
	return b
}

// Translate moves every position by d.
func (g *Geometry) Translate(d Vec3) {
	for i := range g.Positions {
		g.Positions[i] = g.Positions[i].Add(d)
	}
}

// Center translates the geometry so its bounding box is centered on the
// origin and returns the box after the move.
func (g *Geometry) Center() Box {
	c := g.BoundingBox().Center()
	g.Translate(c.Scale(-1))
	return g.BoundingBox()
}
