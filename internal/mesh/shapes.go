package mesh

// NewBox returns a closed axis-aligned box spanning lo to hi as 12 triangles
// with outward winding.
func NewBox(lo, hi Vec3) *Geometry {
	c := [8]Vec3{
		{lo.X, lo.Y, lo.Z}, {hi.X, lo.Y, lo.Z}, {hi.X, hi.Y, lo.Z}, {lo.X, hi.Y, lo.Z},
		{lo.X, lo.Y, hi.Z}, {hi.X, lo.Y, hi.Z}, {hi.X, hi.Y, hi.Z}, {lo.X, hi.Y, hi.Z},
	}
	faces := [12][3]int{
		{0, 2, 1}, {0, 3, 2}, // -Z
		{4, 5, 6}, {4, 6, 7}, // +Z
		{0, 1, 5}, {0, 5, 4}, // -Y
		{3, 6, 2}, {3, 7, 6}, // +Y
		{0, 4, 7}, {0, 7, 3}, // -X
		{1, 2, 6}, {1, 6, 5}, // +X
	}

	g := &Geometry{Positions: make([]Vec3, 0, len(faces)*3)}
	for _, f := range faces {
		g.Positions = append(g.Positions, c[f[0]], c[f[1]], c[f[2]])
	}
	return g
}
