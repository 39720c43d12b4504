package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/seantiz/desolidify/internal/mesh"
)

// ErrDisposed is returned when drawing to a disposed surface.
var ErrDisposed = errors.New("surface disposed")

// Engine creates drawing surfaces.
type Engine struct {
	surfaces atomic.Int64
}

// NewEngine returns a software engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewSurface allocates a w×h surface.
func (e *Engine) NewSurface(w, h int) *Surface {
	e.surfaces.Add(1)
	liveSurfaces.Inc()
	s := &Surface{engine: e}
	s.resize(w, h)
	return s
}

// LiveSurfaces returns how many surfaces have been created and not disposed.
func (e *Engine) LiveSurfaces() int {
	return int(e.surfaces.Load())
}

// Surface is a color and depth buffer pair.
type Surface struct {
	engine *Engine

	mu       sync.Mutex
	color    *image.RGBA
	depth    []float64
	frames   uint64
	disposed bool
}

// SetSize reallocates the buffers if the size changed.
func (s *Surface) SetSize(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	if b := s.color.Bounds(); b.Dx() == w && b.Dy() == h {
		return
	}
	s.resize(w, h)
}

func (s *Surface) resize(w, h int) {
	w, h = max(w, 1), max(h, 1)
	s.color = image.NewRGBA(image.Rect(0, 0, w, h))
	s.depth = make([]float64, w*h)
}

// Size returns the buffer dimensions, or zero after Dispose.
func (s *Surface) Size() (w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return 0, 0
	}
	b := s.color.Bounds()
	return b.Dx(), b.Dy()
}

// Frames returns how many frames have been rendered.
func (s *Surface) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Render draws scene as seen from cam.
func (s *Surface) Render(scene *Scene, cam *Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}

	b := s.color.Bounds()
	w, h := b.Dx(), b.Dy()
	bg := scene.Background
	for i := 0; i < len(s.color.Pix); i += 4 {
		s.color.Pix[i], s.color.Pix[i+1], s.color.Pix[i+2], s.color.Pix[i+3] = bg.R, bg.G, bg.B, bg.A
	}
	for i := range s.depth {
		s.depth[i] = math.Inf(1)
	}

	v := cam.State().view()
	toWorld := scene.Root.transform()

	var ambient, directional float64
	var lightDir mesh.Vec3
	if scene.Ambient != nil {
		ambient = scene.Ambient.Intensity
	}
	if scene.Directional != nil {
		directional = scene.Directional.Intensity
		lightDir = scene.Directional.Position.Normalize()
	}

	for _, m := range scene.Root.Children() {
		m.mu.Lock()
		g, base := m.geometry, m.color
		m.mu.Unlock()
		if g == nil {
			continue
		}

		for i := 0; i+2 < len(g.Positions); i += 3 {
			var sx, sy, sz [3]float64
			visible := true
			for k := range 3 {
				x, y, z, ok := v.project(toWorld(g.Positions[i+k]))
				if !ok {
					visible = false
					break
				}
				sx[k] = (x + 1) * 0.5 * float64(w)
				sy[k] = (1 - y) * 0.5 * float64(h)
				sz[k] = z
			}
			if !visible {
				continue
			}

			var n mesh.Vec3
			if len(g.Normals) == len(g.Positions) {
				n = toWorld(g.Normals[i])
			} else {
				a, b, c := toWorld(g.Positions[i]), toWorld(g.Positions[i+1]), toWorld(g.Positions[i+2])
				n = b.Sub(a).Cross(c.Sub(a)).Normalize()
			}
			if n.Dot(v.eye.Sub(toWorld(g.Positions[i]))) < 0 {
				n = n.Scale(-1)
			}
			shade := ambient + directional*math.Max(0, n.Dot(lightDir))
			s.fill(sx, sy, sz, shadeColor(base, shade))
		}
	}

	s.frames++
	return nil
}

// fill rasterizes one screen-space triangle with depth testing.
func (s *Surface) fill(sx, sy, sz [3]float64, c color.RGBA) {
	b := s.color.Bounds()
	w, h := b.Dx(), b.Dy()

	area := edge(sx[0], sy[0], sx[1], sy[1], sx[2], sy[2])
	if area == 0 {
		return
	}

	minX := max(int(math.Floor(min(sx[0], sx[1], sx[2]))), 0)
	maxX := min(int(math.Ceil(max(sx[0], sx[1], sx[2]))), w-1)
	minY := max(int(math.Floor(min(sy[0], sy[1], sy[2]))), 0)
	maxY := min(int(math.Ceil(max(sy[0], sy[1], sy[2]))), h-1)

	for py := minY; py <= maxY; py++ {
		for px := minX; px <= maxX; px++ {
			x, y := float64(px)+0.5, float64(py)+0.5
			w0 := edge(sx[1], sy[1], sx[2], sy[2], x, y) / area
			w1 := edge(sx[2], sy[2], sx[0], sy[0], x, y) / area
			w2 := 1 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*sz[0] + w1*sz[1] + w2*sz[2]
			idx := py*w + px
			if z >= s.depth[idx] {
				continue
			}
			s.depth[idx] = z
			s.color.SetRGBA(px, py, c)
		}
	}
}

func edge(ax, ay, bx, by, px, py float64) float64 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func shadeColor(c color.RGBA, k float64) color.RGBA {
	scale := func(v uint8) uint8 {
		return uint8(math.Min(255, math.Round(float64(v)*k)))
	}
	return color.RGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}

// Snapshot returns a copy of the current color buffer.
func (s *Surface) Snapshot() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrDisposed
	}
	out := image.NewRGBA(s.color.Bounds())
	copy(out.Pix, s.color.Pix)
	return out, nil
}

// EncodePNG writes the current color buffer as PNG.
func (s *Surface) EncodePNG(w io.Writer) error {
	img, err := s.Snapshot()
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Dispose releases the buffers. It is idempotent.
func (s *Surface) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.color = nil
	s.depth = nil
	s.engine.surfaces.Add(-1)
	liveSurfaces.Dec()
}

// Disposed reports whether Dispose has been called.
func (s *Surface) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
