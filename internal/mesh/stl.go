package mesh

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	stlHeaderSize   = 80
	stlFacetSize    = 50
	stlMinBinary    = stlHeaderSize + 4
	maxASCIILineLen = 1 << 20
)

var (
	// ErrEmpty is returned for input without any triangles.
	ErrEmpty = errors.New("mesh has no triangles")

	// ErrFormat is returned for input that is neither binary nor ASCII STL.
	ErrFormat = errors.New("unrecognized STL data")
)

// DecodeSTL parses binary or ASCII STL. Binary is chosen when the triangle
// count in the header matches the data length, which also covers binary files
// whose header starts with "solid". Facet normals are kept only when every
// facet carries a non-zero one.
func DecodeSTL(data []byte) (*Geometry, error) {
	if isBinarySTL(data) {
		return decodeBinary(data)
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("solid")) {
		return decodeASCII(trimmed)
	}
	if len(data) >= stlMinBinary {
		return nil, fmt.Errorf("%w: triangle count does not match length %d", ErrFormat, len(data))
	}
	return nil, ErrFormat
}

func isBinarySTL(data []byte) bool {
	if len(data) < stlMinBinary {
		return false
	}
	n := binary.LittleEndian.Uint32(data[stlHeaderSize:stlMinBinary])
	return uint64(stlMinBinary)+uint64(n)*stlFacetSize == uint64(len(data))
}

func decodeBinary(data []byte) (*Geometry, error) {
	n := int(binary.LittleEndian.Uint32(data[stlHeaderSize:stlMinBinary]))
	if n == 0 {
		return nil, ErrEmpty
	}

	g := &Geometry{
		Positions: make([]Vec3, 0, n*3),
		Normals:   make([]Vec3, 0, n*3),
	}
	keepNormals := true

	off := stlMinBinary
	for range n {
		facet := data[off : off+stlFacetSize]
		normal := readVec(facet[0:12])
		if normal == (Vec3{}) {
			keepNormals = false
		}
		for v := range 3 {
			start := 12 + v*12
			g.Positions = append(g.Positions, readVec(facet[start:start+12]))
			g.Normals = append(g.Normals, normal)
		}
		off += stlFacetSize
	}

	if !keepNormals {
		g.Normals = nil
	}
	return g, nil
}

func readVec(b []byte) Vec3 {
	return Vec3{
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[0:4]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4:8]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:12]))),
	}
}

func decodeASCII(data []byte) (*Geometry, error) {
	g := &Geometry{}
	keepNormals := true
	var (
		normal   Vec3
		inFacet  bool
		vertices int
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64<<10), maxASCIILineLen)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "facet":
			if inFacet {
				return nil, fmt.Errorf("%w: line %d: nested facet", ErrFormat, line)
			}
			inFacet = true
			vertices = 0
			normal = Vec3{}
			if len(fields) == 5 && fields[1] == "normal" {
				v, err := parseVec(fields[2:5])
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
				}
				normal = v
			}
			if normal == (Vec3{}) {
				keepNormals = false
			}
		case "vertex":
			if !inFacet || len(fields) != 4 {
				return nil, fmt.Errorf("%w: line %d: malformed vertex", ErrFormat, line)
			}
			v, err := parseVec(fields[1:4])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
			}
			vertices++
			if vertices > 3 {
				return nil, fmt.Errorf("%w: line %d: facet has more than 3 vertices", ErrFormat, line)
			}
			g.Positions = append(g.Positions, v)
			g.Normals = append(g.Normals, normal)
		case "endfacet":
			if vertices != 3 {
				return nil, fmt.Errorf("%w: line %d: facet has %d vertices", ErrFormat, line, vertices)
			}
			inFacet = false
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ascii stl: %w", err)
	}
	if inFacet {
		return nil, fmt.Errorf("%w: unterminated facet", ErrFormat)
	}
	if len(g.Positions) == 0 {
		return nil, ErrEmpty
	}

	if !keepNormals {
		g.Normals = nil
	}
	return g, nil
}

func parseVec(fields []string) (Vec3, error) {
	var out [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Vec3{}, fmt.Errorf("parse %q: %w", f, err)
		}
		out[i] = v
	}
	return Vec3{out[0], out[1], out[2]}, nil
}

// EncodeBinarySTL writes g as binary STL with a face normal per facet.
func EncodeBinarySTL(g *Geometry) []byte {
	n := g.Triangles()
	buf := make([]byte, stlMinBinary+n*stlFacetSize)
	copy(buf, "binary stl")
	binary.LittleEndian.PutUint32(buf[stlHeaderSize:], uint32(n))

	off := stlMinBinary
	for i := range n {
		a, b, c := g.Positions[i*3], g.Positions[i*3+1], g.Positions[i*3+2]
		normal := b.Sub(a).Cross(c.Sub(a)).Normalize()
		for k, v := range []Vec3{normal, a, b, c} {
			putVec(buf[off+k*12:], v)
		}
		off += stlFacetSize
	}
	return buf
}

func putVec(b []byte, v Vec3) {
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(v.X)))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(float32(v.Y)))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(v.Z)))
}
