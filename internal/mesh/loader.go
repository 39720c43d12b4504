package mesh

import (
	"context"
	"fmt"
)

// Opener resolves an artifact handle to its bytes.
type Opener interface {
	Open(ctx context.Context, handle string) ([]byte, error)
}

// Loader fetches and decodes meshes by artifact handle.
type Loader struct {
	src Opener
}

// NewLoader creates a loader reading through src.
func NewLoader(src Opener) *Loader {
	return &Loader{src: src}
}

// Load opens handle and decodes it as STL. It returns ctx.Err() if ctx ends
// before decoding finishes.
func (l *Loader) Load(ctx context.Context, handle string) (*Geometry, error) {
	data, err := l.src.Open(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", handle, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := DecodeSTL(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", handle, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g, nil
}
