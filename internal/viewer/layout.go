package viewer

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"

	"github.com/seantiz/desolidify/internal/artifact"
	"github.com/seantiz/desolidify/internal/mesh"
	"github.com/seantiz/desolidify/internal/model"
	"github.com/seantiz/desolidify/internal/render"
)

// Mesh colors for source and processed artifacts.
var (
	InputColor     = color.RGBA{R: 0xaa, G: 0xaa, B: 0xaa, A: 0xff}
	ProcessedColor = color.RGBA{R: 0x6a, G: 0xa7, B: 0xff, A: 0xff}
)

// Layout describes one bound viewport. Slots are in priority order.
type Layout struct {
	Name  string
	Slots []model.Slot
	Color color.RGBA
}

// DefaultLayouts is one viewport per slot plus "latest", which follows the
// most processed artifact available.
var DefaultLayouts = []Layout{
	{Name: "input", Slots: []model.Slot{model.SlotInput}, Color: InputColor},
	{Name: "preview", Slots: []model.Slot{model.SlotPreview}, Color: ProcessedColor},
	{Name: "result", Slots: []model.Slot{model.SlotResult}, Color: ProcessedColor},
	{Name: "latest", Slots: []model.Slot{model.SlotResult, model.SlotPreview, model.SlotInput}, Color: ProcessedColor},
}

// OpenLayouts creates a viewer per layout, mounts it on a VirtualMount of
// the given size, binds it to store and adds it to reg. Meshes are decoded
// from store and rendered by engine.
func OpenLayouts(reg *Registry, store *artifact.Store, engine *render.Engine, layouts []Layout, w, h int, opts Options, logger *slog.Logger) error {
	loader := mesh.NewLoader(store)
	acquire := func(context.Context) (Modules, error) {
		return Modules{Engine: engine, Loader: loader}, nil
	}

	for _, l := range layouts {
		vopts := opts
		vopts.MeshColor = l.Color
		v := New(l.Name, acquire, vopts, logger)
		mount := NewVirtualMount(w, h)
		if err := v.Mount(mount); err != nil {
			v.Dispose()
			return fmt.Errorf("mount viewport %s: %w", l.Name, err)
		}
		unbind := Bind(v, store, l.Slots...)
		if err := reg.Add(v, mount, unbind); err != nil {
			unbind()
			v.Dispose()
			return err
		}
	}
	return nil
}
