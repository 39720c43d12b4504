package viewer

import (
	"sync"

	"github.com/seantiz/desolidify/internal/artifact"
	"github.com/seantiz/desolidify/internal/model"
)

// Bind keeps v showing the first slot in slots that holds an artifact. Slots
// are listed in priority order. It returns a function that ends the binding.
func Bind(v *Viewer, store *artifact.Store, slots ...model.Slot) func() {
	var (
		mu     sync.Mutex
		shown  string
		primed bool
	)

	refresh := func() {
		mu.Lock()
		defer mu.Unlock()

		handle := ""
		for _, slot := range slots {
			if h, ok := store.Get(slot); ok {
				handle = h
				break
			}
		}

		if primed && handle == shown {
			return
		}
		primed = true
		shown = handle
		v.Show(handle)
	}

	unsub := store.Subscribe(func(c artifact.Change) {
		for _, slot := range slots {
			if c.Slot == slot {
				refresh()
				return
			}
		}
	})
	refresh()
	return unsub
}
