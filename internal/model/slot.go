package model

import "fmt"

// Slot names one of the artifact positions held by a session.
type Slot string

// Slot constants.
const (
	SlotInput   Slot = "input"
	SlotPreview Slot = "preview"
	SlotResult  Slot = "result"
)

// Slots lists every slot in display order.
var Slots = []Slot{SlotInput, SlotPreview, SlotResult}

// ParseSlot converts s to a Slot.
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotInput, SlotPreview, SlotResult:
		return Slot(s), nil
	default:
		return "", fmt.Errorf("unknown slot %q", s)
	}
}
