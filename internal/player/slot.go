/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

// Slot identifies one of exactly two decoder handles. The index is the
// discriminator; slots are interchangeable and compared only by index.
type Slot int

const (
	SlotA Slot = 0
	SlotB Slot = 1
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// String returns the slot label.
func (s Slot) String() string {
	if s == SlotA {
		return "A"
	}
	return "B"
}

// SlotState enumerates decoder slot states.
type SlotState string

const (
	SlotIdle    SlotState = "idle"
	SlotLoaded  SlotState = "loaded"
	SlotPlaying SlotState = "playing"
	SlotPaused  SlotState = "paused"
)
