/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/segment"
)

// Driver abstracts the pair of decoder pipelines behind the pool. The onEnd
// callback passed to Play is the sole completion signal for that play cycle;
// drivers invoke it at most once per Play. A callback racing a Pause or a
// later Play on the same slot is dropped by the pool's cycle guard.
type Driver interface {
	Load(ctx context.Context, slot Slot, ref segment.Ref) error
	Play(slot Slot, onEnd func()) error
	Pause(slot Slot) error
	SeekToStart(slot Slot) error
	Close() error
}

// Pool owns exactly two interchangeable decoder slots. One slot is active
// (its output is presented), the other is standby (preloading or idle).
// Swapping the active slot is pure bookkeeping with no decoder side effect.
type Pool struct {
	driver Driver
	logger zerolog.Logger

	mu     sync.Mutex
	active Slot
	loaded [2]segment.Ref
	states [2]SlotState
	gen    [2]uint64
}

// NewPool creates a pool over the given driver with slot A active.
func NewPool(driver Driver, logger zerolog.Logger) *Pool {
	return &Pool{
		driver: driver,
		logger: logger.With().Str("component", "player_pool").Logger(),
		states: [2]SlotState{SlotIdle, SlotIdle},
	}
}

// Load primes a slot with a video reference. Loading a reference that the
// slot already holds is a no-op; redundant decoder setup is exactly what the
// dual-slot design exists to avoid.
func (p *Pool) Load(ctx context.Context, slot Slot, ref segment.Ref) error {
	p.mu.Lock()
	if p.loaded[slot] == ref && p.states[slot] != SlotIdle {
		p.mu.Unlock()
		p.logger.Debug().Str("slot", slot.String()).Str("ref", string(ref)).Msg("slot already primed")
		return nil
	}
	p.mu.Unlock()

	if err := p.driver.Load(ctx, slot, ref); err != nil {
		return fmt.Errorf("load slot %s: %w", slot, err)
	}

	p.mu.Lock()
	p.loaded[slot] = ref
	p.states[slot] = SlotLoaded
	p.mu.Unlock()

	p.logger.Debug().Str("slot", slot.String()).Str("ref", string(ref)).Msg("slot loaded")
	return nil
}

// Play starts playback on a slot. onEnd is registered for this play cycle
// only: it fires at most once, and a cycle superseded by Pause or a later
// Play never delivers a stale end event.
func (p *Pool) Play(slot Slot, onEnd func()) error {
	p.mu.Lock()
	p.gen[slot]++
	cycle := p.gen[slot]
	p.states[slot] = SlotPlaying
	p.mu.Unlock()

	guarded := func() {
		p.mu.Lock()
		if p.gen[slot] != cycle {
			p.mu.Unlock()
			return
		}
		// Retire the cycle so the end signal cannot fire twice.
		p.gen[slot]++
		p.states[slot] = SlotPaused
		p.mu.Unlock()

		if onEnd != nil {
			onEnd()
		}
	}

	if err := p.driver.Play(slot, guarded); err != nil {
		p.mu.Lock()
		p.states[slot] = SlotLoaded
		p.mu.Unlock()
		return fmt.Errorf("play slot %s: %w", slot, err)
	}
	return nil
}

// Pause halts a slot and deregisters its pending end callback.
func (p *Pool) Pause(slot Slot) error {
	p.mu.Lock()
	p.gen[slot]++
	if p.states[slot] == SlotPlaying {
		p.states[slot] = SlotPaused
	}
	p.mu.Unlock()

	if err := p.driver.Pause(slot); err != nil {
		return fmt.Errorf("pause slot %s: %w", slot, err)
	}
	return nil
}

// SeekToStart rewinds a slot to frame zero so a replay starts clean.
func (p *Pool) SeekToStart(slot Slot) error {
	if err := p.driver.SeekToStart(slot); err != nil {
		return fmt.Errorf("seek slot %s: %w", slot, err)
	}
	return nil
}

// Activate marks a slot as the presented one. Bookkeeping only.
func (p *Pool) Activate(slot Slot) {
	p.mu.Lock()
	p.active = slot
	p.mu.Unlock()
}

// ActiveSlot returns the currently presented slot.
func (p *Pool) ActiveSlot() Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// IsActive reports whether the slot's output is presented.
func (p *Pool) IsActive(slot Slot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active == slot
}

// SlotFor returns the slot already holding ref, if any. Callers use this to
// reuse a preloaded standby slot instead of reloading.
func (p *Pool) SlotFor(ref segment.Ref) (Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range []Slot{SlotA, SlotB} {
		if p.loaded[slot] == ref && p.states[slot] != SlotIdle {
			return slot, true
		}
	}
	return SlotA, false
}

// LoadedRef returns the reference currently held by a slot.
func (p *Pool) LoadedRef(slot Slot) segment.Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[slot]
}

// State returns a slot's state.
func (p *Pool) State(slot Slot) SlotState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[slot]
}

// Close tears down both slots. Pending end callbacks are deregistered before
// driver resources are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.gen[SlotA]++
	p.gen[SlotB]++
	p.states = [2]SlotState{SlotIdle, SlotIdle}
	p.loaded = [2]segment.Ref{"", ""}
	p.mu.Unlock()

	if err := p.driver.Close(); err != nil {
		return fmt.Errorf("close driver: %w", err)
	}
	return nil
}
