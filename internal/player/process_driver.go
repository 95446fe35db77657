/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/segment"
)

// ProcessDriver runs one GStreamer playback process per slot. Process exit is
// the end-of-item signal. Pause and SeekToStart terminate the process so the
// next Play restarts the clip from frame zero.
type ProcessDriver struct {
	bin    string
	logger zerolog.Logger

	mu    sync.Mutex
	slots [2]slotProcess
}

type slotProcess struct {
	ref  segment.Ref
	cmd  *exec.Cmd
	done chan struct{}
}

// NewProcessDriver constructs a driver launching pipelines with bin
// (typically gst-launch-1.0).
func NewProcessDriver(bin string, logger zerolog.Logger) *ProcessDriver {
	return &ProcessDriver{
		bin:    bin,
		logger: logger.With().Str("component", "process_driver").Logger(),
	}
}

// Load records the reference for a slot. The decode process itself is
// launched lazily on Play; Load validates that the source exists so missing
// media fails here rather than mid-playback.
func (d *ProcessDriver) Load(ctx context.Context, slot Slot, ref segment.Ref) error {
	if _, err := os.Stat(string(ref)); err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	d.mu.Lock()
	d.slots[slot].ref = ref
	d.mu.Unlock()
	return nil
}

// Play launches the playback process for the slot's loaded reference.
func (d *ProcessDriver) Play(slot Slot, onEnd func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sp := &d.slots[slot]
	if sp.ref == "" {
		return fmt.Errorf("slot %s has no loaded reference", slot)
	}
	if sp.cmd != nil && sp.done != nil {
		select {
		case <-sp.done:
			// Previous process has exited, ok to start a new one
		default:
			return fmt.Errorf("slot %s already playing", slot)
		}
	}

	cmd := exec.Command(d.bin, launchArgs(sp.ref)...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start playback process: %w", err)
	}

	sp.cmd = cmd
	sp.done = make(chan struct{})

	go func(done chan struct{}, c *exec.Cmd, ref segment.Ref) {
		err := c.Wait()
		close(done)
		if err != nil {
			d.logger.Debug().Err(err).Str("slot", slot.String()).Str("ref", string(ref)).Msg("playback process exited")
		} else {
			d.logger.Debug().Str("slot", slot.String()).Str("ref", string(ref)).Msg("playback process finished")
		}
		if onEnd != nil {
			onEnd()
		}
	}(sp.done, cmd, sp.ref)

	return nil
}

// launchArgs builds the playback pipeline argv. Elements are handed to the
// process directly, never through a shell, so the source path is passed
// through verbatim whatever characters it contains.
func launchArgs(ref segment.Ref) []string {
	return []string{
		"filesrc", "location=" + string(ref),
		"!", "decodebin",
		"!", "videoconvert",
		"!", "queue", "max-size-buffers=0", "max-size-time=0",
		"!", "autovideosink", "sync=true",
	}
}

// Pause terminates the slot's playback process.
func (d *ProcessDriver) Pause(slot Slot) error {
	d.mu.Lock()
	cmd := d.slots[slot].cmd
	done := d.slots[slot].done
	d.mu.Unlock()

	return stopProcess(cmd, done)
}

// SeekToStart resets the slot to frame zero. With a process per clip that
// means ensuring no process is running; the next Play starts clean.
func (d *ProcessDriver) SeekToStart(slot Slot) error {
	return d.Pause(slot)
}

// Close stops both slots' processes.
func (d *ProcessDriver) Close() error {
	var lastErr error
	for _, slot := range []Slot{SlotA, SlotB} {
		if err := d.Pause(slot); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func stopProcess(cmd *exec.Cmd, done chan struct{}) error {
	if cmd == nil || done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-time.After(5 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-done:
		// Process exited normally
	}

	return nil
}
