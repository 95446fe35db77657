/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package export turns a confirmed segment list into a delivered result.
package export

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/merge"
	"github.com/friendsincode/cliploop/internal/segment"
	"github.com/friendsincode/cliploop/internal/telemetry"
)

// Delegate receives export results. A nil reference signals "no result"
// (merge failed and the caller cancelled, or export was abandoned); callers
// must treat it as completion, never as a playable reference.
type Delegate interface {
	OnVideoExported(ref *segment.Ref)
	OnImageExported(ref *segment.Ref)
	OnDismissed()
}

// Settings selects export behavior for single-photo segments.
type Settings struct {
	// PreferMotionExport exports the motion representation of a single photo
	// segment as video when one exists.
	PreferMotionExport bool
}

// State enumerates trigger states.
type State string

const (
	StateIdle      State = "idle"
	StateMerging   State = "merging"
	StateFailed    State = "failed"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
)

// Trigger drives the export flow. Confirm is the sole entry point and is not
// re-entrant: a confirm that lands while a merge is in flight is ignored.
// All delegate calls are serialized, so the caller observes export results
// on a single logical context.
type Trigger struct {
	merger   merge.Service
	delegate Delegate
	bus      events.PubSub
	timeout  time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	state    State
	segments []segment.Segment
	settings Settings

	// serializes delegate callbacks
	dmu sync.Mutex
}

// NewTrigger creates an export trigger.
func NewTrigger(merger merge.Service, delegate Delegate, bus events.PubSub, timeout time.Duration, logger zerolog.Logger) *Trigger {
	return &Trigger{
		merger:   merger,
		delegate: delegate,
		bus:      bus,
		timeout:  timeout,
		logger:   logger.With().Str("component", "export_trigger").Logger(),
		state:    StateIdle,
	}
}

// State returns the current trigger state.
func (t *Trigger) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Confirm starts the export of segments. A single photo segment bypasses the
// merge service entirely; everything else merges asynchronously. A redundant
// confirm while a merge is in flight is ignored rather than surfaced.
func (t *Trigger) Confirm(segments []segment.Segment, settings Settings) error {
	if err := segment.ValidateList(segments); err != nil {
		return err
	}

	t.mu.Lock()
	if t.state == StateMerging {
		t.mu.Unlock()
		t.logger.Warn().Msg("confirm ignored, merge already in flight")
		return nil
	}
	t.segments = segments
	t.settings = settings

	if len(segments) == 1 && segments[0].IsImage() {
		t.state = StateDone
		t.mu.Unlock()
		t.deliverSinglePhoto(segments[0], settings)
		return nil
	}

	t.state = StateMerging
	t.mu.Unlock()

	t.bus.Publish(events.EventExportStarted, events.Payload{"segments": len(segments)})
	go t.runMerge(segments)
	return nil
}

// Retry re-invokes the merge service with the identical segment list after a
// failure. Ignored in any other state.
func (t *Trigger) Retry() {
	t.mu.Lock()
	if t.state != StateFailed {
		t.mu.Unlock()
		t.logger.Warn().Str("state", string(t.state)).Msg("retry ignored")
		return
	}
	t.state = StateMerging
	segments := t.segments
	t.mu.Unlock()

	t.bus.Publish(events.EventExportStarted, events.Payload{"segments": len(segments), "retry": true})
	go t.runMerge(segments)
}

// Cancel abandons a failed export. The delegate still receives completion, as
// a null result, so the caller's surface never sticks on a loading state.
func (t *Trigger) Cancel() {
	t.mu.Lock()
	if t.state != StateFailed {
		t.mu.Unlock()
		t.logger.Warn().Str("state", string(t.state)).Msg("cancel ignored")
		return
	}
	t.state = StateCancelled
	t.mu.Unlock()

	t.bus.Publish(events.EventExportCancelled, events.Payload{})

	t.dmu.Lock()
	t.delegate.OnVideoExported(nil)
	t.dmu.Unlock()
}

// Dismiss reports a dismissal with no export side effects.
func (t *Trigger) Dismiss() {
	t.bus.Publish(events.EventDismissed, events.Payload{})

	t.dmu.Lock()
	t.delegate.OnDismissed()
	t.dmu.Unlock()
}

func (t *Trigger) deliverSinglePhoto(seg segment.Segment, settings Settings) {
	t.dmu.Lock()
	defer t.dmu.Unlock()

	if settings.PreferMotionExport && seg.MotionRef != "" {
		ref := seg.MotionRef
		telemetry.Exports.WithLabelValues("success").Inc()
		t.bus.Publish(events.EventExportFinished, events.Payload{"ref": string(ref), "kind": "video"})
		t.delegate.OnVideoExported(&ref)
		return
	}

	ref := seg.ImageRef
	telemetry.Exports.WithLabelValues("success").Inc()
	t.bus.Publish(events.EventExportFinished, events.Payload{"ref": string(ref), "kind": "image"})
	t.delegate.OnImageExported(&ref)
}

// runMerge owns its own context: the merge must survive the caller's request
// lifetime, bounded only by the configured timeout.
func (t *Trigger) runMerge(segments []segment.Segment) {
	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	ref, err := t.merger.Merge(ctx, segments)
	if err != nil || ref == "" {
		t.mu.Lock()
		t.state = StateFailed
		t.mu.Unlock()

		telemetry.Exports.WithLabelValues("failure").Inc()
		t.logger.Error().Err(err).Msg("merge failed")
		t.bus.Publish(events.EventExportFailed, events.Payload{"error": errString(err)})
		return
	}

	t.mu.Lock()
	t.state = StateDone
	t.mu.Unlock()

	telemetry.Exports.WithLabelValues("success").Inc()
	t.bus.Publish(events.EventExportFinished, events.Payload{"ref": string(ref), "kind": "video"})

	t.dmu.Lock()
	t.delegate.OnVideoExported(&ref)
	t.dmu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return "no output reference"
	}
	return err.Error()
}
