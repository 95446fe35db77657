/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/export"
	"github.com/friendsincode/cliploop/internal/player"
	"github.com/friendsincode/cliploop/internal/segment"
	"github.com/friendsincode/cliploop/internal/telemetry"
)

type loadCall struct {
	slot player.Slot
	ref  segment.Ref
}

type fakeDriver struct {
	mu     sync.Mutex
	loads  []loadCall
	ends   [2]func()
	loaded chan loadCall
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{loaded: make(chan loadCall, 16)}
}

func (f *fakeDriver) Load(ctx context.Context, slot player.Slot, ref segment.Ref) error {
	f.mu.Lock()
	f.loads = append(f.loads, loadCall{slot: slot, ref: ref})
	f.mu.Unlock()
	f.loaded <- loadCall{slot: slot, ref: ref}
	return nil
}

func (f *fakeDriver) Play(slot player.Slot, onEnd func()) error {
	f.mu.Lock()
	f.ends[slot] = onEnd
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) Pause(slot player.Slot) error       { return nil }
func (f *fakeDriver) SeekToStart(slot player.Slot) error { return nil }
func (f *fakeDriver) Close() error                       { return nil }

func (f *fakeDriver) fireEnd(slot player.Slot) {
	f.mu.Lock()
	end := f.ends[slot]
	f.mu.Unlock()
	if end != nil {
		end()
	}
}

// flakyLoadDriver fails the first n loads, then behaves like fakeDriver.
type flakyLoadDriver struct {
	*fakeDriver
	fmu      sync.Mutex
	failures int
}

func (f *flakyLoadDriver) Load(ctx context.Context, slot player.Slot, ref segment.Ref) error {
	f.fmu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.fmu.Unlock()
	if fail {
		return errors.New("decoder offline")
	}
	return f.fakeDriver.Load(ctx, slot, ref)
}

func (f *fakeDriver) loadCount(slot player.Slot, ref segment.Ref) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.loads {
		if call.slot == slot && call.ref == ref {
			n++
		}
	}
	return n
}

type okMerger struct {
	mu    sync.Mutex
	calls int
}

func (m *okMerger) Merge(ctx context.Context, segments []segment.Segment) (segment.Ref, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return "merged.mp4", nil
}

func (m *okMerger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingDelegate struct {
	videoExported chan *segment.Ref
	imageExported chan *segment.Ref
	dismissed     chan struct{}
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{
		videoExported: make(chan *segment.Ref, 4),
		imageExported: make(chan *segment.Ref, 4),
		dismissed:     make(chan struct{}, 4),
	}
}

func (d *recordingDelegate) OnVideoExported(ref *segment.Ref) { d.videoExported <- ref }
func (d *recordingDelegate) OnImageExported(ref *segment.Ref) { d.imageExported <- ref }
func (d *recordingDelegate) OnDismissed()                     { d.dismissed <- struct{}{} }

type harness struct {
	sched    *Scheduler
	driver   *fakeDriver
	pool     *player.Pool
	bus      *events.Bus
	merger   *okMerger
	delegate *recordingDelegate
}

func newHarness(t *testing.T, segs []segment.Segment, frameInterval time.Duration) *harness {
	t.Helper()
	driver := newFakeDriver()
	logger := zerolog.Nop()
	pool := player.NewPool(driver, logger)
	bus := events.NewBus()
	merger := &okMerger{}
	delegate := newRecordingDelegate()
	trigger := export.NewTrigger(merger, delegate, bus, time.Second, logger)
	sched, err := New(segs, pool, trigger, bus, frameInterval, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })
	return &harness{sched: sched, driver: driver, pool: pool, bus: bus, merger: merger, delegate: delegate}
}

func waitEvent(t *testing.T, ch events.Subscriber) events.Payload {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitLoad(t *testing.T, driver *fakeDriver, slot player.Slot, ref segment.Ref) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case call := <-driver.loaded:
			if call.slot == slot && call.ref == ref {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for load of %s into slot %s", ref, slot)
		}
	}
}

func mixedList() []segment.Segment {
	return []segment.Segment{
		segment.NewVideo("a.mp4"),
		segment.NewImage("b.jpg"),
		segment.NewVideo("c.mp4"),
	}
}

func TestPlaybackOrderWrapsToFirstSegment(t *testing.T) {
	h := newHarness(t, mixedList(), 20*time.Millisecond)
	started := h.bus.Subscribe(events.EventSegmentStarted)
	looped := h.bus.Subscribe(events.EventLooped)

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := waitEvent(t, started)["index"]; got != 0 {
		t.Fatalf("first segment index = %v, want 0", got)
	}
	h.driver.fireEnd(h.pool.ActiveSlot())

	if got := waitEvent(t, started)["index"]; got != 1 {
		t.Fatalf("second segment index = %v, want 1", got)
	}
	// The image timer advances to the last video on its own.
	if got := waitEvent(t, started)["index"]; got != 2 {
		t.Fatalf("third segment index = %v, want 2", got)
	}
	h.driver.fireEnd(h.pool.ActiveSlot())

	waitEvent(t, looped)
	if got := waitEvent(t, started)["index"]; got != 0 {
		t.Fatalf("segment after wrap = %v, want 0", got)
	}
	if idx := h.sched.CurrentIndex(); idx != 0 {
		t.Fatalf("CurrentIndex after wrap = %d, want 0", idx)
	}
}

func TestImageSegmentDisplaysForConfiguredInterval(t *testing.T) {
	interval := 60 * time.Millisecond
	h := newHarness(t, []segment.Segment{segment.NewImage("frame.jpg")}, interval)
	finished := h.bus.Subscribe(events.EventSegmentFinished)

	start := time.Now()
	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, finished)
	if elapsed := time.Since(start); elapsed < interval {
		t.Fatalf("image finished after %v, want at least %v", elapsed, interval)
	}
	if state := h.sched.State(); state != StatePlayingImage {
		t.Fatalf("state after wrap = %s, want %s", state, StatePlayingImage)
	}
}

func TestPreloadedSlotIsNotReloaded(t *testing.T) {
	segs := []segment.Segment{
		segment.NewVideo("a.mp4"),
		segment.NewVideo("b.mp4"),
	}
	h := newHarness(t, segs, 0)
	started := h.bus.Subscribe(events.EventSegmentStarted)

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, started)
	first := h.pool.ActiveSlot()
	waitLoad(t, h.driver, first.Other(), "b.mp4")

	h.driver.fireEnd(first)
	waitEvent(t, started)

	if h.pool.ActiveSlot() != first.Other() {
		t.Fatalf("active slot did not toggle, still %s", h.pool.ActiveSlot())
	}
	if n := h.driver.loadCount(first.Other(), "b.mp4"); n != 1 {
		t.Fatalf("preloaded clip loaded %d times, want 1", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, mixedList(), 20*time.Millisecond)

	h.sched.Stop() // before Start

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sched.Stop()
	h.sched.Stop()
	if state := h.sched.State(); state != StateStopped {
		t.Fatalf("state = %s, want %s", state, StateStopped)
	}

	// A stopped scheduler can start again.
	if err := h.sched.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := h.sched.Start(); err != ErrAlreadyRunning {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStaleEndSignalIsDropped(t *testing.T) {
	h := newHarness(t, mixedList(), time.Hour)
	started := h.bus.Subscribe(events.EventSegmentStarted)

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, started)
	active := h.pool.ActiveSlot()
	h.sched.Stop()

	// The clip's end signal arrives after the stop. It must not restart
	// playback or advance the index.
	h.driver.fireEnd(active)
	if state := h.sched.State(); state != StateStopped {
		t.Fatalf("state after stale end = %s, want %s", state, StateStopped)
	}
	if idx := h.sched.CurrentIndex(); idx != 0 {
		t.Fatalf("index after stale end = %d, want 0", idx)
	}
}

func TestConfirmStopsPlaybackAndExports(t *testing.T) {
	h := newHarness(t, mixedList(), time.Hour)
	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.sched.Confirm(export.Settings{}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if state := h.sched.State(); state != StateExporting {
		t.Fatalf("state = %s, want %s", state, StateExporting)
	}

	select {
	case ref := <-h.delegate.videoExported:
		if ref == nil || *ref != "merged.mp4" {
			t.Fatalf("exported ref = %v, want merged.mp4", ref)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for export result")
	}
	if n := h.merger.callCount(); n != 1 {
		t.Fatalf("merge calls = %d, want 1", n)
	}
}

func TestDismissReportsExactlyOnce(t *testing.T) {
	h := newHarness(t, mixedList(), time.Hour)
	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.sched.Dismiss()
	h.sched.Dismiss()

	select {
	case <-h.delegate.dismissed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dismissal")
	}
	select {
	case <-h.delegate.dismissed:
		t.Fatal("dismissal reported twice")
	case <-time.After(50 * time.Millisecond):
	}
	if n := h.merger.callCount(); n != 0 {
		t.Fatalf("dismiss triggered %d merges, want 0", n)
	}
	if state := h.sched.State(); state != StateStopped {
		t.Fatalf("state = %s, want %s", state, StateStopped)
	}
}

func TestStallWatchdogDetectsWithoutAdvancing(t *testing.T) {
	h := newHarness(t, mixedList(), time.Hour)
	h.sched.EnableStallWatchdog(30 * time.Millisecond)
	stalled := h.bus.Subscribe(events.EventStallDetected)

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	payload := waitEvent(t, stalled)
	if payload["index"] != 0 {
		t.Fatalf("stall index = %v, want 0", payload["index"])
	}
	if state := h.sched.State(); state != StatePlayingVideo {
		t.Fatalf("state after stall = %s, want %s", state, StatePlayingVideo)
	}
	if idx := h.sched.CurrentIndex(); idx != 0 {
		t.Fatalf("stall advanced the index to %d", idx)
	}
}

func TestFailedStartLeavesSchedulerClean(t *testing.T) {
	driver := &flakyLoadDriver{fakeDriver: newFakeDriver(), failures: 1}
	logger := zerolog.Nop()
	pool := player.NewPool(driver, logger)
	bus := events.NewBus()
	trigger := export.NewTrigger(&okMerger{}, newRecordingDelegate(), bus, time.Second, logger)
	sched, err := New([]segment.Segment{segment.NewVideo("a.mp4")}, pool, trigger, bus, time.Second, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })

	before := testutil.ToFloat64(telemetry.ActiveSessions)
	if err := sched.Start(); err == nil {
		t.Fatal("expected Start to fail when the first load fails")
	}
	if got := testutil.ToFloat64(telemetry.ActiveSessions); got != before {
		t.Fatalf("active sessions after failed start = %v, want %v", got, before)
	}
	if state := sched.State(); state != StateStopped {
		t.Fatalf("state after failed start = %s, want %s", state, StateStopped)
	}

	// The rejected start does not wedge the scheduler.
	if err := sched.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := testutil.ToFloat64(telemetry.ActiveSessions); got != before+1 {
		t.Fatalf("active sessions while playing = %v, want %v", got, before+1)
	}
	sched.Stop()
	if got := testutil.ToFloat64(telemetry.ActiveSessions); got != before {
		t.Fatalf("active sessions after stop = %v, want %v", got, before)
	}
}
