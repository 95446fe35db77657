package export

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/merge"
	"github.com/friendsincode/cliploop/internal/segment"
)

type fakeMerger struct {
	mu      sync.Mutex
	calls   [][]segment.Segment
	result  segment.Ref
	err     error
	release chan struct{} // when set, Merge blocks until closed
}

func (f *fakeMerger) Merge(ctx context.Context, segments []segment.Segment) (segment.Ref, error) {
	f.mu.Lock()
	f.calls = append(f.calls, segments)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	return f.result, f.err
}

func (f *fakeMerger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingDelegate struct {
	mu        sync.Mutex
	videos    []*segment.Ref
	images    []*segment.Ref
	dismissed int
	signal    chan struct{}
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{signal: make(chan struct{}, 8)}
}

func (d *recordingDelegate) OnVideoExported(ref *segment.Ref) {
	d.mu.Lock()
	d.videos = append(d.videos, ref)
	d.mu.Unlock()
	d.signal <- struct{}{}
}

func (d *recordingDelegate) OnImageExported(ref *segment.Ref) {
	d.mu.Lock()
	d.images = append(d.images, ref)
	d.mu.Unlock()
	d.signal <- struct{}{}
}

func (d *recordingDelegate) OnDismissed() {
	d.mu.Lock()
	d.dismissed++
	d.mu.Unlock()
	d.signal <- struct{}{}
}

func (d *recordingDelegate) wait(t *testing.T) {
	t.Helper()
	select {
	case <-d.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delegate call")
	}
}

func newTestTrigger(merger merge.Service, delegate Delegate) *Trigger {
	return NewTrigger(merger, delegate, events.NewBus(), time.Second, zerolog.Nop())
}

func TestConfirmSinglePhotoSkipsMerge(t *testing.T) {
	merger := &fakeMerger{result: "unused"}
	delegate := newRecordingDelegate()
	trigger := newTestTrigger(merger, delegate)

	segs := []segment.Segment{segment.NewImage("photo.jpg")}
	if err := trigger.Confirm(segs, Settings{}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	delegate.wait(t)

	if merger.callCount() != 0 {
		t.Error("merge service invoked for single photo")
	}
	if len(delegate.images) != 1 || delegate.images[0] == nil || *delegate.images[0] != "photo.jpg" {
		t.Errorf("unexpected image delivery: %+v", delegate.images)
	}
}

func TestConfirmSinglePhotoPrefersMotion(t *testing.T) {
	merger := &fakeMerger{}
	delegate := newRecordingDelegate()
	trigger := newTestTrigger(merger, delegate)

	segs := []segment.Segment{segment.NewImageWithMotion("photo.jpg", "photo.mov")}
	if err := trigger.Confirm(segs, Settings{PreferMotionExport: true}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	delegate.wait(t)

	if merger.callCount() != 0 {
		t.Error("merge service invoked for motion photo")
	}
	if len(delegate.videos) != 1 || *delegate.videos[0] != "photo.mov" {
		t.Errorf("unexpected video delivery: %+v", delegate.videos)
	}
}

func TestConfirmMultiSegmentMerges(t *testing.T) {
	merger := &fakeMerger{result: "merged.mp4"}
	delegate := newRecordingDelegate()
	trigger := newTestTrigger(merger, delegate)

	segs := []segment.Segment{
		segment.NewVideo("a.mov"),
		segment.NewImage("b.jpg"),
		segment.NewVideo("c.mov"),
	}
	if err := trigger.Confirm(segs, Settings{}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	delegate.wait(t)

	if merger.callCount() != 1 {
		t.Fatalf("merge calls = %d, want 1", merger.callCount())
	}
	if len(delegate.videos) != 1 || *delegate.videos[0] != "merged.mp4" {
		t.Errorf("unexpected video delivery: %+v", delegate.videos)
	}
	if trigger.State() != StateDone {
		t.Errorf("state = %s, want done", trigger.State())
	}
}

func TestConfirmIsNotReentrant(t *testing.T) {
	release := make(chan struct{})
	merger := &fakeMerger{result: "merged.mp4", release: release}
	delegate := newRecordingDelegate()
	trigger := newTestTrigger(merger, delegate)

	segs := []segment.Segment{segment.NewVideo("a.mov"), segment.NewVideo("b.mov")}
	if err := trigger.Confirm(segs, Settings{}); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	// Second confirm lands while the merge is still in flight.
	if err := trigger.Confirm(segs, Settings{}); err != nil {
		t.Fatalf("second confirm: %v", err)
	}

	close(release)
	delegate.wait(t)

	if merger.callCount() != 1 {
		t.Errorf("merge calls = %d, want 1 (concurrent confirm must be ignored)", merger.callCount())
	}
}

func TestMergeFailureIsRetryableWithSameList(t *testing.T) {
	merger := &fakeMerger{err: merge.ErrMergeFailed}
	delegate := newRecordingDelegate()
	bus := events.NewBus()
	failed := bus.Subscribe(events.EventExportFailed)
	trigger := NewTrigger(merger, delegate, bus, time.Second, zerolog.Nop())

	segs := []segment.Segment{
		segment.NewVideo("a.mov"),
		segment.NewImage("b.jpg"),
		segment.NewVideo("c.mov"),
	}
	if err := trigger.Confirm(segs, Settings{}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("no export.failed event")
	}
	if trigger.State() != StateFailed {
		t.Fatalf("state = %s, want failed", trigger.State())
	}
	if len(delegate.videos)+len(delegate.images) != 0 {
		t.Fatal("delegate invoked before retry/cancel choice")
	}

	trigger.Retry()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("no export.failed event after retry")
	}

	merger.mu.Lock()
	defer merger.mu.Unlock()
	if len(merger.calls) != 2 {
		t.Fatalf("merge calls = %d, want 2", len(merger.calls))
	}
	if len(merger.calls[1]) != len(segs) {
		t.Fatal("retry did not reuse the identical segment list")
	}
	for i := range segs {
		if merger.calls[1][i] != segs[i] {
			t.Errorf("retry segment %d differs from original", i)
		}
	}
}

func TestCancelDeliversNullResult(t *testing.T) {
	merger := &fakeMerger{err: merge.ErrMergeFailed}
	delegate := newRecordingDelegate()
	bus := events.NewBus()
	failed := bus.Subscribe(events.EventExportFailed)
	trigger := NewTrigger(merger, delegate, bus, time.Second, zerolog.Nop())

	segs := []segment.Segment{segment.NewVideo("a.mov"), segment.NewVideo("b.mov")}
	if err := trigger.Confirm(segs, Settings{}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	<-failed

	trigger.Cancel()
	delegate.wait(t)

	if len(delegate.videos) != 1 || delegate.videos[0] != nil {
		t.Errorf("cancel must deliver a nil reference, got %+v", delegate.videos)
	}
	if trigger.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", trigger.State())
	}
}

func TestDismissReportsOnce(t *testing.T) {
	trigger := newTestTrigger(&fakeMerger{}, nil)
	delegate := newRecordingDelegate()
	trigger.delegate = delegate

	trigger.Dismiss()
	delegate.wait(t)

	if delegate.dismissed != 1 {
		t.Errorf("dismissed = %d, want 1", delegate.dismissed)
	}
	if len(delegate.videos)+len(delegate.images) != 0 {
		t.Error("dismiss produced export calls")
	}
}
