package player

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/segment"
)

// fakeDriver records calls and lets tests fire end-of-item manually.
type fakeDriver struct {
	mu    sync.Mutex
	loads []struct {
		Slot Slot
		Ref  segment.Ref
	}
	onEnd  [2]func()
	pauses [2]int
	seeks  [2]int
	closed bool
}

func (f *fakeDriver) Load(ctx context.Context, slot Slot, ref segment.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, struct {
		Slot Slot
		Ref  segment.Ref
	}{slot, ref})
	return nil
}

func (f *fakeDriver) Play(slot Slot, onEnd func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnd[slot] = onEnd
	return nil
}

func (f *fakeDriver) Pause(slot Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses[slot]++
	return nil
}

func (f *fakeDriver) SeekToStart(slot Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks[slot]++
	return nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDriver) fireEnd(slot Slot) {
	f.mu.Lock()
	fn := f.onEnd[slot]
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeDriver) loadCount(slot Slot, ref segment.Ref) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.loads {
		if l.Slot == slot && l.Ref == ref {
			n++
		}
	}
	return n
}

func newTestPool() (*Pool, *fakeDriver) {
	driver := &fakeDriver{}
	return NewPool(driver, zerolog.Nop()), driver
}

func TestLoadIsIdempotentPerSlot(t *testing.T) {
	pool, driver := newTestPool()
	ctx := context.Background()

	if err := pool.Load(ctx, SlotA, "clip.mov"); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if err := pool.Load(ctx, SlotA, "clip.mov"); err != nil {
		t.Fatalf("second load: %v", err)
	}

	if got := driver.loadCount(SlotA, "clip.mov"); got != 1 {
		t.Errorf("driver load count = %d, want 1", got)
	}
}

func TestActivateIsBookkeepingOnly(t *testing.T) {
	pool, driver := newTestPool()

	if !pool.IsActive(SlotA) {
		t.Fatal("slot A should start active")
	}

	pool.Activate(SlotB)

	if !pool.IsActive(SlotB) || pool.IsActive(SlotA) {
		t.Error("activate did not swap slots")
	}
	driver.mu.Lock()
	calls := len(driver.loads) + driver.pauses[SlotA] + driver.pauses[SlotB]
	driver.mu.Unlock()
	if calls != 0 {
		t.Errorf("activate touched the driver (%d calls)", calls)
	}
}

func TestEndFiresAtMostOncePerCycle(t *testing.T) {
	pool, driver := newTestPool()
	ctx := context.Background()

	if err := pool.Load(ctx, SlotA, "clip.mov"); err != nil {
		t.Fatalf("load: %v", err)
	}

	fired := 0
	if err := pool.Play(SlotA, func() { fired++ }); err != nil {
		t.Fatalf("play: %v", err)
	}

	driver.fireEnd(SlotA)
	driver.fireEnd(SlotA)

	if fired != 1 {
		t.Errorf("end fired %d times, want 1", fired)
	}
}

func TestPauseSuppressesStaleEnd(t *testing.T) {
	pool, driver := newTestPool()
	ctx := context.Background()

	if err := pool.Load(ctx, SlotA, "clip.mov"); err != nil {
		t.Fatalf("load: %v", err)
	}

	fired := 0
	if err := pool.Play(SlotA, func() { fired++ }); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := pool.Pause(SlotA); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Decoder races the pause and reports end-of-item anyway.
	driver.fireEnd(SlotA)

	if fired != 0 {
		t.Errorf("stale end delivered after pause (%d calls)", fired)
	}
}

func TestSlotForFindsPrimedSlot(t *testing.T) {
	pool, _ := newTestPool()
	ctx := context.Background()

	if err := pool.Load(ctx, SlotB, "next.mov"); err != nil {
		t.Fatalf("load: %v", err)
	}

	slot, ok := pool.SlotFor("next.mov")
	if !ok || slot != SlotB {
		t.Errorf("SlotFor = (%v, %v), want (B, true)", slot, ok)
	}

	if _, ok := pool.SlotFor("missing.mov"); ok {
		t.Error("SlotFor found a reference that was never loaded")
	}
}

func TestCloseTearsDownBothSlots(t *testing.T) {
	pool, driver := newTestPool()
	ctx := context.Background()

	if err := pool.Load(ctx, SlotA, "a.mov"); err != nil {
		t.Fatalf("load: %v", err)
	}
	fired := 0
	if err := pool.Play(SlotA, func() { fired++ }); err != nil {
		t.Fatalf("play: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	driver.fireEnd(SlotA)
	if fired != 0 {
		t.Error("end delivered after close")
	}
	if !driver.closed {
		t.Error("driver was not closed")
	}
	if pool.State(SlotA) != SlotIdle || pool.State(SlotB) != SlotIdle {
		t.Error("slots not idle after close")
	}
}
