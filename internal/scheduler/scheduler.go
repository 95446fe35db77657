package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/config"
	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/export"
	"github.com/friendsincode/cliploop/internal/player"
	"github.com/friendsincode/cliploop/internal/segment"
	"github.com/friendsincode/cliploop/internal/telemetry"
)

// State of the playback loop.
type State string

const (
	StateStopped      State = "stopped"
	StatePlayingVideo State = "playing_video"
	StatePlayingImage State = "playing_image"
	StateExporting    State = "exporting"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Scheduler plays an ordered, immutable segment list in a continuous loop.
// Video segments run through the dual-slot pool, image segments are timed
// frames. All transitions are serialized under mu; end-of-segment signals
// arriving after a state change are dropped by index and generation checks.
type Scheduler struct {
	segments      []segment.Segment
	pool          *player.Pool
	trigger       *export.Trigger
	bus           events.PubSub
	logger        zerolog.Logger
	frameInterval time.Duration
	watchdog      time.Duration

	mu           sync.Mutex
	state        State
	currentIndex int
	ctx          context.Context
	cancel       context.CancelFunc
	frameTimer   *time.Timer
	frameGen     uint64
	watchTimer   *time.Timer
	dismissed    bool
}

func New(segments []segment.Segment, pool *player.Pool, trigger *export.Trigger, bus events.PubSub, frameInterval time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if err := segment.ValidateList(segments); err != nil {
		return nil, err
	}
	if frameInterval <= 0 {
		frameInterval = config.DefaultStopMotionFrameInterval
	}
	return &Scheduler{
		segments:      segments,
		pool:          pool,
		trigger:       trigger,
		bus:           bus,
		logger:        logger.With().Str("component", "scheduler").Logger(),
		frameInterval: frameInterval,
		state:         StateStopped,
	}, nil
}

// EnableStallWatchdog arms a per-video timer that reports a stall when a clip
// produces no end signal within d. Detection only; the loop never advances on
// a stall. Must be called before Start.
func (s *Scheduler) EnableStallWatchdog(d time.Duration) {
	s.watchdog = d
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIndex
}

func (s *Scheduler) Segments() []segment.Segment {
	return s.segments
}

// Start begins playback at the first segment. The loop outlives the caller:
// slot loads run under a context bounded only by Stop, never by the request
// that started playback.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.dismissed = false
	s.currentIndex = 0
	if err := s.enterLocked(0, true); err != nil {
		s.cancel()
		s.cancel = nil
		return err
	}
	telemetry.ActiveSessions.Inc()
	return nil
}

// Stop halts playback. Safe to call from any state, repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Confirm stops the loop and hands the segment list to the export trigger.
// A redundant confirm while an export is underway is ignored.
func (s *Scheduler) Confirm(settings export.Settings) error {
	s.mu.Lock()
	if s.state == StateExporting {
		s.mu.Unlock()
		s.logger.Warn().Msg("confirm ignored, export already in progress")
		return nil
	}
	s.stopLocked()
	s.state = StateExporting
	s.mu.Unlock()

	if err := s.trigger.Confirm(s.segments, settings); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return err
	}
	return nil
}

// RetryExport re-runs a failed merge with the same segment list.
func (s *Scheduler) RetryExport() {
	s.trigger.Retry()
}

// CancelExport abandons a failed export.
func (s *Scheduler) CancelExport() {
	s.trigger.Cancel()
	s.mu.Lock()
	if s.state == StateExporting {
		s.state = StateStopped
	}
	s.mu.Unlock()
}

// Dismiss stops playback and reports the dismissal exactly once.
func (s *Scheduler) Dismiss() {
	s.mu.Lock()
	if s.dismissed {
		s.mu.Unlock()
		return
	}
	s.dismissed = true
	s.stopLocked()
	s.mu.Unlock()
	s.trigger.Dismiss()
}

// Close stops playback and releases both player slots.
func (s *Scheduler) Close() error {
	s.Stop()
	return s.pool.Close()
}

// enterLocked begins presenting the segment at idx and schedules the preload
// of the next video. initial marks entry from Start, which targets the active
// slot instead of toggling to standby.
func (s *Scheduler) enterLocked(idx int, initial bool) error {
	seg := s.segments[idx]
	s.bus.Publish(events.EventSegmentStarted, events.Payload{
		"index": idx,
		"kind":  string(seg.Kind),
	})
	telemetry.SegmentsPlayed.WithLabelValues(string(seg.Kind)).Inc()

	if seg.IsImage() {
		s.state = StatePlayingImage
		s.armFrameTimerLocked()
		s.preloadNextLocked(idx)
		return nil
	}

	slot, primed := s.pool.SlotFor(seg.VideoRef)
	switch {
	case primed:
		telemetry.PreloadReuse.Inc()
	case initial:
		slot = s.pool.ActiveSlot()
	default:
		slot = s.pool.ActiveSlot().Other()
	}
	if err := s.pool.Load(s.ctx, slot, seg.VideoRef); err != nil {
		s.logger.Error().Err(err).Int("index", idx).Str("ref", string(seg.VideoRef)).Msg("load failed")
		return err
	}
	s.pool.Activate(slot)

	playIdx := idx
	if err := s.pool.Play(slot, func() { s.videoEnded(playIdx) }); err != nil {
		s.logger.Error().Err(err).Int("index", idx).Msg("play failed")
		return err
	}
	s.state = StatePlayingVideo
	s.armWatchdogLocked(idx)
	s.preloadNextLocked(idx)
	return nil
}

// preloadNextLocked primes the standby slot with the next video segment so the
// upcoming transition is a slot swap, not a load. Fire and forget; a failed
// preload only costs the reuse on the next entry.
func (s *Scheduler) preloadNextLocked(idx int) {
	next := (idx + 1) % len(s.segments)
	nseg := s.segments[next]
	if !nseg.IsVideo() {
		return
	}
	if _, ok := s.pool.SlotFor(nseg.VideoRef); ok {
		return
	}
	standby := s.pool.ActiveSlot().Other()
	ctx := s.ctx
	ref := nseg.VideoRef
	go func() {
		if err := s.pool.Load(ctx, standby, ref); err != nil {
			s.logger.Warn().Err(err).Str("ref", string(ref)).Msg("preload failed")
		}
	}()
}

// videoEnded is the pool's end-of-clip callback. Signals for a clip that is no
// longer current are dropped.
func (s *Scheduler) videoEnded(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlayingVideo || s.currentIndex != idx {
		return
	}
	s.advanceLocked()
}

func (s *Scheduler) frameElapsed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameGen != gen || s.state != StatePlayingImage {
		return
	}
	s.frameTimer = nil
	s.advanceLocked()
}

// advanceLocked finishes the current segment and enters the next, wrapping to
// the head of the list when the tail completes.
func (s *Scheduler) advanceLocked() {
	finished := s.currentIndex
	seg := s.segments[finished]
	s.cancelWatchdogLocked()
	if seg.IsVideo() {
		active := s.pool.ActiveSlot()
		if err := s.pool.Pause(active); err != nil {
			s.logger.Warn().Err(err).Msg("pause failed")
		}
		if err := s.pool.SeekToStart(active); err != nil {
			s.logger.Warn().Err(err).Msg("seek failed")
		}
	}
	s.bus.Publish(events.EventSegmentFinished, events.Payload{
		"index": finished,
		"kind":  string(seg.Kind),
	})

	next := (finished + 1) % len(s.segments)
	s.currentIndex = next
	if next == 0 {
		telemetry.Loops.Inc()
		s.bus.Publish(events.EventLooped, events.Payload{})
	}
	if err := s.enterLocked(next, false); err != nil {
		s.logger.Error().Err(err).Int("index", next).Msg("advance failed, stopping")
		s.stopLocked()
	}
}

func (s *Scheduler) armFrameTimerLocked() {
	s.frameGen++
	gen := s.frameGen
	s.frameTimer = time.AfterFunc(s.frameInterval, func() { s.frameElapsed(gen) })
}

func (s *Scheduler) armWatchdogLocked(idx int) {
	if s.watchdog <= 0 {
		return
	}
	s.watchTimer = time.AfterFunc(s.watchdog, func() { s.stallDetected(idx) })
}

func (s *Scheduler) stallDetected(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlayingVideo || s.currentIndex != idx {
		return
	}
	telemetry.StallsDetected.Inc()
	s.logger.Error().Int("index", idx).Dur("after", s.watchdog).Msg("video segment stalled")
	s.bus.Publish(events.EventStallDetected, events.Payload{"index": idx})
}

func (s *Scheduler) cancelWatchdogLocked() {
	if s.watchTimer != nil {
		s.watchTimer.Stop()
		s.watchTimer = nil
	}
}

func (s *Scheduler) stopLocked() {
	if s.state == StateStopped {
		return
	}
	s.frameGen++
	if s.frameTimer != nil {
		s.frameTimer.Stop()
		s.frameTimer = nil
	}
	s.cancelWatchdogLocked()
	if s.state == StatePlayingVideo {
		if err := s.pool.Pause(s.pool.ActiveSlot()); err != nil {
			s.logger.Warn().Err(err).Msg("pause on stop failed")
		}
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	wasPlaying := s.state != StateExporting
	s.state = StateStopped
	if wasPlaying {
		telemetry.ActiveSessions.Dec()
	}
	s.bus.Publish(events.EventStopped, events.Payload{})
}
