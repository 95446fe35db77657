/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session manages the runtime side of capture sessions: one playback
// scheduler per started session, backed by the persistent store.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/export"
	"github.com/friendsincode/cliploop/internal/merge"
	"github.com/friendsincode/cliploop/internal/models"
	"github.com/friendsincode/cliploop/internal/player"
	"github.com/friendsincode/cliploop/internal/scheduler"
	"github.com/friendsincode/cliploop/internal/segment"
	"github.com/friendsincode/cliploop/internal/store"
)

var ErrNotRunning = errors.New("session not running")

// DriverFactory builds a fresh player driver for each started session.
type DriverFactory func() (player.Driver, error)

// Options tunes runtime behaviour shared by all sessions.
type Options struct {
	FrameInterval time.Duration
	MergeTimeout  time.Duration
	StallWatchdog time.Duration
}

// Manager owns the active schedulers. Sessions not in the map are stopped;
// their definitions live only in the store.
type Manager struct {
	store     *store.SessionStore
	merger    merge.Service
	bus       events.PubSub
	newDriver DriverFactory
	opts      Options
	logger    zerolog.Logger

	mu     sync.Mutex
	active map[string]*runtime
}

type runtime struct {
	sched    *scheduler.Scheduler
	pool     *player.Pool
	delegate *storeDelegate
}

func NewManager(sessions *store.SessionStore, merger merge.Service, bus events.PubSub, newDriver DriverFactory, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		store:     sessions,
		merger:    merger,
		bus:       bus,
		newDriver: newDriver,
		opts:      opts,
		logger:    logger.With().Str("component", "session_manager").Logger(),
		active:    make(map[string]*runtime),
	}
}

// Start builds a scheduler for the stored session and begins playback. A
// session already playing is restarted from the first segment.
func (m *Manager) Start(ctx context.Context, sessionID string) error {
	segments, err := m.store.Segments(ctx, sessionID)
	if err != nil {
		return err
	}
	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	frameInterval := m.opts.FrameInterval
	if record.FrameIntervalMS > 0 {
		frameInterval = time.Duration(record.FrameIntervalMS) * time.Millisecond
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rt, exists := m.active[sessionID]; exists {
		rt.sched.Stop()
		if err := rt.sched.Close(); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("close previous runtime")
		}
		delete(m.active, sessionID)
	}

	driver, err := m.newDriver()
	if err != nil {
		return err
	}
	pool := player.NewPool(driver, m.logger)
	delegate := &storeDelegate{manager: m, sessionID: sessionID}
	trigger := export.NewTrigger(m.merger, delegate, m.bus, m.opts.MergeTimeout, m.logger)

	sched, err := scheduler.New(segments, pool, trigger, m.bus, frameInterval, m.logger)
	if err != nil {
		pool.Close()
		return err
	}
	if m.opts.StallWatchdog > 0 {
		sched.EnableStallWatchdog(m.opts.StallWatchdog)
	}
	if err := sched.Start(); err != nil {
		pool.Close()
		return err
	}

	m.active[sessionID] = &runtime{sched: sched, pool: pool, delegate: delegate}
	if err := m.store.SetState(ctx, sessionID, models.SessionPlaying, 0); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("persist playing state")
	}
	return nil
}

// Stop halts playback for the session. Stopping a session that is not running
// is a no-op.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	rt, exists := m.active[sessionID]
	m.mu.Unlock()
	if !exists {
		return nil
	}
	rt.sched.Stop()
	return m.store.SetState(ctx, sessionID, models.SessionStopped, rt.sched.CurrentIndex())
}

// Confirm stops playback and exports the session's segment list.
func (m *Manager) Confirm(ctx context.Context, sessionID string, settings export.Settings) error {
	rt, err := m.runtime(sessionID)
	if err != nil {
		return err
	}
	// Persist first: the single-photo path delivers its result synchronously
	// and the delegate's exported state must not be overwritten.
	if err := m.store.SetState(ctx, sessionID, models.SessionExporting, rt.sched.CurrentIndex()); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("persist exporting state")
	}
	record, err := m.store.BeginExport(ctx, sessionID)
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("open export record")
	} else {
		rt.delegate.setExportID(record.ID)
	}
	if err := rt.sched.Confirm(settings); err != nil {
		if record != nil {
			if ferr := m.store.FinishExport(ctx, record.ID, models.ExportFailed, "", err.Error()); ferr != nil {
				m.logger.Warn().Err(ferr).Str("session_id", sessionID).Msg("resolve export record")
			}
			rt.delegate.setExportID("")
		}
		if serr := m.store.SetState(ctx, sessionID, models.SessionStopped, rt.sched.CurrentIndex()); serr != nil {
			m.logger.Warn().Err(serr).Str("session_id", sessionID).Msg("revert exporting state")
		}
		return err
	}
	return nil
}

// RetryExport re-runs a failed export.
func (m *Manager) RetryExport(sessionID string) error {
	rt, err := m.runtime(sessionID)
	if err != nil {
		return err
	}
	rt.sched.RetryExport()
	return nil
}

// CancelExport abandons a failed export.
func (m *Manager) CancelExport(sessionID string) error {
	rt, err := m.runtime(sessionID)
	if err != nil {
		return err
	}
	rt.sched.CancelExport()
	return nil
}

// Dismiss stops playback and discards the session without exporting.
func (m *Manager) Dismiss(sessionID string) error {
	rt, err := m.runtime(sessionID)
	if err != nil {
		return err
	}
	rt.sched.Dismiss()
	return nil
}

// Status reports the runtime state of a session. Sessions without a runtime
// are stopped.
func (m *Manager) Status(sessionID string) (scheduler.State, int) {
	m.mu.Lock()
	rt, exists := m.active[sessionID]
	m.mu.Unlock()
	if !exists {
		return scheduler.StateStopped, 0
	}
	return rt.sched.State(), rt.sched.CurrentIndex()
}

// Close tears down every active runtime.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, rt := range m.active {
		rt.sched.Stop()
		if err := rt.sched.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.active, id)
	}
	return firstErr
}

func (m *Manager) runtime(sessionID string) (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, exists := m.active[sessionID]
	if !exists {
		return nil, ErrNotRunning
	}
	return rt, nil
}

func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	rt, exists := m.active[sessionID]
	if exists {
		delete(m.active, sessionID)
	}
	m.mu.Unlock()
	if exists {
		if err := rt.sched.Close(); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("close runtime")
		}
	}
}

// storeDelegate persists export outcomes. A nil reference means the export
// produced no result.
type storeDelegate struct {
	manager   *Manager
	sessionID string

	mu       sync.Mutex
	exportID string
}

func (d *storeDelegate) setExportID(id string) {
	d.mu.Lock()
	d.exportID = id
	d.mu.Unlock()
}

func (d *storeDelegate) takeExportID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.exportID
	d.exportID = ""
	return id
}

func (d *storeDelegate) OnVideoExported(ref *segment.Ref) {
	d.finish(ref)
}

func (d *storeDelegate) OnImageExported(ref *segment.Ref) {
	d.finish(ref)
}

func (d *storeDelegate) OnDismissed() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.manager.store.SetState(ctx, d.sessionID, models.SessionDismissed, 0); err != nil {
		d.manager.logger.Warn().Err(err).Str("session_id", d.sessionID).Msg("persist dismissed state")
	}
	d.manager.release(d.sessionID)
}

func (d *storeDelegate) finish(ref *segment.Ref) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exportID := d.takeExportID()

	if ref == nil {
		if exportID != "" {
			if err := d.manager.store.FinishExport(ctx, exportID, models.ExportCancelled, "", "export cancelled"); err != nil {
				d.manager.logger.Warn().Err(err).Str("session_id", d.sessionID).Msg("resolve export record")
			}
		}
		if err := d.manager.store.SetState(ctx, d.sessionID, models.SessionStopped, 0); err != nil {
			d.manager.logger.Warn().Err(err).Str("session_id", d.sessionID).Msg("persist cancelled export")
		}
		return
	}

	if exportID != "" {
		if err := d.manager.store.FinishExport(ctx, exportID, models.SessionExported, string(*ref), ""); err != nil {
			d.manager.logger.Warn().Err(err).Str("session_id", d.sessionID).Msg("resolve export record")
		}
	}
	if err := d.manager.store.SetOutput(ctx, d.sessionID, string(*ref)); err != nil {
		d.manager.logger.Warn().Err(err).Str("session_id", d.sessionID).Msg("persist output ref")
	}
	if err := d.manager.store.SetState(ctx, d.sessionID, models.SessionExported, 0); err != nil {
		d.manager.logger.Warn().Err(err).Str("session_id", d.sessionID).Msg("persist exported state")
	}
	d.manager.release(d.sessionID)
}
