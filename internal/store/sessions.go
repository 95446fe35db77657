/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists capture sessions and their export history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/cliploop/internal/models"
	"github.com/friendsincode/cliploop/internal/segment"
)

var ErrNotFound = errors.New("session not found")

// SessionStore is the gorm-backed session repository.
type SessionStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewSessionStore(database *gorm.DB, logger zerolog.Logger) *SessionStore {
	return &SessionStore{
		db:     database,
		logger: logger.With().Str("component", "session_store").Logger(),
	}
}

// Create persists a new session with its ordered segment list. The list is
// validated and then frozen; playback never mutates it.
func (s *SessionStore) Create(ctx context.Context, name string, segments []segment.Segment, frameInterval time.Duration) (*models.Session, error) {
	if err := segment.ValidateList(segments); err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:              uuid.NewString(),
		Name:            name,
		State:           models.SessionStopped,
		FrameIntervalMS: int(frameInterval / time.Millisecond),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		for i, seg := range segments {
			row := models.SessionSegment{
				ID:        uuid.NewString(),
				SessionID: session.ID,
				Position:  i,
				Kind:      string(seg.Kind),
				ImageRef:  string(seg.ImageRef),
				VideoRef:  string(seg.VideoRef),
				MotionRef: string(seg.MotionRef),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info().Str("session_id", session.ID).Int("segments", len(segments)).Msg("session created")
	return session, nil
}

// Get returns a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns all sessions, newest first.
func (s *SessionStore) List(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}

// Segments rebuilds the playable segment list in position order.
func (s *SessionStore) Segments(ctx context.Context, id string) ([]segment.Segment, error) {
	var rows []models.SessionSegment
	err := s.db.WithContext(ctx).
		Where("session_id = ?", id).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	segments := make([]segment.Segment, 0, len(rows))
	for _, row := range rows {
		segments = append(segments, segment.Segment{
			Kind:      segment.Kind(row.Kind),
			ImageRef:  segment.Ref(row.ImageRef),
			VideoRef:  segment.Ref(row.VideoRef),
			MotionRef: segment.Ref(row.MotionRef),
		})
	}
	if err := segment.ValidateList(segments); err != nil {
		return nil, fmt.Errorf("stored segment list invalid: %w", err)
	}
	return segments, nil
}

// SetState updates playback state and current index.
func (s *SessionStore) SetState(ctx context.Context, id, state string, currentIndex int) error {
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{"state": state, "current_index": currentIndex})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOutput records the merged output reference on the session.
func (s *SessionStore) SetOutput(ctx context.Context, id, outputRef string) error {
	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		Update("output_ref", outputRef).Error
}

// Delete removes a session and its segments.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.SessionSegment{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.ExportRecord{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.Session{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// BeginExport opens a new export record for the session.
func (s *SessionStore) BeginExport(ctx context.Context, sessionID string) (*models.ExportRecord, error) {
	record := &models.ExportRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		State:     models.SessionExporting,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// Exports returns the session's export history, newest first.
func (s *SessionStore) Exports(ctx context.Context, sessionID string) ([]models.ExportRecord, error) {
	var records []models.ExportRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}

// FinishExport resolves an export record with its outcome.
func (s *SessionStore) FinishExport(ctx context.Context, recordID, state, outputRef, errMsg string) error {
	return s.db.WithContext(ctx).Model(&models.ExportRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]any{"state": state, "output_ref": outputRef, "error": errMsg}).Error
}
