/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Session states persisted alongside playback.
const (
	SessionStopped   = "stopped"
	SessionPlaying   = "playing"
	SessionExporting = "exporting"
	SessionExported  = "exported"
	SessionDismissed = "dismissed"
)

// Export record outcomes beyond the shared session states.
const (
	ExportCancelled = "cancelled"
	ExportFailed    = "failed"
)

// Session is a capture session: an ordered segment list plus its playback and
// export state.
type Session struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	Name            string `gorm:"index"`
	State           string `gorm:"type:varchar(16);index"`
	CurrentIndex    int
	FrameIntervalMS int
	OutputRef       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SessionSegment is one entry of a session's ordered list. The list is
// immutable during playback; position is the playback order.
type SessionSegment struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	SessionID string `gorm:"type:uuid;index"`
	Position  int    `gorm:"index"`
	Kind      string `gorm:"type:varchar(8)"`
	ImageRef  string
	VideoRef  string
	MotionRef string
	CreatedAt time.Time
}

// ExportRecord tracks one export attempt of a session.
type ExportRecord struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	SessionID string `gorm:"type:uuid;index"`
	State     string `gorm:"type:varchar(16);index"`
	OutputRef string
	Error     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User represents an authenticated account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      string `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKey is a long-lived token for headless clients. Only a digest is
// stored; the prefix supports lookup without the plaintext.
type APIKey struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	UserID     string `gorm:"type:uuid;index"`
	Name       string
	Prefix     string `gorm:"type:varchar(12);uniqueIndex"`
	Hash       string
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// AuditAction defines the type of audited action.
type AuditAction string

const (
	AuditActionLogin           AuditAction = "auth.login"
	AuditActionAPIKeyCreate    AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke    AuditAction = "apikey.revoke"
	AuditActionSessionCreate   AuditAction = "session.create"
	AuditActionSessionDelete   AuditAction = "session.delete"
	AuditActionPlaybackStart   AuditAction = "playback.start"
	AuditActionPlaybackStop    AuditAction = "playback.stop"
	AuditActionPlaybackStall   AuditAction = "playback.stall"
	AuditActionExportConfirm   AuditAction = "export.confirm"
	AuditActionExportFailed    AuditAction = "export.failed"
	AuditActionExportCancelled AuditAction = "export.cancelled"
	AuditActionDismiss         AuditAction = "export.dismiss"
)

// AuditLog records sensitive operations for review.
type AuditLog struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Timestamp time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	UserID    *string        `gorm:"type:uuid;index:idx_audit_user"` // NULL for system actions
	UserEmail string         `gorm:"type:varchar(255)"`
	SessionID *string        `gorm:"type:uuid;index:idx_audit_session"`
	Action    AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	Details   map[string]any `gorm:"type:jsonb;serializer:json"`
	IPAddress string         `gorm:"type:varchar(45)"`
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
