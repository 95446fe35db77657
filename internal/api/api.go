/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: session CRUD, playback control,
// export control and the events WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/cliploop/internal/audit"
	"github.com/friendsincode/cliploop/internal/auth"
	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/export"
	"github.com/friendsincode/cliploop/internal/logbuffer"
	"github.com/friendsincode/cliploop/internal/models"
	"github.com/friendsincode/cliploop/internal/segment"
	"github.com/friendsincode/cliploop/internal/session"
	"github.com/friendsincode/cliploop/internal/store"
	"github.com/friendsincode/cliploop/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	sessions  *store.SessionStore
	manager   *session.Manager
	bus       events.PubSub
	updates   *version.Checker
	auditSvc  *audit.Service
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper. updates, auditSvc and logBuf may be nil
// when the corresponding feature is disabled.
func New(database *gorm.DB, jwtSecret []byte, sessions *store.SessionStore, manager *session.Manager, bus events.PubSub, updates *version.Checker, auditSvc *audit.Service, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:        database,
		jwtSecret: jwtSecret,
		sessions:  sessions,
		manager:   manager,
		bus:       bus,
		updates:   updates,
		auditSvc:  auditSvc,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

type segmentRequest struct {
	Kind      string `json:"kind"`
	ImageRef  string `json:"image_ref,omitempty"`
	VideoRef  string `json:"video_ref,omitempty"`
	MotionRef string `json:"motion_ref,omitempty"`
}

type sessionCreateRequest struct {
	Name            string           `json:"name"`
	FrameIntervalMS int              `json:"frame_interval_ms"`
	Segments        []segmentRequest `json:"segments"`
}

type confirmRequest struct {
	PreferMotionExport bool `json:"prefer_motion_export"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type statusResponse struct {
	SessionID    string `json:"session_id"`
	State        string `json:"state"`
	CurrentIndex int    `json:"current_index"`
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/version", a.handleVersion)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/sessions", func(r chi.Router) {
				r.Get("/", a.handleSessionsList)
				r.Post("/", a.handleSessionsCreate)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", a.handleSessionsGet)
					r.Delete("/", a.handleSessionsDelete)
					r.Get("/status", a.handleSessionStatus)
				r.Get("/exports", a.handleSessionExports)

					r.Post("/start", a.handleSessionStart)
					r.Post("/stop", a.handleSessionStop)
					r.Post("/confirm", a.handleSessionConfirm)
					r.Post("/retry", a.handleSessionRetry)
					r.Post("/cancel", a.handleSessionCancel)
					r.Post("/dismiss", a.handleSessionDismiss)
				})
			})

			pr.Get("/events", a.handleEvents)

			pr.Group(func(ar chi.Router) {
				ar.Use(a.requireAdmin())
				ar.Get("/logs", a.handleLogs)
				ar.Get("/logs/components", a.handleLogComponents)
				ar.Get("/logs/stats", a.handleLogStats)
				ar.Delete("/logs", a.handleClearLogs)
				ar.Get("/audit", a.handleAuditList)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	if a.updates == nil {
		writeJSON(w, http.StatusOK, version.UpdateInfo{CurrentVersion: version.Version})
		return
	}
	writeJSON(w, http.StatusOK, a.updates.Info())
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var user models.User
	err := a.db.WithContext(r.Context()).First(&user, "email = ?", req.Email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !auth.CheckPassword(user.Password, req.Password)) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("login lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{UserID: user.ID, Role: user.Role}, 24*time.Hour)
	if err != nil {
		a.logger.Error().Err(err).Msg("issue token failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	if a.auditSvc != nil {
		userID := user.ID
		entry := &models.AuditLog{
			Action:    models.AuditActionLogin,
			UserID:    &userID,
			UserEmail: user.Email,
			IPAddress: r.RemoteAddr,
		}
		if err := a.auditSvc.Log(r.Context(), entry); err != nil {
			a.logger.Warn().Err(err).Msg("audit write failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.sessions.List(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list sessions failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) handleSessionsCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	segments := make([]segment.Segment, 0, len(req.Segments))
	for _, sr := range req.Segments {
		segments = append(segments, segment.Segment{
			Kind:      segment.Kind(sr.Kind),
			ImageRef:  segment.Ref(sr.ImageRef),
			VideoRef:  segment.Ref(sr.VideoRef),
			MotionRef: segment.Ref(sr.MotionRef),
		})
	}

	record, err := a.sessions.Create(r.Context(), req.Name, segments, time.Duration(req.FrameIntervalMS)*time.Millisecond)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_segments")
		return
	}
	a.recordAudit(r, models.AuditActionSessionCreate, record.ID, map[string]any{"name": record.Name, "segments": len(segments)})
	writeJSON(w, http.StatusCreated, record)
}

func (a *API) handleSessionsGet(w http.ResponseWriter, r *http.Request) {
	record, err := a.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *API) handleSessionsDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := a.manager.Stop(r.Context(), id); err != nil {
		a.logger.Warn().Err(err).Str("session_id", id).Msg("stop before delete")
	}
	err := a.sessions.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.recordAudit(r, models.AuditActionSessionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := a.sessions.Get(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	state, index := a.manager.Status(id)
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:    id,
		State:        string(state),
		CurrentIndex: index,
	})
}

func (a *API) handleSessionExports(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := a.sessions.Get(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	records, err := a.sessions.Exports(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	err := a.manager.Start(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("session_id", id).Msg("start failed")
		writeError(w, http.StatusInternalServerError, "start_failed")
		return
	}
	a.recordAudit(r, models.AuditActionPlaybackStart, id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "playing"})
}

func (a *API) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := a.manager.Stop(r.Context(), id); err != nil {
		a.logger.Error().Err(err).Str("session_id", id).Msg("stop failed")
		writeError(w, http.StatusInternalServerError, "stop_failed")
		return
	}
	a.recordAudit(r, models.AuditActionPlaybackStop, id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *API) handleSessionConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req confirmRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	err := a.manager.Confirm(r.Context(), id, export.Settings{PreferMotionExport: req.PreferMotionExport})
	if errors.Is(err, session.ErrNotRunning) {
		writeError(w, http.StatusConflict, "not_running")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("session_id", id).Msg("confirm failed")
		writeError(w, http.StatusInternalServerError, "confirm_failed")
		return
	}
	a.recordAudit(r, models.AuditActionExportConfirm, id, map[string]any{"prefer_motion_export": req.PreferMotionExport})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "exporting"})
}

func (a *API) handleSessionRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	err := a.manager.RetryExport(id)
	if errors.Is(err, session.ErrNotRunning) {
		writeError(w, http.StatusConflict, "not_running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func (a *API) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	err := a.manager.CancelExport(id)
	if errors.Is(err, session.ErrNotRunning) {
		writeError(w, http.StatusConflict, "not_running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *API) handleSessionDismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	err := a.manager.Dismiss(id)
	if errors.Is(err, session.ErrNotRunning) {
		writeError(w, http.StatusConflict, "not_running")
		return
	}
	a.recordAudit(r, models.AuditActionDismiss, id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// handleEvents streams bus events over a WebSocket. Clients pick event types
// with the ?types= query parameter.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = []events.EventType{
			events.EventSegmentStarted,
			events.EventSegmentFinished,
			events.EventLooped,
			events.EventStopped,
			events.EventExportFinished,
			events.EventExportFailed,
		}
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Error().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.db, a.jwtSecret)
}

func parseEventTypes(raw string) []events.EventType {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, events.EventType(trimmed))
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
