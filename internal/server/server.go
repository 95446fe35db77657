/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/friendsincode/cliploop/internal/api"
	"github.com/friendsincode/cliploop/internal/audit"
	"github.com/friendsincode/cliploop/internal/config"
	"github.com/friendsincode/cliploop/internal/db"
	"github.com/friendsincode/cliploop/internal/eventbus"
	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/logbuffer"
	"github.com/friendsincode/cliploop/internal/media"
	"github.com/friendsincode/cliploop/internal/merge"
	"github.com/friendsincode/cliploop/internal/player"
	"github.com/friendsincode/cliploop/internal/session"
	"github.com/friendsincode/cliploop/internal/store"
	"github.com/friendsincode/cliploop/internal/telemetry"
	"github.com/friendsincode/cliploop/internal/version"
)

// Server bundles the HTTP API and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	bus       events.PubSub
	bridge    eventbus.Bridge
	sessions  *store.SessionStore
	manager   *session.Manager
	media     *media.Service
	api       *api.API
	tracer    *telemetry.TracerProvider
	updates   *version.Checker
	auditSvc  *audit.Service
	logBuffer *logbuffer.Buffer
}

// New constructs the server and wires dependencies. logBuf may be nil when
// log capture is disabled.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "cliploop-api")
	})
	router.Use(telemetry.MetricsMiddleware)
	// WebSocket connections outlive the request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}
	if err := s.initDependencies(); err != nil {
		return nil, err
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket writes are unbounded
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.deferClose(func() error { return db.Close(database) })

	poolCtx, poolCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-poolCtx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(database)
			}
		}
	}()
	s.deferClose(func() error {
		poolCancel()
		return nil
	})

	tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "cliploop",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return err
	}
	s.tracer = tracer
	s.deferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(ctx)
	})

	bridge, err := eventbus.New(s.cfg, s.logger)
	if err != nil {
		return err
	}
	if bridge != nil {
		s.bridge = bridge
		s.bus = bridge
		s.deferClose(bridge.Close)
	} else {
		s.bus = events.NewBus()
	}

	mediaSvc, err := media.NewService(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.media = mediaSvc

	merger := merge.NewPipelineMerger(s.cfg.MergeBin, s.cfg.OutputDir, s.cfg.StopMotionFrameInterval, mediaSvc, s.logger)
	s.sessions = store.NewSessionStore(database, s.logger)
	s.manager = session.NewManager(s.sessions, merger, s.bus, func() (player.Driver, error) {
		return player.NewProcessDriver(s.cfg.GStreamerBin, s.logger), nil
	}, session.Options{
		FrameInterval: s.cfg.StopMotionFrameInterval,
		MergeTimeout:  s.cfg.MergeTimeout,
		StallWatchdog: s.cfg.StallWatchdog,
	}, s.logger)
	s.deferClose(s.manager.Close)

	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	auditCtx, auditCancel := context.WithCancel(context.Background())
	go s.auditSvc.Start(auditCtx)
	s.deferClose(func() error {
		auditCancel()
		return nil
	})

	s.updates = version.NewChecker(s.logger)
	s.api = api.New(database, []byte(s.cfg.JWTSigningKey), s.sessions, s.manager, s.bus, s.updates, s.auditSvc, s.logBuffer, s.logger)
	return nil
}

func (s *Server) configureRoutes() {
	s.api.Routes(s.router)
	s.router.Handle("/metrics", telemetry.Handler())
}

// Start begins serving HTTP. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.updates.Start(context.Background())
	s.deferClose(func() error {
		s.updates.Stop()
		return nil
	})
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP connections and closes dependencies.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := s.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases dependencies in reverse registration order.
func (s *Server) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// Router exposes the chi router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) deferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
