package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/cliploop/internal/auth"
	"github.com/friendsincode/cliploop/internal/db"
	"github.com/friendsincode/cliploop/internal/events"
	"github.com/friendsincode/cliploop/internal/models"
	"github.com/friendsincode/cliploop/internal/player"
	"github.com/friendsincode/cliploop/internal/segment"
	"github.com/friendsincode/cliploop/internal/session"
	"github.com/friendsincode/cliploop/internal/store"
)

type stubDriver struct{}

func (stubDriver) Load(ctx context.Context, slot player.Slot, ref segment.Ref) error { return nil }
func (stubDriver) Play(slot player.Slot, onEnd func()) error                         { return nil }
func (stubDriver) Pause(slot player.Slot) error                                      { return nil }
func (stubDriver) SeekToStart(slot player.Slot) error                                { return nil }
func (stubDriver) Close() error                                                      { return nil }

type stubMerger struct{}

func (stubMerger) Merge(ctx context.Context, segments []segment.Segment) (segment.Ref, error) {
	return "merged.mp4", nil
}

func testAPI(t *testing.T) (http.Handler, string) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	secret := []byte("test-secret")
	sessions := store.NewSessionStore(database, zerolog.Nop())
	bus := events.NewBus()
	manager := session.NewManager(sessions, stubMerger{}, bus, func() (player.Driver, error) {
		return stubDriver{}, nil
	}, session.Options{MergeTimeout: time.Second}, zerolog.Nop())
	t.Cleanup(func() { manager.Close() })

	a := New(database, secret, sessions, manager, bus, nil, nil, nil, zerolog.Nop())
	router := chi.NewRouter()
	a.Routes(router)

	token, err := auth.Issue(secret, auth.Claims{UserID: "u1", Role: "operator"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return router, token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	handler, token := testAPI(t)

	rr := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", token, sessionCreateRequest{
		Name: "walkthrough",
		Segments: []segmentRequest{
			{Kind: "video", VideoRef: "a.mp4"},
			{Kind: "image", ImageRef: "b.jpg"},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var created models.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+created.ID+"/start", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/"+created.ID+"/status", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	var status statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "playing_video" {
		t.Fatalf("state = %s, want playing_video", status.State)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+created.ID+"/stop", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/sessions/"+created.ID+"/status", token, nil)
	var stopped statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &stopped); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if stopped.State != "stopped" {
		t.Fatalf("state after stop = %s, want stopped", stopped.State)
	}
}

func TestConfirmWithoutPlaybackConflicts(t *testing.T) {
	handler, token := testAPI(t)

	rr := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", token, sessionCreateRequest{
		Name:     "idle",
		Segments: []segmentRequest{{Kind: "video", VideoRef: "a.mp4"}},
	})
	var created models.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/"+created.ID+"/confirm", token, confirmRequest{})
	if rr.Code != http.StatusConflict {
		t.Fatalf("confirm on stopped session: expected 409, got %d", rr.Code)
	}
}

func TestCreateRejectsAmbiguousSegment(t *testing.T) {
	handler, token := testAPI(t)

	rr := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", token, sessionCreateRequest{
		Name: "broken",
		Segments: []segmentRequest{
			{Kind: "video", VideoRef: "a.mp4", ImageRef: "a.jpg"},
		},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRequiresAuthentication(t *testing.T) {
	handler, _ := testAPI(t)

	rr := doJSON(t, handler, http.MethodGet, "/api/v1/sessions", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health should be public, got %d", rr.Code)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := database.Create(&models.User{ID: "u1", Email: "op@example.com", Password: hash, Role: "operator"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	secret := []byte("test-secret")
	sessions := store.NewSessionStore(database, zerolog.Nop())
	bus := events.NewBus()
	manager := session.NewManager(sessions, stubMerger{}, bus, func() (player.Driver, error) {
		return stubDriver{}, nil
	}, session.Options{}, zerolog.Nop())
	t.Cleanup(func() { manager.Close() })

	a := New(database, secret, sessions, manager, bus, nil, nil, nil, zerolog.Nop())
	router := chi.NewRouter()
	a.Routes(router)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Email:    "op@example.com",
		Password: "hunter2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := auth.Parse(secret, resp["token"]); err != nil {
		t.Fatalf("returned token invalid: %v", err)
	}

	rr = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Email:    "op@example.com",
		Password: "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", rr.Code)
	}
}
