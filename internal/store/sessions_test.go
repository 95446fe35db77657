package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/cliploop/internal/db"
	"github.com/friendsincode/cliploop/internal/models"
	"github.com/friendsincode/cliploop/internal/segment"
)

func testStore(t *testing.T) *SessionStore {
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
	return NewSessionStore(database, zerolog.Nop())
}

func TestCreateAndReloadSegmentsInOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	segs := []segment.Segment{
		segment.NewVideo("a.mp4"),
		segment.NewImageWithMotion("b.jpg", "b.mov"),
		segment.NewVideo("c.mp4"),
	}
	session, err := s.Create(ctx, "morning", segs, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if session.State != models.SessionStopped {
		t.Fatalf("new session state = %s, want %s", session.State, models.SessionStopped)
	}

	reloaded, err := s.Segments(ctx, session.ID)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(reloaded) != 3 {
		t.Fatalf("reloaded %d segments, want 3", len(reloaded))
	}
	if reloaded[0].VideoRef != "a.mp4" || reloaded[1].ImageRef != "b.jpg" || reloaded[2].VideoRef != "c.mp4" {
		t.Fatalf("segment order lost: %+v", reloaded)
	}
	if reloaded[1].MotionRef != "b.mov" {
		t.Fatalf("motion ref lost: %+v", reloaded[1])
	}
}

func TestCreateRejectsInvalidList(t *testing.T) {
	s := testStore(t)
	if _, err := s.Create(context.Background(), "empty", nil, 0); err == nil {
		t.Fatal("expected error for empty list")
	}
}

func TestSetStateUpdatesIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	session, err := s.Create(ctx, "loop", []segment.Segment{segment.NewVideo("a.mp4")}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetState(ctx, session.ID, models.SessionPlaying, 0); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	got, err := s.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != models.SessionPlaying {
		t.Fatalf("state = %s, want %s", got.State, models.SessionPlaying)
	}

	if err := s.SetState(ctx, "missing", models.SessionPlaying, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetState on missing session = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesSegments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	session, err := s.Create(ctx, "gone", []segment.Segment{segment.NewImage("x.jpg")}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if _, err := s.Segments(ctx, session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Segments after delete = %v, want ErrNotFound", err)
	}
}

func TestExportRecordLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	session, err := s.Create(ctx, "export", []segment.Segment{segment.NewVideo("a.mp4")}, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	record, err := s.BeginExport(ctx, session.ID)
	if err != nil {
		t.Fatalf("BeginExport: %v", err)
	}
	if err := s.FinishExport(ctx, record.ID, models.SessionExported, "out.mp4", ""); err != nil {
		t.Fatalf("FinishExport: %v", err)
	}
	if err := s.SetOutput(ctx, session.ID, "out.mp4"); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}

	got, err := s.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OutputRef != "out.mp4" {
		t.Fatalf("output ref = %q, want out.mp4", got.OutputRef)
	}
}
