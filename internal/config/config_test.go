package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected default backend: %q", cfg.DBBackend)
	}
	if cfg.StopMotionFrameInterval != DefaultStopMotionFrameInterval {
		t.Fatalf("unexpected frame interval: %v", cfg.StopMotionFrameInterval)
	}
	if cfg.StallWatchdog != 0 {
		t.Fatal("stall watchdog should be disabled by default")
	}
}

func TestLoadReadsFrameInterval(t *testing.T) {
	t.Setenv("CLIPLOOP_STOP_MOTION_FRAME_MS", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StopMotionFrameInterval != 250*time.Millisecond {
		t.Fatalf("frame interval = %v, want 250ms", cfg.StopMotionFrameInterval)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CLIPLOOP_DB_BACKEND", "mongodb")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail for unknown backend")
	}
}

func TestLoadProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("CLIPLOOP_ENV", "production")
	t.Setenv("CLIPLOOP_JWT_SIGNING_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without signing key")
	}

	t.Setenv("CLIPLOOP_JWT_SIGNING_KEY", "supersecret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with signing key to succeed: %v", err)
	}
}
