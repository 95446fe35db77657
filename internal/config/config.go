/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bridge selection for mirroring playback events off-process.
type EventBridge string

const (
	BridgeNone  EventBridge = "none"
	BridgeRedis EventBridge = "redis"
	BridgeNATS  EventBridge = "nats"
)

// DefaultStopMotionFrameInterval is the per-frame display duration for still
// image segments. Capture rate and preview rate share this value so a stop
// motion sequence reviews at the speed it was shot.
const DefaultStopMotionFrameInterval = 500 * time.Millisecond

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	MediaRoot   string
	OutputDir   string

	// Playback
	GStreamerBin            string
	StopMotionFrameInterval time.Duration
	StallWatchdog           time.Duration // 0 disables the decoder stall watchdog

	// Export
	MergeBin     string
	MergeTimeout time.Duration

	JWTSigningKey string
	MetricsBind   string
	InstanceID    string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event bridge configuration
	Bridge        EventBridge
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	// S3 object storage for exported output
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN URL
	S3UsePathStyle    bool   // Required for MinIO
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("CLIPLOOP_ENV", "development"),
		HTTPBind:    getEnv("CLIPLOOP_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("CLIPLOOP_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("CLIPLOOP_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("CLIPLOOP_DB_DSN", "cliploop.db"),
		MediaRoot:   getEnv("CLIPLOOP_MEDIA_ROOT", "./media"),
		OutputDir:   getEnv("CLIPLOOP_OUTPUT_DIR", "./output"),

		GStreamerBin:            getEnv("CLIPLOOP_GSTREAMER_BIN", "gst-launch-1.0"),
		StopMotionFrameInterval: getEnvDurationMS("CLIPLOOP_STOP_MOTION_FRAME_MS", DefaultStopMotionFrameInterval),
		StallWatchdog:           getEnvDurationMS("CLIPLOOP_STALL_WATCHDOG_MS", 0),

		MergeBin:     getEnv("CLIPLOOP_MERGE_BIN", "ffmpeg"),
		MergeTimeout: getEnvDurationMS("CLIPLOOP_MERGE_TIMEOUT_MS", 120_000),

		JWTSigningKey: getEnv("CLIPLOOP_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("CLIPLOOP_METRICS_BIND", "127.0.0.1:9000"),
		InstanceID:    getEnv("CLIPLOOP_INSTANCE_ID", ""),

		TracingEnabled:    getEnvBool("CLIPLOOP_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("CLIPLOOP_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("CLIPLOOP_TRACING_SAMPLE_RATE", 1.0),

		Bridge:        EventBridge(getEnv("CLIPLOOP_EVENT_BRIDGE", string(BridgeNone))),
		RedisAddr:     getEnv("CLIPLOOP_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("CLIPLOOP_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("CLIPLOOP_REDIS_DB", 0),
		NATSURL:       getEnv("CLIPLOOP_NATS_URL", "nats://localhost:4222"),

		S3AccessKeyID:     getEnvAny([]string{"CLIPLOOP_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"CLIPLOOP_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"CLIPLOOP_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnv("CLIPLOOP_S3_BUCKET", ""),
		S3Endpoint:        getEnv("CLIPLOOP_S3_ENDPOINT", ""),
		S3PublicBaseURL:   getEnv("CLIPLOOP_S3_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:    getEnvBool("CLIPLOOP_S3_USE_PATH_STYLE", false),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.Bridge != BridgeNone && cfg.Bridge != BridgeRedis && cfg.Bridge != BridgeNATS {
		return nil, fmt.Errorf("unsupported event bridge %q", cfg.Bridge)
	}

	if cfg.StopMotionFrameInterval <= 0 {
		return nil, fmt.Errorf("stop motion frame interval must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("CLIPLOOP_JWT_SIGNING_KEY must be provided in production")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDurationMS(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
