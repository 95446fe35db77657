/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to an external broker so
// multiple instances can observe each other's playback and export events.
package eventbus

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/config"
	"github.com/friendsincode/cliploop/internal/events"
)

// Bridge forwards local events to a broker and replays remote events into the
// local bus. A Bridge is optional; playback works without one.
type Bridge interface {
	events.PubSub
	Close() error
}

// New builds the bridge named by cfg.Bridge. BridgeNone returns nil.
func New(cfg *config.Config, logger zerolog.Logger) (Bridge, error) {
	switch cfg.Bridge {
	case config.BridgeNone, "":
		return nil, nil
	case config.BridgeRedis:
		return NewRedisBus(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, nodeID(cfg), logger)
	case config.BridgeNATS:
		return NewNATSBus(cfg.NATSURL, nodeID(cfg), logger)
	default:
		return nil, fmt.Errorf("unsupported event bridge %q", cfg.Bridge)
	}
}

func nodeID(cfg *config.Config) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "cliploop"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// envelope is the wire format shared by both brokers.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}
