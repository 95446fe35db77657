/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cliploop/internal/events"
)

const natsSubjectPrefix = "cliploop.events."

// NATSBus bridges events over NATS core pub/sub. The client reconnects on its
// own; while disconnected, published events are still delivered locally.
type NATSBus struct {
	conn   *nats.Conn
	logger zerolog.Logger
	local  *events.Bus
	nodeID string

	mu     sync.Mutex
	subs   map[events.EventType]*nats.Subscription
	refs   map[events.EventType]int
	closed bool
}

// NewNATSBus connects to the NATS server at url. An unreachable server is not
// an error; the bus starts local-only and the client keeps retrying.
func NewNATSBus(url, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	log := logger.With().Str("component", "nats_bus").Logger()

	nb := &NATSBus{
		logger: log,
		local:  events.NewBus(),
		nodeID: nodeID,
		subs:   make(map[events.EventType]*nats.Subscription),
		refs:   make(map[events.EventType]int),
	}

	conn, err := nats.Connect(url,
		nats.Name("cliploop-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("nats unreachable, events stay local")
		return nb, nil
	}
	nb.conn = conn
	log.Info().Str("url", url).Msg("nats event bridge connected")
	return nb, nil
}

// Subscribe registers a local subscriber and opens the NATS subscription for
// the event type on first use.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	sub := nb.local.Subscribe(eventType)
	nb.refs[eventType]++

	if nb.conn == nil || nb.closed {
		return sub
	}
	if _, exists := nb.subs[eventType]; !exists {
		subject := natsSubjectPrefix + string(eventType)
		nsub, err := nb.conn.Subscribe(subject, func(msg *nats.Msg) {
			var env envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("bad nats event payload")
				return
			}
			if env.NodeID == nb.nodeID {
				return
			}
			nb.local.Publish(eventType, env.Payload)
		})
		if err != nil {
			nb.logger.Error().Err(err).Str("subject", subject).Msg("nats subscribe failed")
		} else {
			nb.subs[eventType] = nsub
		}
	}
	return sub
}

// Publish delivers locally and forwards to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	nb.mu.Lock()
	conn := nb.conn
	closed := nb.closed
	nb.mu.Unlock()
	if conn == nil || closed {
		return
	}

	data, err := json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nb.nodeID,
	})
	if err != nil {
		nb.logger.Error().Err(err).Msg("marshal nats event")
		return
	}
	if err := conn.Publish(natsSubjectPrefix+string(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish to nats failed")
	}
}

// Unsubscribe removes a subscriber and drains the NATS subscription when it
// was the last one for its event type.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	nb.local.Unsubscribe(eventType, sub)
	if nb.refs[eventType] > 0 {
		nb.refs[eventType]--
	}
	if nb.refs[eventType] == 0 {
		if nsub, exists := nb.subs[eventType]; exists {
			if err := nsub.Drain(); err != nil {
				nb.logger.Warn().Err(err).Msg("drain nats subscription")
			}
			delete(nb.subs, eventType)
		}
	}
}

// Close drains and closes the NATS connection.
func (nb *NATSBus) Close() error {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if nb.closed {
		return nil
	}
	nb.closed = true
	if nb.conn == nil {
		return nil
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	return nil
}
