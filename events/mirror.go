// Copyright 2025 Symbiont
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Mirror republishes bus events onto a Redis channel so dashboards and
// plug-ins outside the process can follow along. Mirror failures are fail
// open: the in-process stream is the source of truth and must not stall on
// a broken external broker.
type Mirror struct {
	client  *redis.Client
	channel string
}

// NewMirror connects to Redis and verifies the connection. addr accepts
// either a bare host:port or a redis:// URL.
func NewMirror(addr, channel string) (*Mirror, error) {
	var opts *redis.Options
	if parsed, err := redis.ParseURL(addr); err == nil {
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to event mirror: %w", err)
	}

	if channel == "" {
		channel = "symbiont:events"
	}
	return &Mirror{client: client, channel: channel}, nil
}

// Publish sends the event to the mirror channel. Errors are logged and
// swallowed.
func (m *Mirror) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Events] Failed to marshal event for mirror: %v", err)
		return
	}
	if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
		log.Printf("[Events] Mirror publish failed (failing open): %v", err)
	}
}

// Close releases the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
