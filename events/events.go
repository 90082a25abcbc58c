// Copyright 2025 Symbiont
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events carries the runtime's event stream: feedback, gate
// violations, monitor alerts, and the private RDI channel. Subscribers are
// in-process; an optional Redis mirror republishes everything except
// rdi-private events for external collaborators.
package events

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the event family.
type Kind string

const (
	KindFeedback      Kind = "feedback"
	KindGateViolation Kind = "gate-violation"
	KindARIAlert      Kind = "ari-alert"
	KindEDMDetection  Kind = "edm-detection"
	KindRDIPrivate    Kind = "rdi-private"
)

// Event is a single bus message. Payload values must be JSON-marshalable.
type Event struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"user_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Subscription is a filtered view of the bus. Close it when done; an
// abandoned subscription eventually drops events once its buffer fills.
type Subscription struct {
	C chan Event

	id    int
	kinds map[Kind]bool
	bus   *Bus
	once  sync.Once
}

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.id)
		close(s.C)
	})
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus is the in-process publish/subscribe hub. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu         sync.RWMutex
	subs       map[int]*Subscription
	nextID     int
	bufferSize int
	mirror     *Mirror
	dropped    atomic.Uint64
}

// NewBus creates a bus whose subscriptions buffer up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Bus{
		subs:       make(map[int]*Subscription),
		bufferSize: bufferSize,
	}
}

// AttachMirror republishes future events externally. Pass nil to detach.
func (b *Bus) AttachMirror(m *Mirror) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirror = m
}

// Subscribe returns a subscription delivering the given kinds, or every
// kind when none are named.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		C:     make(chan Event, b.bufferSize),
		id:    b.nextID,
		kinds: make(map[Kind]bool, len(kinds)),
		bus:   b,
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}
	b.subs[b.nextID] = sub
	b.nextID++
	return sub
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish stamps missing id/timestamp fields and fans the event out.
// RDI-private events stay strictly in-process.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	mirror := b.mirror
	for _, sub := range b.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			b.dropped.Add(1)
			log.Printf("[Events] Subscriber buffer full, dropped %s event", ev.Kind)
		}
	}
	b.mu.RUnlock()

	if mirror != nil && ev.Kind != KindRDIPrivate {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		mirror.Publish(ctx, ev)
		cancel()
	}
}

// SubscriberCount reports attached subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
