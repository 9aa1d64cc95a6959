// Zaparoo Storage
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Storage.
//
// Zaparoo Storage is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Storage is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Storage.  If not, see <http://www.gnu.org/licenses/>.

package notify

import (
	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the subscriber buffer used when callers have no
// better estimate.
const DefaultBufferSize = 64

// Bus broadcasts events to all subscribers. Publish is synchronous: when it
// returns, the event has been queued for (or dropped from) every subscriber,
// so each subscriber observes events in publish order. Sends never block; a
// full subscriber loses the event and a warning is logged.
type Bus struct {
	subscribers map[int]chan Event
	mu          syncutil.RWMutex
	nextID      int
	closed      bool
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Int("subscriber_id", id).
				Str("method", ev.Method()).
				Msg("subscriber channel full, dropping event")
		}
	}
}

// Subscribe registers a new subscriber. The returned channel is closed by
// Unsubscribe or Close.
func (b *Bus) Subscribe(bufferSize int) (events <-chan Event, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id = b.nextID
	b.nextID++

	ch := make(chan Event, bufferSize)
	if b.closed {
		close(ch)
		return ch, id
	}
	b.subscribers[id] = ch

	log.Debug().
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Msg("new bus subscriber registered")

	return ch, id
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("bus subscriber unsubscribed")
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("closed bus subscriber on shutdown")
	}
	b.subscribers = make(map[int]chan Event)
	b.closed = true
}
