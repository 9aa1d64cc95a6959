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

package hotplug

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-storage/pkg/metrics"
	"github.com/ZaparooProject/zaparoo-storage/pkg/sysfs"
	"github.com/rs/zerolog/log"
)

// DefaultEventBuffer is the size of the Events channel.
const DefaultEventBuffer = 64

// SubsystemLister lists the subsystems currently known to the system.
type SubsystemLister interface {
	Subsystems() []string
}

// reader is one running subscription and its goroutine.
type reader struct {
	sub  Subscription
	stop chan struct{}
	done chan struct{}
}

// Monitor maintains a hotplug subscription and emits decoded events.
//
// Each subscription has a single reader goroutine that receives one record,
// decodes it and delivers the event before receiving again, so delivery
// follows kernel order and decoding never overlaps.
type Monitor struct {
	dialer   Dialer
	lister   SubsystemLister
	metrics  *metrics.Metrics
	events   chan Event
	current  *reader
	filters  []Filter
	initial  []string
	group    Group
	mu       syncutil.Mutex
	stopOnce sync.Once
	stopped  bool
}

type Option func(*Monitor)

// WithGroup selects the netlink group. Defaults to GroupUdev.
func WithGroup(g Group) Option {
	return func(m *Monitor) { m.group = g }
}

// WithSubsystems sets the filters Start subscribes with.
func WithSubsystems(filters []string) Option {
	return func(m *Monitor) { m.initial = slices.Clone(filters) }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithEventBuffer sizes the Events channel.
func WithEventBuffer(n int) Option {
	return func(m *Monitor) { m.events = make(chan Event, n) }
}

func NewMonitor(dialer Dialer, lister SubsystemLister, opts ...Option) *Monitor {
	m := &Monitor{
		dialer: dialer,
		lister: lister,
		group:  GroupUdev,
		events: make(chan Event, DefaultEventBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events delivers decoded events. It is closed by Stop.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start subscribes with the configured filters and stops the monitor when
// ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.SetWatchedSubsystems(m.initial); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	return nil
}

// SetWatchedSubsystems replaces the filter set and resubscribes. The prior
// subscription is fully released before the new one is dialed. An empty
// list receives every subsystem. Malformed filters are rejected with
// ErrInvalidFilter and leave the current subscription untouched.
func (m *Monitor) SetWatchedSubsystems(list []string) error {
	filters, err := ParseFilters(list)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrClosed
	}

	m.closeCurrent()

	sub, err := m.dialer.Dial(m.group)
	if err != nil {
		m.filters = nil
		return fmt.Errorf("failed to subscribe to hotplug events: %w", err)
	}

	r := &reader{
		sub:  sub,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.current = r
	m.filters = filters
	go m.read(r, filters)

	log.Info().
		Strs("subsystems", list).
		Str("group", m.group.String()).
		Msg("hotplug subscription started")
	return nil
}

// WatchedSubsystems returns the explicit filters, or when watching
// everything, the subsystems present right now. Empty when not subscribed.
func (m *Monitor) WatchedSubsystems() []string {
	m.mu.Lock()
	subscribed := m.current != nil
	filters := slices.Clone(m.filters)
	m.mu.Unlock()

	if !subscribed {
		return nil
	}
	if len(filters) > 0 {
		out := make([]string, len(filters))
		for i, f := range filters {
			out[i] = f.String()
		}
		return out
	}
	if m.lister == nil {
		return nil
	}
	return m.lister.Subsystems()
}

// Stop releases the subscription and closes Events.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.closeCurrent()
		m.mu.Unlock()
		close(m.events)
	})
}

// closeCurrent stops the reader and waits for it. Callers hold m.mu.
func (m *Monitor) closeCurrent() {
	r := m.current
	if r == nil {
		return
	}
	close(r.stop)
	if err := r.sub.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close hotplug subscription")
	}
	<-r.done
	m.current = nil
}

func (m *Monitor) read(r *reader, filters []Filter) {
	defer close(r.done)

	for {
		msg, err := r.sub.Receive()
		if errors.Is(err, ErrClosed) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("hotplug subscription failed")
			return
		}

		ev, ok := m.decode(msg, filters)
		if !ok {
			continue
		}

		select {
		case m.events <- ev:
		case <-r.stop:
			return
		}
	}
}

// decode turns a record into an event. Malformed records, unknown actions
// and filtered subsystems yield false.
func (m *Monitor) decode(msg []byte, filters []Filter) (Event, bool) {
	rec, err := Decode(msg)
	if err != nil {
		log.Warn().Err(err).Int("len", len(msg)).Msg("dropping malformed uevent")
		m.metrics.RecordHotplugDropped()
		return Event{}, false
	}

	action, ok := ParseAction(rec.Action)
	if !ok {
		log.Warn().
			Str("action", rec.Action).
			Str("devpath", rec.Props[devices.UdevDevPath]).
			Msg("unhandled device action")
		m.metrics.RecordHotplugDropped()
		return Event{}, false
	}

	if !matchAny(filters, rec.Props[devices.UdevSubsystem], rec.Props[devices.UdevDevType]) {
		return Event{}, false
	}

	seq, _ := strconv.ParseUint(rec.Props["SEQNUM"], 10, 64)
	m.metrics.RecordHotplugEvent(string(action))

	log.Debug().
		Str("action", string(action)).
		Str("devpath", rec.Props[devices.UdevDevPath]).
		Uint64("seqnum", seq).
		Msg("hotplug event")

	return Event{
		Action: action,
		Device: sysfs.DeviceFromProperties(rec.Props),
		Seqnum: seq,
	}, true
}
