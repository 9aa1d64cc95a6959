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
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	BridgeInterface                   = "org.zaparoo.Storage.Device"
	BridgePath        dbus.ObjectPath = "/org/zaparoo/Storage/Device"
	memberAccessible                  = "accessibilityChanged"
	memberRequested                   = "Requested"
	memberDone                        = "Done"
	bridgeSignalQueue                 = 32
)

// BridgeConn is the subset of *dbus.Conn used by the bridge.
type BridgeConn interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Names() []string
}

// DBusBridge mirrors local lifecycle events as session bus signals and
// republishes signals from other processes as remote-origin events, so
// every process driving the same device sees each other's actions.
//
// Signals: setupRequested(s udi), setupDone(s udi, s kind, s message),
// teardownRequested(s udi), teardownDone(s udi, s kind, s message),
// accessibilityChanged(s udi, b accessible).
type DBusBridge struct {
	conn     BridgeConn
	bus      *Bus
	signals  chan *dbus.Signal
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	subID    int
}

func NewDBusBridge(conn BridgeConn, bus *Bus) *DBusBridge {
	return &DBusBridge{
		conn:     conn,
		bus:      bus,
		signals:  make(chan *dbus.Signal, bridgeSignalQueue),
		stopChan: make(chan struct{}),
	}
}

func (b *DBusBridge) Start() error {
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(BridgePath),
		dbus.WithMatchInterface(BridgeInterface),
	); err != nil {
		return fmt.Errorf("failed to add match for %s: %w", BridgeInterface, err)
	}
	b.conn.Signal(b.signals)

	events, id := b.bus.Subscribe(DefaultBufferSize)
	b.subID = id

	b.wg.Add(2)
	go b.forwardLocal(events)
	go b.receiveRemote()
	return nil
}

func (b *DBusBridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.bus.Unsubscribe(b.subID)
		b.conn.RemoveSignal(b.signals)
		_ = b.conn.RemoveMatchSignal(
			dbus.WithMatchObjectPath(BridgePath),
			dbus.WithMatchInterface(BridgeInterface),
		)
		b.wg.Wait()
	})
}

func (b *DBusBridge) forwardLocal(events <-chan Event) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := b.emit(ev); err != nil {
				log.Warn().Err(err).Str("method", ev.Method()).Msg("failed to emit bridge signal")
			}
		}
	}
}

func (b *DBusBridge) emit(ev Event) error {
	var (
		member string
		args   []any
	)
	switch e := ev.(type) {
	case ActionRequested:
		if e.Origin != OriginLocal {
			return nil
		}
		member = string(e.Action) + memberRequested
		args = []any{e.UDI}
	case ActionDone:
		if e.Origin != OriginLocal {
			return nil
		}
		member = string(e.Action) + memberDone
		args = []any{e.UDI, e.ErrorKind, e.Message}
	case AccessibilityChanged:
		member = memberAccessible
		args = []any{e.UDI, e.Accessible}
	default:
		return nil
	}
	if err := b.conn.Emit(BridgePath, BridgeInterface+"."+member, args...); err != nil {
		return fmt.Errorf("emit %s: %w", member, err)
	}
	return nil
}

func (b *DBusBridge) receiveRemote() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopChan:
			return
		case sig, ok := <-b.signals:
			if !ok || sig == nil {
				return
			}
			if b.isOwn(sig.Sender) {
				continue
			}
			if ev, ok := decodeSignal(sig); ok {
				b.bus.Publish(ev)
			}
		}
	}
}

func (b *DBusBridge) isOwn(sender string) bool {
	for _, n := range b.conn.Names() {
		if n == sender {
			return true
		}
	}
	return false
}

// decodeSignal turns a bridge signal into a remote event. Accessibility
// signals from other processes are not republished: each process computes
// accessibility from the storage service itself.
func decodeSignal(sig *dbus.Signal) (Event, bool) {
	if sig.Path != BridgePath || len(sig.Body) == 0 {
		return nil, false
	}
	udi, ok := sig.Body[0].(string)
	if !ok {
		return nil, false
	}

	name := sig.Name
	if len(name) <= len(BridgeInterface)+1 || name[:len(BridgeInterface)] != BridgeInterface {
		return nil, false
	}
	member := name[len(BridgeInterface)+1:]

	for _, action := range []Action{ActionSetup, ActionTeardown} {
		switch member {
		case string(action) + memberRequested:
			return ActionRequested{
				UDI:    udi,
				Action: action,
				Origin: OriginRemote,
				Sender: sig.Sender,
			}, true
		case string(action) + memberDone:
			done := ActionDone{
				UDI:       udi,
				Action:    action,
				Origin:    OriginRemote,
				Sender:    sig.Sender,
				ErrorKind: "none",
			}
			if len(sig.Body) >= 3 {
				if k, ok := sig.Body[1].(string); ok && k != "" {
					done.ErrorKind = k
				}
				if m, ok := sig.Body[2].(string); ok {
					done.Message = m
				}
			}
			return done, true
		}
	}
	return nil, false
}
