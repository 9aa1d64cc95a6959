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
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	name   string
	values []any
}

type fakeBridgeConn struct {
	signal  chan<- *dbus.Signal
	emitted chan emitted
	mu      syncutil.Mutex
}

func newFakeBridgeConn() *fakeBridgeConn {
	return &fakeBridgeConn{emitted: make(chan emitted, 16)}
}

func (c *fakeBridgeConn) Emit(_ dbus.ObjectPath, name string, values ...any) error {
	c.emitted <- emitted{name: name, values: values}
	return nil
}

func (*fakeBridgeConn) AddMatchSignal(...dbus.MatchOption) error    { return nil }
func (*fakeBridgeConn) RemoveMatchSignal(...dbus.MatchOption) error { return nil }
func (*fakeBridgeConn) Names() []string                             { return []string{":1.7"} }

func (c *fakeBridgeConn) Signal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signal = ch
}

func (c *fakeBridgeConn) RemoveSignal(chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signal = nil
}

func (c *fakeBridgeConn) deliver(sig *dbus.Signal) {
	c.mu.Lock()
	ch := c.signal
	c.mu.Unlock()
	ch <- sig
}

func TestDBusBridge_EmitsLocalEvents(t *testing.T) {
	t.Parallel()

	conn := newFakeBridgeConn()
	bus := NewBus()
	bridge := NewDBusBridge(conn, bus)
	require.NoError(t, bridge.Start())
	defer bridge.Stop()

	bus.Publish(ActionRequested{UDI: "/dev/a", Action: ActionTeardown, Origin: OriginLocal})
	bus.Publish(ActionRequested{UDI: "/dev/a", Action: ActionSetup, Origin: OriginRemote, Sender: ":1.9"})
	bus.Publish(ActionDone{
		UDI: "/dev/a", Action: ActionTeardown, Origin: OriginLocal,
		ErrorKind: "remote", Message: "busy",
	})

	select {
	case e := <-conn.emitted:
		assert.Equal(t, BridgeInterface+".teardownRequested", e.name)
		assert.Equal(t, []any{"/dev/a"}, e.values)
	case <-time.After(time.Second):
		t.Fatal("no signal emitted")
	}
	select {
	case e := <-conn.emitted:
		assert.Equal(t, BridgeInterface+".teardownDone", e.name, "remote events are not re-emitted")
		assert.Equal(t, []any{"/dev/a", "remote", "busy"}, e.values)
	case <-time.After(time.Second):
		t.Fatal("no signal emitted")
	}
}

func TestDBusBridge_RepublishesRemoteSignals(t *testing.T) {
	t.Parallel()

	conn := newFakeBridgeConn()
	bus := NewBus()
	events, _ := bus.Subscribe(8)
	bridge := NewDBusBridge(conn, bus)
	require.NoError(t, bridge.Start())
	defer bridge.Stop()

	conn.deliver(&dbus.Signal{
		Sender: ":1.7",
		Path:   BridgePath,
		Name:   BridgeInterface + ".setupRequested",
		Body:   []any{"/own"},
	})
	conn.deliver(&dbus.Signal{
		Sender: ":1.42",
		Path:   BridgePath,
		Name:   BridgeInterface + ".setupRequested",
		Body:   []any{"/dev/b"},
	})

	select {
	case ev := <-events:
		req, ok := ev.(ActionRequested)
		require.True(t, ok)
		assert.Equal(t, "/dev/b", req.UDI, "own signals are skipped")
		assert.Equal(t, OriginRemote, req.Origin)
		assert.Equal(t, ":1.42", req.Sender)
	case <-time.After(time.Second):
		t.Fatal("no event republished")
	}
}

func TestDecodeSignal(t *testing.T) {
	t.Parallel()

	ev, ok := decodeSignal(&dbus.Signal{
		Sender: ":1.3",
		Path:   BridgePath,
		Name:   BridgeInterface + ".teardownDone",
		Body:   []any{"/dev/c", "busy", "device busy"},
	})
	require.True(t, ok)
	done, ok := ev.(ActionDone)
	require.True(t, ok)
	assert.Equal(t, ActionTeardown, done.Action)
	assert.Equal(t, "busy", done.ErrorKind)
	assert.Equal(t, "device busy", done.Message)

	ev, ok = decodeSignal(&dbus.Signal{
		Path: BridgePath,
		Name: BridgeInterface + ".setupDone",
		Body: []any{"/dev/c"},
	})
	require.True(t, ok)
	assert.Equal(t, "none", ev.(ActionDone).ErrorKind)

	_, ok = decodeSignal(&dbus.Signal{Path: BridgePath, Name: BridgeInterface + ".bogus", Body: []any{"/x"}})
	assert.False(t, ok)
	_, ok = decodeSignal(&dbus.Signal{Path: BridgePath, Name: BridgeInterface + ".setupDone", Body: []any{42}})
	assert.False(t, ok)
	_, ok = decodeSignal(&dbus.Signal{Path: "/elsewhere", Name: BridgeInterface + ".setupDone", Body: []any{"/x"}})
	assert.False(t, ok)
	_, ok = decodeSignal(&dbus.Signal{Path: BridgePath, Name: BridgeInterface + "." + memberAccessible, Body: []any{"/x", true}})
	assert.False(t, ok)
}
