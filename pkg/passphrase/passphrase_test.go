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

package passphrase

import (
	"context"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	exported map[dbus.ObjectPath]any
	callErr  error
	calls    []*dbus.Call
	names    []string
	mu       syncutil.Mutex
}

func newFakeConn() *fakeConn {
	return &fakeConn{exported: make(map[dbus.ObjectPath]any), names: []string{":1.42"}}
}

func (c *fakeConn) ExportWithMap(v any, mapping map[string]string, p dbus.ObjectPath, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mapping["PassphraseReply"] != "passphraseReply" {
		panic("reply method not mapped")
	}
	c.exported[p] = v
	return nil
}

func (c *fakeConn) Export(v any, p dbus.ObjectPath, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v == nil {
		delete(c.exported, p)
	}
	return nil
}

func (c *fakeConn) Names() []string { return c.names }

func (c *fakeConn) Object(string, dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{conn: c}
}

func (c *fakeConn) replyObject(t *testing.T) *replyObject {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.exported, 1)
	for _, v := range c.exported {
		obj, ok := v.(*replyObject)
		require.True(t, ok)
		return obj
	}
	return nil
}

func (c *fakeConn) exportedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exported)
}

type fakeObject struct {
	dbus.BusObject
	conn *fakeConn
}

func (o *fakeObject) GoWithContext(
	_ context.Context,
	method string,
	_ dbus.Flags,
	ch chan *dbus.Call,
	args ...any,
) *dbus.Call {
	call := &dbus.Call{Method: method, Args: args, Done: ch, Err: o.conn.callErr}
	o.conn.mu.Lock()
	o.conn.calls = append(o.conn.calls, call)
	o.conn.mu.Unlock()
	ch <- call
	return call
}

func awaitReply(t *testing.T, ch <-chan Reply) Reply {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no passphrase reply")
		return Reply{}
	}
}

func TestRequest_DeliversOneReply(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	p := NewDBusProvider(conn, Target{AppID: "test"})
	ch, err := p.Request(context.Background(), "/org/freedesktop/UDisks2/block_devices/sdb1")
	require.NoError(t, err)

	obj := conn.replyObject(t)
	assert.Nil(t, obj.PassphraseReply("hunter2"))
	assert.Nil(t, obj.PassphraseReply("second answer is ignored"))

	r := awaitReply(t, ch)
	require.NoError(t, r.Err)
	assert.Equal(t, "hunter2", r.Passphrase)
	assert.Zero(t, conn.exportedCount(), "reply object is unexported after the answer")

	require.Len(t, conn.calls, 1)
	call := conn.calls[0]
	assert.Equal(t, DefaultInterface+".showPassphraseDialog", call.Method)
	require.Len(t, call.Args, 5)
	assert.Equal(t, "/org/freedesktop/UDisks2/block_devices/sdb1", call.Args[0])
	assert.Equal(t, ":1.42", call.Args[1])
	returnPath, ok := call.Args[2].(dbus.ObjectPath)
	require.True(t, ok)
	assert.True(t, returnPath.IsValid())
	assert.Equal(t, uint32(0), call.Args[3])
	assert.Equal(t, "test", call.Args[4])
}

func TestRequest_EmptyReplyIsCancel(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ch, err := NewDBusProvider(conn, Target{}).Request(context.Background(), "/x")
	require.NoError(t, err)
	conn.replyObject(t).PassphraseReply("")

	r := awaitReply(t, ch)
	require.NoError(t, r.Err)
	assert.Empty(t, r.Passphrase)
}

func TestRequest_NoProvider(t *testing.T) {
	t.Parallel()

	_, err := NewDBusProvider(nil, Target{}).Request(context.Background(), "/x")
	require.ErrorIs(t, err, ErrNoProvider)

	conn := newFakeConn()
	conn.callErr = dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}
	ch, err := NewDBusProvider(conn, Target{}).Request(context.Background(), "/x")
	require.NoError(t, err)
	r := awaitReply(t, ch)
	require.ErrorIs(t, r.Err, ErrNoProvider)
	assert.Zero(t, conn.exportedCount())
}

func TestRequest_ContextCancel(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewDBusProvider(conn, Target{}).Request(ctx, "/x")
	require.NoError(t, err)
	cancel()

	r := awaitReply(t, ch)
	require.ErrorIs(t, r.Err, context.Canceled)
}
