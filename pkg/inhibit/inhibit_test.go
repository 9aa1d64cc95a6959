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

package inhibit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	err  error
	args []any
	fd   dbus.UnixFD
}

func (c *fakeConn) Object(string, dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{conn: c}
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
	o.conn.args = args
	call := &dbus.Call{Method: method, Done: ch, Err: o.conn.err}
	if o.conn.err == nil {
		call.Body = []any{o.conn.fd}
	}
	ch <- call
	return call
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no inhibit result")
		return Result{}
	}
}

func TestLogind_TakesBlockLock(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{fd: 42}
	r := await(t, NewLogind(conn, "zaparoo-storage").Inhibit(context.Background(), "unmounting /dev/sdb1"))
	require.NoError(t, r.Err)
	require.NotNil(t, r.Lock)
	assert.Equal(t, []any{What, "zaparoo-storage", "unmounting /dev/sdb1", "block"}, conn.args)

	lock, ok := r.Lock.(*fdLock)
	require.True(t, ok)
	assert.Equal(t, 42, lock.fd)

	closed := 0
	lock.closeFn = func(fd int) error {
		closed++
		assert.Equal(t, 42, fd)
		return nil
	}
	lock.Release()
	lock.Release()
	assert.Equal(t, 1, closed)
}

func TestLogind_Failure(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{err: errors.New("access denied")}
	r := await(t, NewLogind(conn, "zaparoo-storage").Inhibit(context.Background(), "x"))
	require.Error(t, r.Err)
	assert.Nil(t, r.Lock)
}

func TestNop(t *testing.T) {
	t.Parallel()

	r := await(t, Nop{}.Inhibit(context.Background(), "x"))
	require.NoError(t, r.Err)
	r.Lock.Release()
}
