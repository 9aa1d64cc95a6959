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

package udisks

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
		return Result{}
	}
}

func TestClient_MountPassesOptions(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.on(FilesystemInterface+".Mount", func(_ context.Context, call *dbus.Call) {
		call.Body = []any{"/run/media/alex/STICK"}
	})
	c := NewClient(conn)

	r := await(t, c.Mount(context.Background(), "/org/freedesktop/UDisks2/block_devices/sdb1", "flush"))
	require.NoError(t, r.Err)
	assert.Equal(t, "/run/media/alex/STICK", r.Value)

	calls := conn.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb1"), calls[0].Path)
	opts, ok := calls[0].Args[0].(map[string]dbus.Variant)
	require.True(t, ok)
	assert.Equal(t, "flush", opts["options"].Value())

	r = await(t, c.Mount(context.Background(), "/org/freedesktop/UDisks2/block_devices/sdb1", ""))
	require.NoError(t, r.Err)
	opts, _ = conn.recorded()[1].Args[0].(map[string]dbus.Variant)
	assert.Empty(t, opts)
}

func TestClient_UnlockReturnsCleartext(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.on(EncryptedInterface+".Unlock", func(_ context.Context, call *dbus.Call) {
		if call.Args[0] != "hunter2" {
			call.Err = dbus.Error{Name: errorPrefix + "Failed", Body: []any{"wrong passphrase"}}
			return
		}
		call.Body = []any{dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/dm_2d0")}
	})
	c := NewClient(conn)

	r := await(t, c.Unlock(context.Background(), "/org/freedesktop/UDisks2/block_devices/sdb1", "hunter2"))
	require.NoError(t, r.Err)
	assert.Equal(t, "/org/freedesktop/UDisks2/block_devices/dm_2d0", r.Value)

	r = await(t, c.Unlock(context.Background(), "/org/freedesktop/UDisks2/block_devices/sdb1", "nope"))
	var re *RemoteError
	require.ErrorAs(t, r.Err, &re)
	assert.Equal(t, KindFailed, re.Kind)
	assert.Equal(t, "wrong passphrase", re.Message)
}

func TestClient_UnmountTimeout(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.on(FilesystemInterface+".Unmount", func(ctx context.Context, call *dbus.Call) {
		<-ctx.Done()
		call.Err = ctx.Err()
	})
	c := NewClient(conn, WithUnmountTimeout(20*time.Millisecond))

	r := await(t, c.Unmount(context.Background(), "/org/freedesktop/UDisks2/block_devices/sdb1"))
	var re *RemoteError
	require.ErrorAs(t, r.Err, &re)
	assert.Equal(t, KindTimeout, re.Kind)
}

func TestClient_InvalidObject(t *testing.T) {
	t.Parallel()

	c := NewClient(newFakeConn())
	for _, udi := range []string{"", "/", "fstab://server/share", "/sys/devices/x/sdb-1"} {
		r := await(t, c.Eject(context.Background(), udi))
		require.ErrorIs(t, r.Err, ErrInvalidObject, udi)
	}

	r := await(t, NewClient(nil).PowerOff(context.Background(), "/org/freedesktop/UDisks2/drives/Stick"))
	require.ErrorIs(t, r.Err, ErrNotConnected)
}

func TestClient_Objects(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.objects = sampleObjects()
	c := NewClient(conn)

	objs, err := c.Objects(context.Background())
	require.NoError(t, err)
	assert.Len(t, objs.Devices(), 5)

	_, err = NewClient(nil).Objects(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}
