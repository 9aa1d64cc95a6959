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

	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
)

// replyFunc fills in a call's Body or Err. It runs on its own goroutine
// and may block on ctx.
type replyFunc func(ctx context.Context, call *dbus.Call)

type fakeConn struct {
	replies map[string]replyFunc
	objects ObjectMap
	calls   []*dbus.Call
	mu      syncutil.Mutex
}

func newFakeConn() *fakeConn {
	return &fakeConn{replies: make(map[string]replyFunc)}
}

func (c *fakeConn) Object(_ string, p dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{conn: c, path: p}
}

func (c *fakeConn) on(method string, fn replyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[method] = fn
}

func (c *fakeConn) recorded() []*dbus.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*dbus.Call, len(c.calls))
	copy(out, c.calls)
	return out
}

type fakeObject struct {
	dbus.BusObject
	conn *fakeConn
	path dbus.ObjectPath
}

func (o *fakeObject) GoWithContext(
	ctx context.Context,
	method string,
	_ dbus.Flags,
	ch chan *dbus.Call,
	args ...any,
) *dbus.Call {
	call := &dbus.Call{Destination: ServiceName, Path: o.path, Method: method, Args: args, Done: ch}

	o.conn.mu.Lock()
	o.conn.calls = append(o.conn.calls, call)
	fn := o.conn.replies[method]
	o.conn.mu.Unlock()

	go func() {
		if fn != nil {
			fn(ctx, call)
		}
		call.Done <- call
	}()
	return call
}

func (o *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, _ ...any) *dbus.Call {
	o.conn.mu.Lock()
	defer o.conn.mu.Unlock()
	if method != objectManagerInterface+".GetManagedObjects" {
		return &dbus.Call{Err: dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownMethod"}}
	}
	return &dbus.Call{Body: []any{map[dbus.ObjectPath]map[string]map[string]dbus.Variant(o.conn.objects)}}
}

type fakeSignalConn struct {
	signal chan<- *dbus.Signal
	added  int
	mu     syncutil.Mutex
}

func (c *fakeSignalConn) AddMatchSignal(...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added++
	return nil
}

func (*fakeSignalConn) RemoveMatchSignal(...dbus.MatchOption) error { return nil }

func (c *fakeSignalConn) Signal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signal = ch
}

func (c *fakeSignalConn) RemoveSignal(chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signal = nil
}

func (c *fakeSignalConn) deliver(sig *dbus.Signal) {
	c.mu.Lock()
	ch := c.signal
	c.mu.Unlock()
	ch <- sig
}

// sampleObjects is a USB stick with a LUKS container, its unlocked
// cleartext device, and a DVD drive.
func sampleObjects() ObjectMap {
	v := dbus.MakeVariant
	return ObjectMap{
		"/org/freedesktop/UDisks2/drives/Stick": {
			DriveInterface: {
				"MediaRemovable":     v(true),
				"MediaAvailable":     v(true),
				"CanPowerOff":        v(true),
				"ConnectionBus":      v("usb"),
				"MediaCompatibility": v([]string{}),
				"Optical":            v(false),
			},
		},
		"/org/freedesktop/UDisks2/drives/DVD": {
			DriveInterface: {
				"MediaCompatibility": v([]string{"optical_cd", "optical_dvd"}),
				"Optical":            v(true),
			},
		},
		"/org/freedesktop/UDisks2/block_devices/sdb": {
			BlockInterface: {
				"Device": v([]byte("/dev/sdb\x00")),
				"Drive":  v(dbus.ObjectPath("/org/freedesktop/UDisks2/drives/Stick")),
				"Size":   v(uint64(16 << 30)),
			},
			"org.freedesktop.UDisks2.PartitionTable": {"Type": v("gpt")},
		},
		"/org/freedesktop/UDisks2/block_devices/sdb1": {
			BlockInterface: {
				"Device":              v([]byte("/dev/sdb1\x00")),
				"Drive":               v(dbus.ObjectPath("/org/freedesktop/UDisks2/drives/Stick")),
				"IdUsage":             v("crypto"),
				"IdType":              v("crypto_LUKS"),
				"CryptoBackingDevice": v(dbus.ObjectPath("/")),
				"HintIgnore":          v(false),
			},
			PartitionInterface: {
				"Table": v(dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb")),
			},
			EncryptedInterface: {
				"CleartextDevice": v(dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/dm_2d0")),
			},
		},
		"/org/freedesktop/UDisks2/block_devices/dm_2d0": {
			BlockInterface: {
				"Device":              v([]byte("/dev/dm-0\x00")),
				"IdUsage":             v("filesystem"),
				"IdType":              v("ext4"),
				"CryptoBackingDevice": v(dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb1")),
			},
			FilesystemInterface: {
				"MountPoints": v([][]byte{[]byte("/run/media/alex/data\x00")}),
			},
		},
		"/org/freedesktop/UDisks2/Manager": {
			"org.freedesktop.UDisks2.Manager": {"Version": v("2.10.1")},
		},
	}
}
