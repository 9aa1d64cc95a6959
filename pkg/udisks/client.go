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
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCallTimeout    = 30 * time.Second
	DefaultUnmountTimeout = 10 * time.Minute
)

// Result is the completion of an asynchronous call. Value holds the reply
// for calls that return one: the mount path for Mount, the cleartext
// object path for Unlock.
type Result struct {
	Err   error
	Value string
}

// Client issues UDisks2 calls. Every lifecycle call returns immediately;
// its completion arrives on the returned channel, which receives exactly
// one Result.
type Client struct {
	conn           Conn
	callTimeout    time.Duration
	unmountTimeout time.Duration
}

type ClientOption func(*Client)

func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithUnmountTimeout bounds the wait for an Unmount reply.
func WithUnmountTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.unmountTimeout = d
		}
	}
}

func NewClient(conn Conn, opts ...ClientOption) *Client {
	c := &Client{
		conn:           conn,
		callTimeout:    DefaultCallTimeout,
		unmountTimeout: DefaultUnmountTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mount mounts a filesystem. options is the comma separated mount option
// string, empty for the service defaults.
func (c *Client) Mount(ctx context.Context, udi, options string) <-chan Result {
	opts := map[string]dbus.Variant{}
	if options != "" {
		opts["options"] = dbus.MakeVariant(options)
	}
	return c.goCall(ctx, c.callTimeout, udi, FilesystemInterface+".Mount", opts)
}

func (c *Client) Unmount(ctx context.Context, udi string) <-chan Result {
	return c.goCall(ctx, c.unmountTimeout, udi, FilesystemInterface+".Unmount", map[string]dbus.Variant{})
}

// Unlock opens an encrypted container. The result carries the cleartext
// object path.
func (c *Client) Unlock(ctx context.Context, udi, passphrase string) <-chan Result {
	return c.goCall(ctx, c.callTimeout, udi, EncryptedInterface+".Unlock", passphrase, map[string]dbus.Variant{})
}

func (c *Client) Lock(ctx context.Context, udi string) <-chan Result {
	return c.goCall(ctx, c.callTimeout, udi, EncryptedInterface+".Lock", map[string]dbus.Variant{})
}

func (c *Client) Eject(ctx context.Context, drive string) <-chan Result {
	return c.goCall(ctx, c.callTimeout, drive, DriveInterface+".Eject", map[string]dbus.Variant{})
}

func (c *Client) PowerOff(ctx context.Context, drive string) <-chan Result {
	return c.goCall(ctx, c.callTimeout, drive, DriveInterface+".PowerOff", map[string]dbus.Variant{})
}

// Objects reads the full managed object tree. This is a blocking call.
func (c *Client) Objects(ctx context.Context) (ObjectMap, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var objs ObjectMap
	call := c.conn.Object(ServiceName, ManagerPath).
		CallWithContext(ctx, objectManagerInterface+".GetManagedObjects", 0)
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("failed to get managed objects: %w", translate(err))
	}
	return objs, nil
}

func (c *Client) goCall(
	parent context.Context,
	timeout time.Duration,
	udi, method string,
	args ...any,
) <-chan Result {
	out := make(chan Result, 1)
	if c.conn == nil {
		out <- Result{Err: ErrNotConnected}
		return out
	}
	p := dbus.ObjectPath(udi)
	if !p.IsValid() || !devices.IsObjectRef(udi) {
		out <- Result{Err: fmt.Errorf("%w: %q", ErrInvalidObject, udi)}
		return out
	}

	log.Debug().Str("udi", udi).Str("method", method).Msg("storage service call")

	ctx, cancel := context.WithTimeout(parent, timeout)
	call := c.conn.Object(ServiceName, p).GoWithContext(ctx, method, 0, make(chan *dbus.Call, 1), args...)
	go func() {
		defer cancel()
		done := <-call.Done
		out <- resultOf(done)
	}()
	return out
}

func resultOf(call *dbus.Call) Result {
	if call.Err != nil {
		return Result{Err: translate(call.Err)}
	}
	var r Result
	if len(call.Body) > 0 {
		switch v := call.Body[0].(type) {
		case string:
			r.Value = v
		case dbus.ObjectPath:
			r.Value = string(v)
		}
	}
	return r
}
