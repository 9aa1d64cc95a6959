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

// Package inhibit takes logind block locks so the system does
// not sleep or shut down while a volume is being unmounted or powered off.
package inhibit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	logindService                 = "org.freedesktop.login1"
	logindPath    dbus.ObjectPath = "/org/freedesktop/login1"
	inhibitMethod                 = "org.freedesktop.login1.Manager.Inhibit"

	// What is the set of operations blocked while a lock is held.
	What = "sleep:shutdown"

	callTimeout = 10 * time.Second
)

// Lock is a held inhibitor. Release is idempotent.
type Lock interface {
	Release()
}

// Result is the completion of an Inhibit call.
type Result struct {
	Lock Lock
	Err  error
}

// Inhibitor takes locks asynchronously. The channel receives exactly one
// Result.
type Inhibitor interface {
	Inhibit(ctx context.Context, why string) <-chan Result
}

// Conn is the subset of *dbus.Conn used by Logind.
type Conn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Logind takes locks through org.freedesktop.login1.Manager.Inhibit, which
// returns a file descriptor that holds the lock until closed.
type Logind struct {
	conn Conn
	who  string
}

func NewLogind(conn Conn, who string) *Logind {
	return &Logind{conn: conn, who: who}
}

func (l *Logind) Inhibit(ctx context.Context, why string) <-chan Result {
	out := make(chan Result, 1)
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	call := l.conn.Object(logindService, logindPath).GoWithContext(
		ctx, inhibitMethod, 0, make(chan *dbus.Call, 1),
		What, l.who, why, "block",
	)
	go func() {
		defer cancel()
		done := <-call.Done
		var fd dbus.UnixFD
		if err := done.Store(&fd); err != nil {
			out <- Result{Err: fmt.Errorf("failed to take inhibitor lock: %w", err)}
			return
		}
		log.Debug().Str("why", why).Int32("fd", int32(fd)).Msg("inhibitor lock taken")
		out <- Result{Lock: &fdLock{fd: int(fd), closeFn: unix.Close}}
	}()
	return out
}

type fdLock struct {
	closeFn func(fd int) error
	fd      int
	once    sync.Once
}

func (l *fdLock) Release() {
	l.once.Do(func() {
		if err := l.closeFn(l.fd); err != nil {
			log.Warn().Err(err).Msg("failed to release inhibitor lock")
		}
	})
}

// Nop never blocks anything. Used when inhibition is disabled or logind is
// unreachable.
type Nop struct{}

func (Nop) Inhibit(context.Context, string) <-chan Result {
	out := make(chan Result, 1)
	out <- Result{Lock: nopLock{}}
	return out
}

type nopLock struct{}

func (nopLock) Release() {}
