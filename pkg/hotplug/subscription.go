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
	"errors"
)

// ErrClosed is returned by Receive once the subscription has been closed.
var ErrClosed = errors.New("subscription closed")

// Group selects which netlink multicast group to join.
type Group uint32

const (
	// GroupKernel receives raw kernel uevents.
	GroupKernel Group = 1
	// GroupUdev receives events after udevd processed them, with udev
	// database properties attached.
	GroupUdev Group = 2
)

// ParseGroup maps a config value to a group.
func ParseGroup(s string) (Group, bool) {
	switch s {
	case "kernel":
		return GroupKernel, true
	case "udev", "":
		return GroupUdev, true
	default:
		return 0, false
	}
}

func (g Group) String() string {
	switch g {
	case GroupKernel:
		return "kernel"
	case GroupUdev:
		return "udev"
	default:
		return "unknown"
	}
}

// Subscription owns one kernel event descriptor.
type Subscription interface {
	// Receive waits for readiness and returns exactly one record. It
	// returns ErrClosed after Close.
	Receive() ([]byte, error)
	// Close releases the descriptor. Any Receive in progress returns
	// ErrClosed, and the descriptor is released before Close returns.
	Close() error
}

// Dialer opens subscriptions.
type Dialer interface {
	Dial(group Group) (Subscription, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(group Group) (Subscription, error)

func (f DialerFunc) Dial(group Group) (Subscription, error) {
	return f(group)
}
