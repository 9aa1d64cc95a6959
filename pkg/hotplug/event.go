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

// Package hotplug subscribes to kernel device events over netlink and
// emits them, in kernel order, as typed events carrying a device snapshot.
package hotplug

import (
	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
)

// Action is the lifecycle transition a hotplug event reports.
type Action string

const (
	Added    Action = "add"
	Removed  Action = "remove"
	Changed  Action = "change"
	Onlined  Action = "online"
	Offlined Action = "offline"
	Bound    Action = "bind"
	Unbound  Action = "unbind"
)

// ParseAction maps a kernel action string. Anything else, such as "move"
// or "resize", is not an action this package emits.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case Added, Removed, Changed, Onlined, Offlined, Bound, Unbound:
		return a, true
	default:
		return "", false
	}
}

// Event is one decoded hotplug record.
type Event struct {
	Device *devices.Device
	Action Action
	Seqnum uint64
}
