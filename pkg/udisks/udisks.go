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

// Package udisks talks to the UDisks2 storage service on the system bus:
// asynchronous lifecycle calls, managed object snapshots and a watcher that
// keeps the device registry in sync with the service's object tree.
package udisks

import (
	"github.com/godbus/dbus/v5"
)

const (
	ServiceName                 = "org.freedesktop.UDisks2"
	ManagerPath dbus.ObjectPath = "/org/freedesktop/UDisks2"

	BlockInterface      = "org.freedesktop.UDisks2.Block"
	FilesystemInterface = "org.freedesktop.UDisks2.Filesystem"
	EncryptedInterface  = "org.freedesktop.UDisks2.Encrypted"
	DriveInterface      = "org.freedesktop.UDisks2.Drive"
	PartitionInterface  = "org.freedesktop.UDisks2.Partition"

	objectManagerInterface = "org.freedesktop.DBus.ObjectManager"
	propertiesInterface    = "org.freedesktop.DBus.Properties"
)

// Conn is the subset of *dbus.Conn used to issue calls.
type Conn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// SignalConn is the subset of *dbus.Conn used to receive signals.
type SignalConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// ObjectMap is the GetManagedObjects reply: object path to interface name
// to property name to value.
type ObjectMap map[dbus.ObjectPath]map[string]map[string]dbus.Variant
