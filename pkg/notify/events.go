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

// Package notify is the in-process broadcast bus for device and storage
// lifecycle events, plus a bridge that mirrors lifecycle events to other
// processes over the session bus.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
)

// Notification methods.
const (
	MethodActionRequested      = "storage.action.requested"
	MethodActionDone           = "storage.action.done"
	MethodAccessibilityChanged = "storage.accessibility"
	MethodDeviceAdded          = "devices.added"
	MethodDeviceChanged        = "devices.changed"
	MethodDeviceRemoved        = "devices.removed"
	MethodMountTableChanged    = "mounts.changed"
)

// Action is a lifecycle action name.
type Action string

const (
	ActionSetup    Action = "setup"
	ActionTeardown Action = "teardown"
)

// Origin tells whether an event was raised in this process or relayed from
// another one.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event is implemented by every event type published on the bus.
type Event interface {
	Method() string
}

type ActionRequested struct {
	UDI    string `json:"udi"`
	Action Action `json:"action"`
	Origin Origin `json:"origin"`
	// Sender is the bus name of the remote requester, empty for local.
	Sender string `json:"sender,omitempty"`
}

func (ActionRequested) Method() string { return MethodActionRequested }

// ActionDone closes an ActionRequested. ErrorKind is "none" on success.
type ActionDone struct {
	UDI       string `json:"udi"`
	Action    Action `json:"action"`
	Origin    Origin `json:"origin"`
	Sender    string `json:"sender,omitempty"`
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message,omitempty"`
}

func (ActionDone) Method() string { return MethodActionDone }

// Failed reports whether the action finished with an error.
func (a ActionDone) Failed() bool {
	return a.ErrorKind != "" && a.ErrorKind != "none"
}

type AccessibilityChanged struct {
	UDI        string `json:"udi"`
	FilePath   string `json:"filePath,omitempty"`
	Accessible bool   `json:"accessible"`
}

func (AccessibilityChanged) Method() string { return MethodAccessibilityChanged }

type DeviceAdded struct {
	Device *devices.Device `json:"device"`
}

func (DeviceAdded) Method() string { return MethodDeviceAdded }

type DeviceChanged struct {
	Device *devices.Device `json:"device"`
}

func (DeviceChanged) Method() string { return MethodDeviceChanged }

type DeviceRemoved struct {
	UDI    string         `json:"udi"`
	Source devices.Source `json:"source"`
}

func (DeviceRemoved) Method() string { return MethodDeviceRemoved }

// MountTableChanged is raised when a mount table was invalidated.
type MountTableChanged struct {
	Table string `json:"table"`
}

func (MountTableChanged) Method() string { return MethodMountTableChanged }

// Notification is the wire form of an event for JSON consumers.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Encode converts an event to its wire form.
func Encode(ev Event) (Notification, error) {
	params, err := json.Marshal(ev)
	if err != nil {
		return Notification{}, fmt.Errorf("failed to marshal %s params: %w", ev.Method(), err)
	}
	return Notification{Method: ev.Method(), Params: params}, nil
}

// UDIOf returns the device an event refers to, if any.
func UDIOf(ev Event) string {
	switch e := ev.(type) {
	case ActionRequested:
		return e.UDI
	case ActionDone:
		return e.UDI
	case AccessibilityChanged:
		return e.UDI
	case DeviceAdded:
		if e.Device != nil {
			return e.Device.UDI
		}
	case DeviceChanged:
		if e.Device != nil {
			return e.Device.UDI
		}
	case DeviceRemoved:
		return e.UDI
	}
	return ""
}
