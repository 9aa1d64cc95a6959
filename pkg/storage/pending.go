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

package storage

import (
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/inhibit"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
)

// Phase is where a pending operation currently waits.
type Phase string

const (
	SetupRequested    Phase = "setup_requested"
	UnlockPending     Phase = "unlock_pending"
	MountPending      Phase = "mount_pending"
	TeardownRequested Phase = "teardown_requested"
	UnmountPending    Phase = "unmount_pending"
	LockPending       Phase = "lock_pending"
	Done              Phase = "done"
	Failed            Phase = "failed"
)

// PendingOperation is the in-flight action on a device. Requester is the
// bus name of the process driving it, empty for this process.
type PendingOperation struct {
	Kind      notify.Action `json:"kind"`
	Phase     Phase         `json:"phase"`
	Requester string        `json:"requester,omitempty"`
}

// op is the worker's private state for one pending operation.
type op struct {
	started   time.Time
	lock      inhibit.Lock
	drive     *devices.Device
	kind      notify.Action
	phase     Phase
	requester string
	gen       uint64
	remote    bool
}

func (o *op) public() PendingOperation {
	return PendingOperation{Kind: o.kind, Phase: o.phase, Requester: o.requester}
}

type step int

const (
	stepPassphrase step = iota
	stepUnlock
	stepMount
	stepInhibit
	stepUnmount
	stepLock
)

func (s step) String() string {
	switch s {
	case stepPassphrase:
		return "passphrase"
	case stepUnlock:
		return "unlock"
	case stepMount:
		return "mount"
	case stepInhibit:
		return "inhibit"
	case stepUnmount:
		return "unmount"
	case stepLock:
		return "lock"
	default:
		return "unknown"
	}
}

// completion is the result of an asynchronous call, fed back to the worker.
type completion struct {
	err   error
	lock  inhibit.Lock
	udi   string
	value string
	gen   uint64
	step  step
}

type request struct {
	reply chan bool
	kind  notify.Action
	udi   string
}
