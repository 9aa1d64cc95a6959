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
	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/passphrase"
)

func (c *Controller) startSetup(udi string, o *op, dev *devices.Device) {
	sa, _ := devices.AsStorageAccess(dev)
	target := udi
	if sa.IsEncryptedContainer() {
		peer := c.cleartextPeer(udi)
		if peer == nil {
			c.requestPassphrase(udi, o)
			return
		}
		target = peer.UDI
	}
	c.mount(udi, o, target)
}

func (c *Controller) requestPassphrase(udi string, o *op) {
	if c.deps.Passphrase == nil {
		c.finish(udi, o, &ActionError{
			Kind:    KindConfiguration,
			Message: "no passphrase provider configured",
			Err:     passphrase.ErrNoProvider,
		})
		return
	}
	c.setPhase(udi, o, UnlockPending)

	ch, err := c.deps.Passphrase.Request(c.ctx, udi)
	if err != nil {
		c.finish(udi, o, classify(err))
		return
	}
	forward(c, udi, o, stepPassphrase, ch, func(r passphrase.Reply) completion {
		return completion{err: r.Err, value: r.Passphrase}
	})
}

func (c *Controller) onPassphrase(cp completion, o *op) {
	switch {
	case cp.err != nil:
		c.finish(cp.udi, o, classify(cp.err))
	case cp.value == "":
		c.finish(cp.udi, o, &ActionError{Kind: KindUserCancelled, Message: "passphrase entry cancelled"})
	default:
		c.call(cp.udi, o, stepUnlock, c.deps.Service.Unlock(c.ctx, cp.udi, cp.value))
	}
}

func (c *Controller) onUnlock(cp completion, o *op) {
	if cp.err != nil {
		c.finish(cp.udi, o, classify(cp.err))
		return
	}

	// the cleartext device only shows up in the store after a refresh
	c.refresh()
	if c.IsAccessible(cp.udi) {
		c.finish(cp.udi, o, nil)
		return
	}

	target := cp.value
	if peer := c.cleartextPeer(cp.udi); peer != nil {
		target = peer.UDI
	}
	if target == "" {
		c.finish(cp.udi, o, &ActionError{Kind: KindNotFound, Message: "cleartext device not found after unlock"})
		return
	}
	c.mount(cp.udi, o, target)
}

func (c *Controller) mount(udi string, o *op, target string) {
	c.setPhase(udi, o, MountPending)

	options := ""
	if dev, ok := c.deps.Store.Device(target); ok && c.cfg.VfatFlush {
		if sa, ok := devices.AsStorageAccess(dev); ok && sa.FsType() == "vfat" {
			options = "flush"
		}
	}
	c.call(udi, o, stepMount, c.deps.Service.Mount(c.ctx, target, options))
}
