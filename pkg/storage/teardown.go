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
	"github.com/ZaparooProject/zaparoo-storage/pkg/inhibit"
	"github.com/ZaparooProject/zaparoo-storage/pkg/udisks"
	"github.com/rs/zerolog/log"
)

const inhibitReason = "Unmounting and powering off storage"

func (c *Controller) startTeardown(udi string, o *op, dev *devices.Device) {
	o.drive = c.driveOf(dev)
	if c.deps.Inhibitor == nil {
		c.unmount(udi, o)
		return
	}
	forward(c, udi, o, stepInhibit, c.deps.Inhibitor.Inhibit(c.ctx, inhibitReason),
		func(r inhibit.Result) completion {
			return completion{err: r.Err, lock: r.Lock}
		})
}

func (c *Controller) onInhibit(cp completion, o *op) {
	if cp.err != nil {
		log.Warn().Err(cp.err).Str("udi", cp.udi).Msg("failed to inhibit sleep, continuing teardown")
	}
	o.lock = cp.lock
	c.unmount(cp.udi, o)
}

// unmount always targets the filesystem: the cleartext peer for an
// unlocked container, the device itself otherwise.
func (c *Controller) unmount(udi string, o *op) {
	dev, ok := c.deps.Store.Device(udi)
	if !ok {
		c.finish(udi, o, &ActionError{Kind: KindNotFound, Message: "device removed"})
		return
	}
	target := udi
	if sa, _ := devices.AsStorageAccess(dev); sa.IsEncryptedContainer() {
		if peer := c.cleartextPeer(udi); peer != nil {
			target = peer.UDI
		}
	}
	c.setPhase(udi, o, UnmountPending)
	c.call(udi, o, stepUnmount, c.deps.Service.Unmount(c.ctx, target))
}

func (c *Controller) onUnmount(cp completion, o *op) {
	if cp.err != nil {
		c.finish(cp.udi, o, classify(cp.err))
		return
	}

	dev, ok := c.deps.Store.Device(cp.udi)
	if !ok {
		c.safeRemoval(cp.udi, o)
		return
	}
	sa, _ := devices.AsStorageAccess(dev)
	target := ""
	switch {
	case sa.IsEncryptedContainer() && c.cleartextPeer(cp.udi) != nil:
		target = cp.udi
	case sa.IsEncryptedCleartext():
		target = sa.BackingDevice()
	}
	if target == "" {
		c.safeRemoval(cp.udi, o)
		return
	}
	c.setPhase(cp.udi, o, LockPending)
	c.call(cp.udi, o, stepLock, c.deps.Service.Lock(c.ctx, target))
}

func (c *Controller) onLock(cp completion, o *op) {
	if cp.err != nil {
		c.finish(cp.udi, o, classify(cp.err))
		return
	}
	c.safeRemoval(cp.udi, o)
}

// safeRemoval ejects or powers off the drive when it is removable and not
// optical. The call is dispatched before the teardown is reported done and
// its reply is only logged.
func (c *Controller) safeRemoval(udi string, o *op) {
	drv := o.drive
	if drv == nil {
		c.finish(udi, o, nil)
		return
	}
	view, _ := devices.AsStorageDrive(drv)
	optical := view.IsOptical() || drv.Has(devices.CapOpticalDrive)

	var (
		method string
		reply  <-chan udisks.Result
	)
	switch {
	case optical:
	case drv.Bool(devices.PropMediaRemovable) && view.MediaAvailable():
		method = "eject"
		reply = c.deps.Service.Eject(c.ctx, drv.UDI)
	case view.CanPowerOff():
		method = "power off"
		reply = c.deps.Service.PowerOff(c.ctx, drv.UDI)
	}
	c.finish(udi, o, nil)
	if reply != nil {
		c.logReply(udi, drv.UDI, method, reply)
	}
}

func (c *Controller) logReply(udi, drive, method string, reply <-chan udisks.Result) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case r := <-reply:
			if r.Err != nil {
				log.Info().Err(r.Err).Str("udi", udi).Str("drive", drive).Msgf("%s of drive failed", method)
				return
			}
			log.Debug().Str("udi", udi).Str("drive", drive).Msgf("%s of drive done", method)
		case <-c.done:
		}
	}()
}

// driveOf walks from a device to the drive holding it, following the drive
// reference, the crypto backing device and finally the parent link.
func (c *Controller) driveOf(dev *devices.Device) *devices.Device {
	seen := make(map[string]bool)
	for dev != nil && !seen[dev.UDI] {
		seen[dev.UDI] = true
		if dev.Has(devices.CapStorageDrive) {
			return dev
		}
		if b, ok := devices.AsBlock(dev); ok && b.Drive() != "" {
			if drv, ok := c.deps.Store.Device(b.Drive()); ok {
				return drv
			}
		}

		next := dev.Parent
		if sa, ok := devices.AsStorageAccess(dev); ok && sa.BackingDevice() != "" {
			next = sa.BackingDevice()
		}
		if next == "" {
			return nil
		}
		dev, _ = c.deps.Store.Device(next)
	}
	return nil
}
