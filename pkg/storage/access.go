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
	"slices"
	"strings"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
)

// HideOption is the mount option that hides a filesystem from users.
const HideOption = "x-gdu.hide"

// IsAccessible reports whether the device's data is reachable through a
// mounted filesystem. For an encrypted container that is its cleartext
// peer's mount state.
func (c *Controller) IsAccessible(udi string) bool {
	dev, ok := c.deps.Store.Device(udi)
	return ok && c.isAccessible(dev)
}

func (c *Controller) IsEncrypted(udi string) bool {
	dev, ok := c.deps.Store.Device(udi)
	if !ok {
		return false
	}
	sa, ok := devices.AsStorageAccess(dev)
	return ok && sa.IsEncrypted()
}

// FilePath is the canonical mount point of the device, empty when it is
// not mounted.
func (c *Controller) FilePath(udi string) string {
	dev, ok := c.deps.Store.Device(udi)
	if !ok {
		return ""
	}
	return c.filePath(dev)
}

// IsIgnored reports whether the device should be hidden from user-facing
// listings.
func (c *Controller) IsIgnored(udi string) bool {
	dev, ok := c.deps.Store.Device(udi)
	if !ok {
		return true
	}
	return c.isIgnored(dev)
}

func (c *Controller) isAccessible(dev *devices.Device) bool {
	sa, ok := devices.AsStorageAccess(dev)
	if !ok {
		return false
	}
	if sa.IsEncryptedContainer() {
		peer := c.cleartextPeer(dev.UDI)
		return peer != nil && len(c.mountPoints(peer)) > 0
	}
	return len(c.mountPoints(dev)) > 0
}

// mountPoints prefers what the device reports and falls back to the live
// mount table for devices without a MountPoints property.
func (c *Controller) mountPoints(dev *devices.Device) []string {
	if dev.HasProperty(devices.PropMountPoints) {
		return dev.Strings(devices.PropMountPoints)
	}
	b, ok := devices.AsBlock(dev)
	if !ok || c.deps.Mounts == nil {
		return nil
	}
	if file := b.DeviceFile(); file != "" {
		return c.deps.Mounts.CurrentMountPoints(file)
	}
	return nil
}

func (c *Controller) filePath(dev *devices.Device) string {
	sa, ok := devices.AsStorageAccess(dev)
	if !ok {
		return ""
	}
	mounted := dev
	if sa.IsEncryptedContainer() {
		if mounted = c.cleartextPeer(dev.UDI); mounted == nil {
			return ""
		}
	}

	mps := c.mountPoints(mounted)
	switch len(mps) {
	case 0:
		return ""
	case 1:
		return mps[0]
	}

	// bind mounts: use the entry showing the filesystem root
	if c.deps.Mounts != nil {
		source := mounted.String(devices.PropDevice)
		if source == "" {
			source = mounted.String(devices.UdevDevName)
		}
		if base := c.deps.Mounts.BaseMountPoint(source); base != "" {
			return base
		}
	}
	return mps[0]
}

func (c *Controller) isIgnored(dev *devices.Device) bool {
	if dev.Bool(devices.PropHintIgnore) {
		return true
	}
	if slices.Contains(dev.Strings(devices.PropUserspaceMountOptions), HideOption) {
		return true
	}

	path := c.filePath(dev)
	if path == "" {
		return true
	}
	for _, prefix := range c.cfg.UserPaths {
		if underDir(path, prefix) {
			return false
		}
	}
	return true
}

// underDir reports whether path is dir or inside it, so /home/alice does
// not match /home/alice2.
func underDir(path, dir string) bool {
	if dir == "" {
		return false
	}
	dir = strings.TrimSuffix(dir, "/")
	return path == dir || strings.HasPrefix(path, dir+"/")
}

// cleartextPeer scans the block devices for the one whose crypto backing
// device is udi.
func (c *Controller) cleartextPeer(udi string) *devices.Device {
	peers := c.deps.Store.Devices(func(d *devices.Device) bool {
		return d.Has(devices.CapBlock) && d.String(devices.PropCryptoBackingDevice) == udi
	})
	if len(peers) == 0 {
		return nil
	}
	return peers[0]
}
