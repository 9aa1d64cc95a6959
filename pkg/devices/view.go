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

package devices

import "github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"

// ViewFunc builds a typed view over a device for one capability.
type ViewFunc func(*Device) any

var (
	viewsMu syncutil.RWMutex
	views   = make(map[Capability]ViewFunc)
)

// RegisterView installs the constructor used by View for a capability.
// Registering twice replaces the previous constructor.
func RegisterView(c Capability, fn ViewFunc) {
	viewsMu.Lock()
	defer viewsMu.Unlock()
	views[c] = fn
}

// View returns the typed view for a capability, or false when the device
// lacks the capability or no constructor is registered for it.
func View(d *Device, c Capability) (any, bool) {
	if !d.Has(c) {
		return nil, false
	}
	viewsMu.RLock()
	fn, ok := views[c]
	viewsMu.RUnlock()
	if !ok {
		return nil, false
	}
	return fn(d), true
}

func viewAs[T any](d *Device, c Capability) (T, bool) {
	var zero T
	v, ok := View(d, c)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func init() {
	RegisterView(CapBlock, func(d *Device) any { return Block{dev: d} })
	RegisterView(CapStorageAccess, func(d *Device) any { return StorageAccess{dev: d} })
	RegisterView(CapStorageDrive, func(d *Device) any { return StorageDrive{dev: d} })
	RegisterView(CapOpticalDrive, func(d *Device) any { return StorageDrive{dev: d} })
	RegisterView(CapNetworkShare, func(d *Device) any { return NetworkShare{dev: d} })
}

// AsBlock returns the block view of a device.
func AsBlock(d *Device) (Block, bool) { return viewAs[Block](d, CapBlock) }

// AsStorageAccess returns the storage access view of a device.
func AsStorageAccess(d *Device) (StorageAccess, bool) {
	return viewAs[StorageAccess](d, CapStorageAccess)
}

// AsStorageDrive returns the drive view of a device.
func AsStorageDrive(d *Device) (StorageDrive, bool) {
	return viewAs[StorageDrive](d, CapStorageDrive)
}

// AsNetworkShare returns the network share view of a device.
func AsNetworkShare(d *Device) (NetworkShare, bool) {
	return viewAs[NetworkShare](d, CapNetworkShare)
}

// Block is the view of a block device.
type Block struct {
	dev *Device
}

// DeviceFile is the device node, e.g. /dev/sdb1.
func (b Block) DeviceFile() string {
	if f := b.dev.String(PropDevice); f != "" {
		return f
	}
	return b.dev.String(UdevDevName)
}

func (b Block) Size() uint64 { return b.dev.Uint(PropSize) }

// Drive is the object path of the drive backing this block device, if any.
func (b Block) Drive() string {
	if p := b.dev.String(PropDrive); IsObjectRef(p) {
		return p
	}
	return ""
}

// StorageAccess is the view of anything that can be mounted.
type StorageAccess struct {
	dev *Device
}

// IsEncryptedContainer reports a locked-or-unlocked encrypted container,
// i.e. a device that needs an unlock before its data is reachable.
func (s StorageAccess) IsEncryptedContainer() bool {
	return s.dev.Bool(PropEncrypted) || s.dev.String(PropIDUsage) == "crypto"
}

// IsEncryptedCleartext reports the cleartext side of an unlocked container.
func (s StorageAccess) IsEncryptedCleartext() bool {
	return IsObjectRef(s.dev.String(PropCryptoBackingDevice))
}

// IsEncrypted covers both sides of an encrypted container.
func (s StorageAccess) IsEncrypted() bool {
	return s.IsEncryptedContainer() || s.IsEncryptedCleartext()
}

// BackingDevice is the encrypted parent of a cleartext device.
func (s StorageAccess) BackingDevice() string {
	if p := s.dev.String(PropCryptoBackingDevice); IsObjectRef(p) {
		return p
	}
	return ""
}

func (s StorageAccess) MountPoints() []string {
	return s.dev.Strings(PropMountPoints)
}

// IsMounted reports whether the device itself reports any mount point.
func (s StorageAccess) IsMounted() bool {
	return len(s.MountPoints()) > 0
}

func (s StorageAccess) FsType() string { return s.dev.String(PropIDType) }
