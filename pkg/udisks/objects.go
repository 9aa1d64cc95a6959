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

package udisks

import (
	"slices"
	"strings"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/godbus/dbus/v5"
)

// Devices converts a managed object snapshot, skipping objects that expose
// none of the storage interfaces.
func (m ObjectMap) Devices() []*devices.Device {
	out := make([]*devices.Device, 0, len(m))
	for p, ifaces := range m {
		if d, ok := ToDevice(p, ifaces); ok {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b *devices.Device) int {
		return strings.Compare(a.UDI, b.UDI)
	})
	return out
}

// ToDevice converts one object. The UDI is the object path.
func ToDevice(p dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) (*devices.Device, bool) {
	block, isBlock := ifaces[BlockInterface]
	drive, isDrive := ifaces[DriveInterface]
	if !isBlock && !isDrive {
		return nil, false
	}

	d := devices.New(string(p), "", devices.SourceUDisks2)
	for _, name := range []string{
		DriveInterface, BlockInterface, PartitionInterface, FilesystemInterface, EncryptedInterface,
	} {
		for k, v := range ifaces[name] {
			d.Set(k, normalize(v.Value()))
		}
	}

	if isBlock {
		d.Capabilities.Add(devices.CapBlock)
		d.Parent = parentOf(block, ifaces[PartitionInterface])
	}
	if _, ok := ifaces[FilesystemInterface]; ok {
		d.Capabilities.Add(devices.CapStorageVolume, devices.CapStorageAccess)
		if fs := d.String(devices.PropIDType); fs == "iso9660" || fs == "udf" {
			d.Capabilities.Add(devices.CapOpticalDisc)
		}
		if !d.HasProperty(devices.PropMountPoints) {
			d.Set(devices.PropMountPoints, []string{})
		}
	}
	if _, ok := ifaces[EncryptedInterface]; ok {
		d.Capabilities.Add(devices.CapStorageVolume, devices.CapStorageAccess)
		d.Set(devices.PropEncrypted, true)
	}
	if isDrive {
		d.Capabilities.Add(devices.CapStorageDrive)
		if v, ok := drive[devices.PropOptical]; ok {
			if optical, _ := v.Value().(bool); optical {
				d.Capabilities.Add(devices.CapOpticalDrive)
			}
		}
	}
	return d, true
}

// parentOf picks the containing object: the partition table, else the
// encrypted backing device, else the drive.
func parentOf(block, partition map[string]dbus.Variant) string {
	if v, ok := partition["Table"]; ok {
		if p, _ := v.Value().(dbus.ObjectPath); devices.IsObjectRef(string(p)) {
			return string(p)
		}
	}
	for _, key := range []string{devices.PropCryptoBackingDevice, devices.PropDrive} {
		if v, ok := block[key]; ok {
			if p, _ := v.Value().(dbus.ObjectPath); devices.IsObjectRef(string(p)) {
				return string(p)
			}
		}
	}
	return ""
}

// normalize converts D-Bus values to the property types devices use:
// byte strings and object paths become strings, byte string lists become
// string lists.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return strings.TrimRight(string(t), "\x00")
	case dbus.ObjectPath:
		return string(t)
	case []dbus.ObjectPath:
		out := make([]string, len(t))
		for i, p := range t {
			out[i] = string(p)
		}
		return out
	case [][]byte:
		out := make([]string, 0, len(t))
		for _, b := range t {
			if s := strings.TrimRight(string(b), "\x00"); s != "" {
				out = append(out, s)
			}
		}
		return out
	case uint32:
		return uint64(t)
	case int32:
		return int64(t)
	default:
		return v
	}
}
