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

package sysfs

import (
	"strconv"
	"strings"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
)

// UDIForDevPath is the identity of a kernel device.
func UDIForDevPath(devPath string) string {
	return DefaultRoot + devPath
}

// DeviceFromProperties builds a udev device from a uevent style property
// set, assigning capabilities from the subsystem and udev ID_ keys.
func DeviceFromProperties(props map[string]string) *devices.Device {
	d := devices.New(UDIForDevPath(props[devices.UdevDevPath]), "", devices.SourceUdev)
	for k, v := range props {
		d.Set(k, v)
	}

	if name := props[devices.UdevDevName]; name != "" && !strings.HasPrefix(name, "/") {
		d.Set(devices.UdevDevName, "/dev/"+name)
	}
	if dn := d.String(devices.UdevDevName); dn != "" {
		d.Set(devices.PropDevice, dn)
	}
	if size, err := strconv.ParseUint(props["ID_PART_ENTRY_SIZE"], 10, 64); err == nil {
		d.Set(devices.PropSize, size*512)
	}
	if t := props["ID_FS_TYPE"]; t != "" {
		d.Set(devices.PropIDType, t)
	}
	if u := props["ID_FS_USAGE"]; u != "" {
		d.Set(devices.PropIDUsage, u)
	}
	if l := props["ID_FS_LABEL"]; l != "" {
		d.Set(devices.PropIDLabel, l)
	}
	if u := props["ID_FS_UUID"]; u != "" {
		d.Set(devices.PropIDUUID, u)
	}

	if props[devices.UdevSubsystem] != "block" {
		return d
	}

	d.Capabilities.Add(devices.CapBlock)
	switch props[devices.UdevDevType] {
	case "disk":
		if props["ID_CDROM"] == "1" {
			d.Capabilities.Add(devices.CapOpticalDrive)
		}
		d.Capabilities.Add(devices.CapStorageDrive)
		if props["ID_BUS"] == "usb" || props["ID_BUS"] == "ieee1394" {
			d.Set(devices.PropConnectionBus, props["ID_BUS"])
		}
	case "partition":
		d.Capabilities.Add(devices.CapStorageVolume)
	}

	switch props["ID_FS_USAGE"] {
	case "filesystem":
		d.Capabilities.Add(devices.CapStorageVolume, devices.CapStorageAccess)
	case "crypto":
		d.Capabilities.Add(devices.CapStorageVolume, devices.CapStorageAccess)
		d.Set(devices.PropEncrypted, true)
	}
	return d
}
