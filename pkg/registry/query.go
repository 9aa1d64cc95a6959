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

package registry

import (
	"path"
	"slices"
	"strconv"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
)

func isKernel(d *devices.Device) bool {
	return d.Source == devices.SourceUdev
}

// AllDevices lists every kernel device.
func (r *Registry) AllDevices() []*devices.Device {
	return r.Devices(isKernel)
}

// DevicesBySubsystem lists kernel devices of one subsystem.
func (r *Registry) DevicesBySubsystem(subsystem string) []*devices.Device {
	return r.Devices(func(d *devices.Device) bool {
		return isKernel(d) && d.String(devices.UdevSubsystem) == subsystem
	})
}

// DevicesByProperty lists kernel devices carrying a property. An empty
// value matches any value.
func (r *Registry) DevicesByProperty(key, value string) []*devices.Device {
	return r.Devices(func(d *devices.Device) bool {
		return isKernel(d) && propertyMatches(d, key, value)
	})
}

// DevicesBySubsystemsAndProperties lists kernel devices in any of the
// subsystems and matching any of the properties. An empty group does not
// restrict the result.
func (r *Registry) DevicesBySubsystemsAndProperties(
	subsystems []string,
	props map[string]string,
) []*devices.Device {
	return r.Devices(func(d *devices.Device) bool {
		if !isKernel(d) {
			return false
		}
		if len(subsystems) > 0 && !slices.Contains(subsystems, d.String(devices.UdevSubsystem)) {
			return false
		}
		if len(props) == 0 {
			return true
		}
		for k, v := range props {
			if propertyMatches(d, k, v) {
				return true
			}
		}
		return false
	})
}

// DeviceByFile resolves a device node such as /dev/sdb1. Paths that are not
// block or character devices never match.
func (r *Registry) DeviceByFile(p string) (*devices.Device, bool) {
	block, major, minor, ok := r.enum.DevNum(p)
	if !ok {
		return nil, false
	}
	maj := strconv.FormatUint(uint64(major), 10)
	mnr := strconv.FormatUint(uint64(minor), 10)

	found := r.Devices(func(d *devices.Device) bool {
		return isKernel(d) &&
			(d.String(devices.UdevSubsystem) == "block") == block &&
			d.String(devices.UdevMajor) == maj &&
			d.String(devices.UdevMinor) == mnr
	})
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

// DeviceBySysPath resolves a /sys path. Devices not yet in the store are
// read from the enumerator.
func (r *Registry) DeviceBySysPath(sysPath string) (*devices.Device, bool) {
	if d, ok := r.Device(sysPath); ok && isKernel(d) {
		return d, true
	}
	return r.enum.DeviceBySysPath(sysPath)
}

// DeviceBySubsystemAndName resolves a device such as ("block", "sdb1").
func (r *Registry) DeviceBySubsystemAndName(subsystem, name string) (*devices.Device, bool) {
	found := r.Devices(func(d *devices.Device) bool {
		return isKernel(d) &&
			d.String(devices.UdevSubsystem) == subsystem &&
			sysName(d) == name
	})
	if len(found) > 0 {
		return found[0], true
	}
	return r.enum.DeviceBySubsystemAndName(subsystem, name)
}

func sysName(d *devices.Device) string {
	if n := d.String(devices.UdevSysName); n != "" {
		return n
	}
	return path.Base(d.String(devices.UdevDevPath))
}

func propertyMatches(d *devices.Device, key, value string) bool {
	if !d.HasProperty(key) {
		return false
	}
	return value == "" || d.PropertyString(key) == value
}
