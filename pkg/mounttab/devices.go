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

package mounttab

import (
	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
)

// UDIPrefix prefixes the identity of devices built from the mount tables.
const UDIPrefix = "fstab:"

// PropConfiguredMountPoints holds the union of static and live mount points;
// devices.PropMountPoints only holds the live ones.
const PropConfiguredMountPoints = "ConfiguredMountPoints"

// Devices converts every cached identity into a device of source fstab.
// Network filesystems get network-share and storage-access, stacked
// filesystems storage-access only.
func Devices(c *Cache) []*devices.Device {
	sources := make(map[string]string)
	for _, t := range []Table{Static, Live} {
		for _, e := range c.Entries(t) {
			if _, ok := sources[e.Device]; !ok {
				sources[e.Device] = e.Source
			}
		}
	}

	ids := c.DeviceList()
	out := make([]*devices.Device, 0, len(ids))
	for _, id := range ids {
		fsType := c.FsType(id)
		source := sources[id]

		d := devices.New(UDIPrefix+id, "", devices.SourceFstab)
		d.Capabilities.Add(devices.CapStorageAccess)
		d.Set(devices.PropDevice, source)
		d.Set(devices.PropIDType, fsType)
		d.Set(devices.PropMountPoints, c.CurrentMountPoints(id))
		d.Set(PropConfiguredMountPoints, c.MountPoints(id))
		d.Set(devices.PropUserspaceMountOptions, c.Options(id))

		if IsNetwork(fsType, source) {
			d.Capabilities.Add(devices.CapNetworkShare)
			st := devices.ShareTypeForFs(fsType)
			if st == devices.ShareUnknown && len(source) > 2 && source[:2] == "//" {
				st = devices.ShareCifs
			}
			d.Set(devices.PropShareType, string(st))
			if u := devices.ShareURL(st, source); u != "" {
				d.Set(devices.PropURL, u)
			}
		}
		out = append(out, d)
	}
	return out
}
