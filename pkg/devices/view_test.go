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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestView_RequiresCapability(t *testing.T) {
	t.Parallel()

	d := New("udi", "", SourceUDisks2)
	_, ok := AsStorageAccess(d)
	assert.False(t, ok)

	d.Capabilities.Add(CapStorageAccess)
	sa, ok := AsStorageAccess(d)
	require.True(t, ok)
	assert.False(t, sa.IsMounted())
}

func TestStorageAccess_Encryption(t *testing.T) {
	t.Parallel()

	container := New("/luks", "", SourceUDisks2)
	container.Capabilities.Add(CapStorageAccess)
	container.Set(PropEncrypted, true)

	cleartext := New("/dm0", "", SourceUDisks2)
	cleartext.Capabilities.Add(CapStorageAccess)
	cleartext.Set(PropCryptoBackingDevice, "/luks")

	plain := New("/sdb1", "", SourceUDisks2)
	plain.Capabilities.Add(CapStorageAccess)
	plain.Set(PropCryptoBackingDevice, NoObject)

	c, _ := AsStorageAccess(container)
	ct, _ := AsStorageAccess(cleartext)
	p, _ := AsStorageAccess(plain)

	assert.True(t, c.IsEncryptedContainer())
	assert.True(t, c.IsEncrypted())
	assert.True(t, ct.IsEncryptedCleartext())
	assert.Equal(t, "/luks", ct.BackingDevice())
	assert.False(t, p.IsEncrypted())
	assert.Empty(t, p.BackingDevice())
}

func TestStorageDrive_DriveType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		want  DriveType
		media []string
	}{
		{name: "optical", media: []string{"optical_cd", "optical_dvd"}, want: DriveCdrom},
		{name: "floppy", media: []string{"floppy"}, want: DriveFloppy},
		{name: "cf", media: []string{"flash_cf"}, want: DriveCompactFlash},
		{name: "ms", media: []string{"flash_ms"}, want: DriveMemoryStick},
		{name: "sm", media: []string{"flash_sm"}, want: DriveSmartMedia},
		{name: "sdxc", media: []string{"flash_sdxc"}, want: DriveSdMmc},
		{name: "none", media: nil, want: DriveHardDisk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := New("/drive", "", SourceUDisks2)
			d.Capabilities.Add(CapStorageDrive)
			d.Set(PropMediaCompatibility, tt.media)
			sd, ok := AsStorageDrive(d)
			require.True(t, ok)
			assert.Equal(t, tt.want, sd.DriveType())
		})
	}
}

func TestStorageDrive_Bus(t *testing.T) {
	t.Parallel()

	mk := func(props map[string]any) StorageDrive {
		d := New("/drive", "", SourceUDisks2)
		d.Capabilities.Add(CapStorageDrive)
		for k, v := range props {
			d.Set(k, v)
		}
		sd, _ := AsStorageDrive(d)
		return sd
	}

	assert.Equal(t, BusSata, mk(map[string]any{UdevIDBus: "ata", UdevIDATASATA: "1"}).Bus())
	assert.Equal(t, BusIde, mk(map[string]any{UdevIDBus: "ata"}).Bus())
	assert.Equal(t, BusUsb, mk(map[string]any{PropConnectionBus: "usb"}).Bus())
	assert.Equal(t, BusIeee1394, mk(map[string]any{PropConnectionBus: "ieee1394"}).Bus())
	assert.Equal(t, BusScsi, mk(map[string]any{UdevIDBus: "scsi"}).Bus())
	assert.Equal(t, BusPlatform, mk(nil).Bus())

	assert.True(t, mk(map[string]any{PropConnectionBus: "usb"}).IsHotpluggable())
	assert.True(t, mk(map[string]any{UdevUDisksSystem: "0"}).IsHotpluggable())
	assert.False(t, mk(map[string]any{UdevUDisksSystem: "1"}).IsHotpluggable())
	assert.True(t, mk(map[string]any{PropRemovable: true}).IsRemovable())
}

func TestNetworkShare(t *testing.T) {
	t.Parallel()

	d := New("fstab://server/share", "", SourceFstab)
	d.Capabilities.Add(CapNetworkShare)
	d.Set(PropIDType, "smb3")
	d.Set(PropDevice, "//server/share")

	ns, ok := AsNetworkShare(d)
	require.True(t, ok)
	assert.Equal(t, ShareCifs, ns.Type())
	assert.Equal(t, "smb://server/share", ns.URL())

	assert.Equal(t, "nfs://host/export", ShareURL(ShareNfs, "host:/export"))
	assert.Empty(t, ShareURL(ShareNfs, "bogus"))
	assert.Equal(t, ShareUnknown, ShareTypeForFs("ext4"))
}

func TestRegisterView_Custom(t *testing.T) {
	t.Parallel()

	type disc struct{ udi string }
	RegisterView(CapOpticalDisc, func(d *Device) any { return disc{udi: d.UDI} })

	d := New("/sr0", "", SourceUDisks2)
	d.Capabilities.Add(CapOpticalDisc)
	v, ok := View(d, CapOpticalDisc)
	require.True(t, ok)
	assert.Equal(t, disc{udi: "/sr0"}, v)
}
