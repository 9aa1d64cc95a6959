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
	"context"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/hotplug"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/ZaparooProject/zaparoo-storage/pkg/sysfs"
	testhelpers "github.com/ZaparooProject/zaparoo-storage/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usbDisk = "/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1:1.0/host6/target6:0:0/6:0:0:0/block/sdb"

type recorder struct {
	events []notify.Event
}

func (r *recorder) Publish(ev notify.Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) methods() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Method())
	}
	return out
}

func newEnumerator(t *testing.T, stat sysfs.StatFunc) *sysfs.Enumerator {
	t.Helper()
	h := testhelpers.NewMemoryFS()
	for _, d := range testhelpers.USBStickFixture() {
		require.NoError(t, h.CreateSysfsDevice("/sys", d))
	}
	require.NoError(t, h.CreateSysfsDevice("/sys", testhelpers.SysfsDevice{
		Subsystem: "tty",
		Name:      "ttyS0",
		DevPath:   "/devices/platform/serial8250/tty/ttyS0",
		Uevent:    map[string]string{"MAJOR": "4", "MINOR": "64", "DEVNAME": "ttyS0"},
	}))
	require.NoError(t, h.CreateUdevEntry("/run/udev/data", "b8:17", map[string]string{
		"ID_FS_TYPE":  "vfat",
		"ID_FS_USAGE": "filesystem",
		"ID_BUS":      "usb",
	}))
	opts := []sysfs.Option{sysfs.WithFs(h.Fs)}
	if stat != nil {
		opts = append(opts, sysfs.WithStat(stat))
	}
	return sysfs.New(opts...)
}

func newRegistry(t *testing.T, stat sysfs.StatFunc) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	r := New(newEnumerator(t, stat), rec)
	r.Rescan()
	return r, rec
}

func TestRescan_PublishesAdded(t *testing.T) {
	t.Parallel()

	r, rec := newRegistry(t, nil)
	assert.Len(t, r.AllDevices(), 3)
	assert.Equal(t, []string{
		notify.MethodDeviceAdded, notify.MethodDeviceAdded, notify.MethodDeviceAdded,
	}, rec.methods())

	rec.events = nil
	r.Rescan()
	assert.Empty(t, rec.events, "unchanged devices are not republished")
}

func TestQueries(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t, nil)

	assert.Len(t, r.DevicesBySubsystem("block"), 2)
	assert.Len(t, r.DevicesBySubsystem("tty"), 1)
	assert.Empty(t, r.DevicesBySubsystem("sound"))

	byType := r.DevicesByProperty("ID_FS_TYPE", "vfat")
	require.Len(t, byType, 1)
	assert.Equal(t, "/sys"+usbDisk+"/sdb1", byType[0].UDI)
	assert.Len(t, r.DevicesByProperty("MAJOR", ""), 3, "empty value matches any value")
	assert.Empty(t, r.DevicesByProperty("ID_FS_TYPE", "ext4"))

	tests := []struct {
		props map[string]string
		name  string
		subs  []string
		want  int
	}{
		{name: "no groups", want: 3},
		{name: "subsystem only", subs: []string{"block", "tty"}, want: 3},
		{name: "property only", props: map[string]string{"DEVTYPE": "disk"}, want: 1},
		{
			name:  "or within groups",
			props: map[string]string{"DEVTYPE": "disk", "ID_FS_TYPE": "vfat"},
			want:  2,
		},
		{
			name:  "and across groups",
			subs:  []string{"tty"},
			props: map[string]string{"DEVTYPE": "disk"},
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Len(t, r.DevicesBySubsystemsAndProperties(tt.subs, tt.props), tt.want)
		})
	}
}

func TestPointLookups(t *testing.T) {
	t.Parallel()

	stat := func(p string) (bool, uint32, uint32, bool) {
		switch p {
		case "/dev/sdb1":
			return true, 8, 17, true
		case "/dev/ttyS0":
			return false, 4, 64, true
		default:
			return false, 0, 0, false
		}
	}
	r, _ := newRegistry(t, stat)

	d, ok := r.DeviceByFile("/dev/sdb1")
	require.True(t, ok)
	assert.Equal(t, "/sys"+usbDisk+"/sdb1", d.UDI)

	d, ok = r.DeviceByFile("/dev/ttyS0")
	require.True(t, ok)
	assert.Equal(t, "tty", d.String(devices.UdevSubsystem))

	_, ok = r.DeviceByFile("/etc/passwd")
	assert.False(t, ok, "regular files never match")

	d, ok = r.DeviceBySysPath("/sys" + usbDisk)
	require.True(t, ok)
	assert.True(t, d.Has(devices.CapStorageDrive))

	_, ok = r.DeviceBySysPath("/sys/devices/nope")
	assert.False(t, ok)

	d, ok = r.DeviceBySubsystemAndName("block", "sdb1")
	require.True(t, ok)
	assert.Equal(t, "/sys"+usbDisk, d.Parent)

	_, ok = r.DeviceBySubsystemAndName("block", "sdz")
	assert.False(t, ok)
}

func TestReadersGetCopies(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t, nil)
	d, ok := r.Device("/sys" + usbDisk)
	require.True(t, ok)
	d.Set(devices.PropIDLabel, "mutated")

	again, _ := r.Device("/sys" + usbDisk)
	assert.Empty(t, again.String(devices.PropIDLabel))
}

func TestSync_RemovesMissing(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := New(newEnumerator(t, nil), rec)

	a := devices.New("/org/freedesktop/UDisks2/block_devices/sdb1", "", devices.SourceUDisks2)
	b := devices.New("/org/freedesktop/UDisks2/block_devices/sdc1", "", devices.SourceUDisks2)
	kernel := devices.New("/sys/devices/x", "", devices.SourceUdev)
	r.Upsert(kernel)
	r.Sync(devices.SourceUDisks2, []*devices.Device{a, b})
	require.Len(t, r.Devices(nil), 3)

	rec.events = nil
	b2 := b.Clone()
	b2.Set(devices.PropIDLabel, "DATA")
	r.Sync(devices.SourceUDisks2, []*devices.Device{b2})

	assert.Equal(t, []string{notify.MethodDeviceChanged, notify.MethodDeviceRemoved}, rec.methods())
	_, ok := r.Device(a.UDI)
	assert.False(t, ok)
	_, ok = r.Device(kernel.UDI)
	assert.True(t, ok, "other sources are untouched")
}

func TestRun_AppliesHotplugEvents(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := New(newEnumerator(t, nil), rec)

	props := map[string]string{
		"ACTION": "add", "SUBSYSTEM": "block", "DEVTYPE": "partition",
		"DEVPATH": usbDisk + "/sdb2", "DEVNAME": "sdb2", "MAJOR": "8", "MINOR": "18",
	}
	dev := sysfs.DeviceFromProperties(props)

	events := make(chan hotplug.Event, 3)
	events <- hotplug.Event{Action: hotplug.Added, Device: dev}
	changed := dev.Clone()
	changed.Set("ID_FS_TYPE", "ext4")
	events <- hotplug.Event{Action: hotplug.Changed, Device: changed}
	events <- hotplug.Event{Action: hotplug.Removed, Device: dev}
	close(events)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx, events))

	require.Equal(t, []string{
		notify.MethodDeviceAdded, notify.MethodDeviceChanged, notify.MethodDeviceRemoved,
	}, rec.methods())
	added, ok := rec.events[0].(notify.DeviceAdded)
	require.True(t, ok)
	assert.Equal(t, "/sys"+usbDisk, added.Device.Parent, "parent resolved from sysfs")
	assert.Empty(t, r.Devices(nil))
}

func TestRun_StopsWithContext(t *testing.T) {
	t.Parallel()

	r := New(newEnumerator(t, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, make(chan hotplug.Event)) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
