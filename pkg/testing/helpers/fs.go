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

package helpers

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FSHelper builds sysfs, udev database and mount table fixtures on an
// afero filesystem.
type FSHelper struct {
	Fs afero.Fs
}

// NewMemoryFS creates a new in-memory filesystem for testing
func NewMemoryFS() *FSHelper {
	return &FSHelper{
		Fs: afero.NewMemMapFs(),
	}
}

// SysfsDevice describes one device directory in a fake sysfs tree.
type SysfsDevice struct {
	Uevent map[string]string
	// Subsystem and Name place the device under class/<Subsystem>/<Name>.
	Subsystem string
	Name      string
	// DevPath is written into the uevent file, standing in for the class
	// symlink real sysfs uses.
	DevPath string
}

// CreateSysfsDevice writes a class entry and, when DevPath is set, the
// matching /devices directory so parent lookups can walk it.
func (h *FSHelper) CreateSysfsDevice(root string, dev SysfsDevice) error {
	props := make(map[string]string, len(dev.Uevent)+1)
	for k, v := range dev.Uevent {
		props[k] = v
	}
	if dev.DevPath != "" {
		props["DEVPATH"] = dev.DevPath
	}
	body := formatKeyValues("", props)

	classDir := path.Join(root, "class", dev.Subsystem, dev.Name)
	if err := h.WriteFile(path.Join(classDir, "uevent"), []byte(body)); err != nil {
		return err
	}
	if dev.DevPath != "" {
		if err := h.WriteFile(path.Join(root, dev.DevPath, "uevent"), []byte(body)); err != nil {
			return err
		}
	}
	return nil
}

// CreateSysfsBus registers an empty bus subsystem.
func (h *FSHelper) CreateSysfsBus(root, bus string) error {
	dir := path.Join(root, "bus", bus, "devices")
	if err := h.Fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create bus directory %s: %w", dir, err)
	}
	return nil
}

// CreateUdevEntry writes a udev database entry such as "b8:16" with E:
// property lines.
func (h *FSHelper) CreateUdevEntry(dataDir, id string, props map[string]string) error {
	return h.WriteFile(path.Join(dataDir, id), []byte(formatKeyValues("E:", props)))
}

// MountTables holds the contents of the three mount table sources.
type MountTables struct {
	Fstab     string
	Mtab      string
	MountInfo string
}

// CreateMountTables writes /etc/fstab, /proc/mounts and
// /proc/self/mountinfo, skipping empty ones.
func (h *FSHelper) CreateMountTables(t MountTables) error {
	for p, content := range map[string]string{
		"/etc/fstab":           t.Fstab,
		"/proc/mounts":         t.Mtab,
		"/proc/self/mountinfo": t.MountInfo,
	} {
		if content == "" {
			continue
		}
		if err := h.WriteFile(p, []byte(content)); err != nil {
			return err
		}
	}
	return nil
}

// CreateDirectoryStructure creates a directory tree from a nested map:
// string or []byte values are files, maps are directories, nil is an
// empty directory.
func (h *FSHelper) CreateDirectoryStructure(structure map[string]any) error {
	return h.createStructureRecursive("", structure)
}

func (h *FSHelper) createStructureRecursive(basePath string, structure map[string]any) error {
	for name, content := range structure {
		fullPath := path.Join(basePath, name)

		switch v := content.(type) {
		case string:
			if err := h.WriteFile(fullPath, []byte(v)); err != nil {
				return err
			}
		case []byte:
			if err := h.WriteFile(fullPath, v); err != nil {
				return err
			}
		case map[string]any:
			if err := h.Fs.MkdirAll(fullPath, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", fullPath, err)
			}
			if err := h.createStructureRecursive(fullPath, v); err != nil {
				return err
			}
		case nil:
			if err := h.Fs.MkdirAll(fullPath, 0o755); err != nil {
				return fmt.Errorf("failed to create empty directory %s: %w", fullPath, err)
			}
		}
	}
	return nil
}

// FileExists checks if a file exists
func (h *FSHelper) FileExists(p string) bool {
	exists, err := afero.Exists(h.Fs, p)
	if err != nil {
		return false
	}
	return exists
}

// ReadFile reads a file and returns its content
func (h *FSHelper) ReadFile(p string) ([]byte, error) {
	data, err := afero.ReadFile(h.Fs, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", p, err)
	}
	return data, nil
}

// WriteFile writes content to a file, creating parent directories.
func (h *FSHelper) WriteFile(p string, content []byte) error {
	if err := h.Fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for file %s: %w", p, err)
	}
	if err := afero.WriteFile(h.Fs, p, content, 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", p, err)
	}
	return nil
}

// formatKeyValues renders sorted KEY=VALUE lines.
func formatKeyValues(prefix string, props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(prefix)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(props[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// USBStickFixture is a USB disk with one vfat partition, as found on a
// typical desktop.
func USBStickFixture() []SysfsDevice {
	const disk = "/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1:1.0/host6/target6:0:0/6:0:0:0/block/sdb"
	return []SysfsDevice{
		{
			Subsystem: "block",
			Name:      "sdb",
			DevPath:   disk,
			Uevent: map[string]string{
				"MAJOR": "8", "MINOR": "16", "DEVNAME": "sdb", "DEVTYPE": "disk",
			},
		},
		{
			Subsystem: "block",
			Name:      "sdb1",
			DevPath:   disk + "/sdb1",
			Uevent: map[string]string{
				"MAJOR": "8", "MINOR": "17", "DEVNAME": "sdb1", "DEVTYPE": "partition",
				"PARTN": "1",
			},
		},
	}
}
