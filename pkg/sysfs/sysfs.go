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

// Package sysfs enumerates kernel devices from /sys and merges in the udev
// database, producing device snapshots of source udev.
package sysfs

import (
	"bufio"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultRoot     = "/sys"
	DefaultUdevData = "/run/udev/data"
)

// Enumerator reads device snapshots from a sysfs tree.
type Enumerator struct {
	fs       afero.Fs
	stat     StatFunc
	root     string
	udevData string
}

type Option func(*Enumerator)

func WithFs(fs afero.Fs) Option {
	return func(e *Enumerator) { e.fs = fs }
}

// WithRoot relocates the sysfs mount point.
func WithRoot(root string) Option {
	return func(e *Enumerator) { e.root = root }
}

// WithUdevData relocates the udev database directory.
func WithUdevData(dir string) Option {
	return func(e *Enumerator) { e.udevData = dir }
}

// WithStat replaces the device node stat used by DevNum.
func WithStat(fn StatFunc) Option {
	return func(e *Enumerator) { e.stat = fn }
}

func New(opts ...Option) *Enumerator {
	e := &Enumerator{
		fs:       afero.NewOsFs(),
		stat:     statDevNum,
		root:     DefaultRoot,
		udevData: DefaultUdevData,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subsystems lists every subsystem currently registered under bus/ and
// class/. It is computed on each call since new hardware adds subsystems.
func (e *Enumerator) Subsystems() []string {
	var out []string
	for _, dir := range []string{"bus", "class"} {
		entries, err := afero.ReadDir(e.fs, path.Join(e.root, dir))
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if !slices.Contains(out, ent.Name()) {
				out = append(out, ent.Name())
			}
		}
	}
	slices.Sort(out)
	return out
}

// Devices enumerates one subsystem, or every subsystem when subsystem is "".
func (e *Enumerator) Devices(subsystem string) []*devices.Device {
	subs := []string{subsystem}
	if subsystem == "" {
		subs = e.Subsystems()
	}

	var out []*devices.Device
	seen := make(map[string]struct{})
	for _, sub := range subs {
		for _, entry := range e.subsystemEntries(sub) {
			d, ok := e.readDevice(entry, sub)
			if !ok {
				continue
			}
			if _, dup := seen[d.UDI]; dup {
				continue
			}
			seen[d.UDI] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

// DeviceBySysPath loads a single device by its /sys path.
func (e *Enumerator) DeviceBySysPath(sysPath string) (*devices.Device, bool) {
	if !strings.HasPrefix(sysPath, e.root+"/") {
		return nil, false
	}
	return e.readDevice(sysPath, "")
}

// DeviceBySubsystemAndName loads a device such as ("block", "sdb").
func (e *Enumerator) DeviceBySubsystemAndName(subsystem, name string) (*devices.Device, bool) {
	if subsystem == "" || name == "" || strings.Contains(name, "/") {
		return nil, false
	}
	for _, dir := range []string{
		path.Join(e.root, "class", subsystem, name),
		path.Join(e.root, "bus", subsystem, "devices", name),
	} {
		if d, ok := e.readDevice(dir, subsystem); ok {
			return d, true
		}
	}
	return nil, false
}

func (e *Enumerator) subsystemEntries(sub string) []string {
	var out []string
	for _, dir := range []string{
		path.Join(e.root, "class", sub),
		path.Join(e.root, "bus", sub, "devices"),
	} {
		entries, err := afero.ReadDir(e.fs, dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			out = append(out, path.Join(dir, ent.Name()))
		}
	}
	return out
}

// readDevice builds a snapshot from <dir>/uevent plus the udev database.
func (e *Enumerator) readDevice(dir, subsystem string) (*devices.Device, bool) {
	props, err := e.readUevent(path.Join(dir, "uevent"))
	if err != nil {
		return nil, false
	}

	if props[devices.UdevDevPath] == "" {
		props[devices.UdevDevPath] = strings.TrimPrefix(e.resolve(dir), e.root)
	}
	if props[devices.UdevSubsystem] == "" {
		if subsystem == "" {
			subsystem = e.subsystemOf(dir)
		}
		props[devices.UdevSubsystem] = subsystem
	}
	if props[devices.UdevSysName] == "" {
		props[devices.UdevSysName] = path.Base(props[devices.UdevDevPath])
	}

	for k, v := range e.readUdevDB(props) {
		if _, ok := props[k]; !ok {
			props[k] = v
		}
	}

	d := DeviceFromProperties(props)
	d.Parent = e.ParentOf(props[devices.UdevDevPath])
	return d, true
}

func (e *Enumerator) readUevent(p string) (map[string]string, error) {
	f, err := e.fs.Open(p)
	if err != nil {
		return nil, err //nolint:wrapcheck // Thin wrapper, error context added by caller
	}
	defer func() { _ = f.Close() }()
	return parseKeyValues(f, ""), nil
}

// readUdevDB merges E: lines of the udev database entry for a device. Block
// and char devices are keyed by type and devnum, others by subsystem and
// sysname.
func (e *Enumerator) readUdevDB(props map[string]string) map[string]string {
	var id string
	switch {
	case props[devices.UdevMajor] != "" && props[devices.UdevSubsystem] == "block":
		id = "b" + props[devices.UdevMajor] + ":" + props[devices.UdevMinor]
	case props[devices.UdevMajor] != "":
		id = "c" + props[devices.UdevMajor] + ":" + props[devices.UdevMinor]
	default:
		id = "+" + props[devices.UdevSubsystem] + ":" + props[devices.UdevSysName]
	}

	f, err := e.fs.Open(path.Join(e.udevData, id))
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()
	return parseKeyValues(f, "E:")
}

// resolve follows a class or bus symlink to its /sys/devices location when
// the filesystem supports links.
func (e *Enumerator) resolve(p string) string {
	lr, ok := e.fs.(afero.LinkReader)
	if !ok {
		return p
	}
	target, err := lr.ReadlinkIfPossible(p)
	if err != nil {
		return p
	}
	if !path.IsAbs(target) {
		target = path.Join(path.Dir(p), target)
	}
	return path.Clean(target)
}

func (e *Enumerator) subsystemOf(dir string) string {
	lr, ok := e.fs.(afero.LinkReader)
	if ok {
		if target, err := lr.ReadlinkIfPossible(path.Join(dir, "subsystem")); err == nil {
			return path.Base(target)
		}
	}
	rel := strings.TrimPrefix(dir, e.root+"/")
	parts := strings.Split(rel, "/")
	if len(parts) >= 2 && (parts[0] == "class" || parts[0] == "bus") {
		return parts[1]
	}

	// Without links, find the class that lists a device of this name.
	name := path.Base(dir)
	for _, sub := range e.Subsystems() {
		if ok, _ := afero.Exists(e.fs, path.Join(e.root, "class", sub, name, "uevent")); ok {
			return sub
		}
	}
	return ""
}

// ParentOf returns the UDI of the closest ancestor of a devpath that is a
// device itself, or "" for roots.
func (e *Enumerator) ParentOf(devPath string) string {
	if !strings.HasPrefix(devPath, "/devices/") {
		return ""
	}
	for p := path.Dir(devPath); p != "/devices" && p != "/" && p != "."; p = path.Dir(p) {
		if ok, _ := afero.Exists(e.fs, path.Join(e.root, p, "uevent")); ok {
			return e.root + p
		}
	}
	return ""
}

// parseKeyValues reads KEY=VALUE lines, optionally only those carrying a
// prefix such as "E:". Malformed lines are skipped.
func parseKeyValues(r io.Reader, prefix string) map[string]string {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if prefix != "" {
			var ok bool
			if line, ok = strings.CutPrefix(line, prefix); !ok {
				continue
			}
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" {
			continue
		}
		props[k] = v
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("truncated sysfs key/value file")
	}
	return props
}

// StatFunc reports the device number of a device node. ok is false for
// anything that is not a block or character device.
type StatFunc func(path string) (block bool, major, minor uint32, ok bool)

// DevNum stats a device node.
func (e *Enumerator) DevNum(p string) (block bool, major, minor uint32, ok bool) {
	return e.stat(p)
}
