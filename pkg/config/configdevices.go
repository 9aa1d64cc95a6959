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

package config

import (
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/hotplug"
	"github.com/ZaparooProject/zaparoo-storage/pkg/mounttab"
)

const DefaultRescanInterval = 5 * time.Second

type Hotplug struct {
	// Subsystems are "subsystem" or "subsystem/devtype" filters. Empty
	// watches everything.
	Subsystems []string `toml:"subsystems,omitempty" validate:"dive,subsystem_filter"`
	Group      string   `toml:"netlink_group,omitempty" validate:"omitempty,oneof=kernel udev"`
}

type MountTable struct {
	Watch          *bool  `toml:"watch,omitempty"`
	Fstab          string `toml:"fstab,omitempty" validate:"omitempty,startswith=/"`
	Mtab           string `toml:"mtab,omitempty" validate:"omitempty,startswith=/"`
	MountInfo      string `toml:"mountinfo,omitempty" validate:"omitempty,startswith=/"`
	RescanInterval string `toml:"rescan_interval,omitempty" validate:"omitempty,duration"`
}

func (c *Instance) HotplugSubsystems() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.vals.Hotplug.Subsystems...)
}

func (c *Instance) SetHotplugSubsystems(filters []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Hotplug.Subsystems = append([]string(nil), filters...)
}

// HotplugGroup is the netlink multicast group to listen on, udev unless
// configured otherwise.
func (c *Instance) HotplugGroup() hotplug.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if g, ok := hotplug.ParseGroup(c.vals.Hotplug.Group); ok {
		return g
	}
	return hotplug.GroupUdev
}

// MountTablePaths returns the configured sources over the defaults.
func (c *Instance) MountTablePaths() mounttab.Paths {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := mounttab.DefaultPaths
	if c.vals.MountTable.Fstab != "" {
		p.Fstab = c.vals.MountTable.Fstab
	}
	if c.vals.MountTable.Mtab != "" {
		p.Mtab = c.vals.MountTable.Mtab
	}
	if c.vals.MountTable.MountInfo != "" {
		p.MountInfo = c.vals.MountTable.MountInfo
	}
	return p
}

func (c *Instance) MountTableWatch() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.vals.MountTable.Watch, true)
}

func (c *Instance) MountTableRescanInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.MountTable.RescanInterval, DefaultRescanInterval)
}
