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

	"github.com/ZaparooProject/zaparoo-storage/pkg/passphrase"
	"github.com/ZaparooProject/zaparoo-storage/pkg/udisks"
)

type Storage struct {
	VfatFlush      *bool    `toml:"vfat_flush,omitempty"`
	Inhibit        *bool    `toml:"inhibit,omitempty"`
	UnmountTimeout string   `toml:"unmount_timeout,omitempty" validate:"omitempty,duration"`
	CallTimeout    string   `toml:"call_timeout,omitempty" validate:"omitempty,duration"`
	UserPaths      []string `toml:"user_paths,omitempty" validate:"dive,required"`
}

type Passphrase struct {
	Enabled    *bool  `toml:"enabled,omitempty"`
	Service    string `toml:"service,omitempty" validate:"omitempty,contains=."`
	ObjectPath string `toml:"object_path,omitempty" validate:"omitempty,object_path"`
	Interface  string `toml:"interface,omitempty" validate:"omitempty,contains=."`
	AppID      string `toml:"app_id,omitempty"`
}

func (c *Instance) UnmountTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Storage.UnmountTimeout, udisks.DefaultUnmountTimeout)
}

func (c *Instance) CallTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Storage.CallTimeout, udisks.DefaultCallTimeout)
}

// UserPaths are the mount point prefixes shown to users. Nil means the
// built-in media directories and home.
func (c *Instance) UserPaths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.vals.Storage.UserPaths) == 0 {
		return nil
	}
	return append([]string(nil), c.vals.Storage.UserPaths...)
}

func (c *Instance) VfatFlush() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.vals.Storage.VfatFlush, true)
}

func (c *Instance) InhibitEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.vals.Storage.Inhibit, true)
}

func (c *Instance) PassphraseEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.vals.Passphrase.Enabled, true)
}

func (c *Instance) PassphraseTarget() passphrase.Target {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return passphrase.Target{
		Service:   c.vals.Passphrase.Service,
		Path:      c.vals.Passphrase.ObjectPath,
		Interface: c.vals.Passphrase.Interface,
		AppID:     c.vals.Passphrase.AppID,
	}
}
