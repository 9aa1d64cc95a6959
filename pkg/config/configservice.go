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

import "slices"

const DefaultAPIListen = "127.0.0.1:7498"

type Service struct {
	Metrics        *bool      `toml:"metrics,omitempty"`
	Discovery      *bool      `toml:"discovery,omitempty"`
	APIListen      string     `toml:"api_listen,omitempty" validate:"omitempty,hostname_port"`
	DiscoveryName  string     `toml:"discovery_name,omitempty" validate:"omitempty,max=63"`
	AllowedOrigins []string   `toml:"allowed_origins,omitempty"`
	AllowedIPs     []string   `toml:"allowed_ips,omitempty" validate:"dive,ip|cidr"`
	Publishers     Publishers `toml:"publishers,omitempty"`
}

type Publishers struct {
	MQTT []MQTTPublisher `toml:"mqtt,omitempty" validate:"dive"`
}

type MQTTPublisher struct {
	Enabled *bool    `toml:"enabled,omitempty"`
	Broker  string   `toml:"broker" validate:"required"`
	Topic   string   `toml:"topic" validate:"required"`
	Filter  []string `toml:"filter,omitempty,multiline"`
}

type Broadcast struct {
	DBusBridge *bool `toml:"dbus_bridge,omitempty"`
}

func (c *Instance) APIListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Service.APIListen == "" {
		return DefaultAPIListen
	}
	return c.vals.Service.APIListen
}

func (c *Instance) SetAPIListen(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Service.APIListen = addr
}

func (c *Instance) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.vals.Service.AllowedOrigins)
}

// AllowedIPs is the API client allowlist, empty to allow everyone.
func (c *Instance) AllowedIPs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.vals.Service.AllowedIPs)
}

func (c *Instance) MetricsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.vals.Service.Metrics, true)
}

// DiscoveryEnabled reports whether the API is advertised over mDNS. It only
// has an effect when the API listens on a non-loopback address.
func (c *Instance) DiscoveryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.vals.Service.Discovery, true)
}

func (c *Instance) DiscoveryInstanceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.DiscoveryName
}

func (c *Instance) GetMQTTPublishers() []MQTTPublisher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.Publishers.MQTT
}

func (c *Instance) DBusBridgeEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return boolOr(c.vals.Broadcast.DBusBridge, true)
}
