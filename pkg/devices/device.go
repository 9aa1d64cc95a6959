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

// Package devices defines the device model shared by every backend: a
// session-local identifier, a parent link, a bag of typed properties and a
// set of capability tags. Typed views over a device are obtained per
// capability (see View) instead of through an interface hierarchy.
package devices

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// Source names the backend a device snapshot came from.
type Source string

const (
	SourceUdev    Source = "udev"
	SourceUDisks2 Source = "udisks2"
	SourceFstab   Source = "fstab"
)

// Device is a snapshot of a single device. The UDI never changes for the
// lifetime of the device; properties may be refreshed in place by the
// registry, which is their only writer.
type Device struct {
	Properties   map[string]any `json:"properties"`
	Capabilities CapabilitySet  `json:"capabilities"`
	UDI          string         `json:"udi"`
	Parent       string         `json:"parent,omitempty"`
	Source       Source         `json:"source"`
}

// New returns an empty device with the given identity.
func New(udi, parent string, source Source) *Device {
	return &Device{
		UDI:          udi,
		Parent:       parent,
		Source:       source,
		Properties:   make(map[string]any),
		Capabilities: make(CapabilitySet),
	}
}

// Clone returns a deep enough copy for handing out to readers: maps and
// string slices are copied, scalar values are shared.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := &Device{
		UDI:          d.UDI,
		Parent:       d.Parent,
		Source:       d.Source,
		Properties:   make(map[string]any, len(d.Properties)),
		Capabilities: maps.Clone(d.Capabilities),
	}
	if c.Capabilities == nil {
		c.Capabilities = make(CapabilitySet)
	}
	for k, v := range d.Properties {
		if ss, ok := v.([]string); ok {
			v = slices.Clone(ss)
		}
		c.Properties[k] = v
	}
	return c
}

// Has reports whether the device carries the capability.
func (d *Device) Has(c Capability) bool {
	return d != nil && d.Capabilities.Has(c)
}

// Set stores a property value.
func (d *Device) Set(key string, value any) {
	if d.Properties == nil {
		d.Properties = make(map[string]any)
	}
	d.Properties[key] = value
}

// Property returns the raw property value.
func (d *Device) Property(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.Properties[key]
	return v, ok
}

// HasProperty reports whether the key is present, regardless of its value.
func (d *Device) HasProperty(key string) bool {
	_, ok := d.Property(key)
	return ok
}

// String returns a string property, or "" when missing or not a string.
func (d *Device) String(key string) string {
	v, _ := d.Property(key)
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return strings.TrimRight(string(s), "\x00")
	default:
		return ""
	}
}

// Bool returns a boolean property. udev style "1" values count as true.
func (d *Device) Bool(key string) bool {
	v, _ := d.Property(key)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "1" || strings.EqualFold(b, "true")
	default:
		return false
	}
}

// Strings returns a string list property.
func (d *Device) Strings(key string) []string {
	v, _ := d.Property(key)
	switch s := v.(type) {
	case []string:
		return s
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	default:
		return nil
	}
}

// Uint returns an unsigned property, converting from the other integer
// kinds D-Bus and uevent parsing produce.
func (d *Device) Uint(key string) uint64 {
	v, _ := d.Property(key)
	switch n := v.(type) {
	case uint64:
		return n
	case uint32:
		return uint64(n)
	case int64:
		if n < 0 {
			return 0
		}
		return uint64(n)
	case int:
		if n < 0 {
			return 0
		}
		return uint64(n)
	default:
		return 0
	}
}

// PropertyString renders any property value the way udev would compare it.
func (d *Device) PropertyString(key string) string {
	v, ok := d.Property(key)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case []string:
		return strings.Join(t, " ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}
