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
	"encoding/json"
	"fmt"
	"slices"
)

// Capability tags what a device can do. A device may carry several.
type Capability string

const (
	CapBlock         Capability = "block"
	CapStorageAccess Capability = "storage-access"
	CapStorageVolume Capability = "storage-volume"
	CapStorageDrive  Capability = "storage-drive"
	CapOpticalDrive  Capability = "optical-drive"
	CapOpticalDisc   Capability = "optical-disc"
	CapNetworkShare  Capability = "network-share"
)

// KnownCapabilities lists every tag in a stable order.
var KnownCapabilities = []Capability{
	CapBlock,
	CapStorageAccess,
	CapStorageVolume,
	CapStorageDrive,
	CapOpticalDrive,
	CapOpticalDisc,
	CapNetworkShare,
}

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if slices.Contains(KnownCapabilities, c) {
		return c, nil
	}
	return "", fmt.Errorf("unknown capability: %q", s)
}

// CapabilitySet is an unordered set of capability tags.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given tags.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func (s CapabilitySet) Add(caps ...Capability) {
	for _, c := range caps {
		s[c] = struct{}{}
	}
}

// List returns the tags sorted by name.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(s.List())
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}
	return b, nil
}

func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var list []Capability
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("unmarshal capabilities: %w", err)
	}
	*s = NewCapabilitySet(list...)
	return nil
}
