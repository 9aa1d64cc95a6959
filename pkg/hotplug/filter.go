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

package hotplug

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter reports a malformed subsystem filter.
var ErrInvalidFilter = errors.New("invalid subsystem filter")

// Filter matches events by subsystem and, optionally, device type.
type Filter struct {
	Subsystem string
	DevType   string
}

func (f Filter) String() string {
	if f.DevType == "" {
		return f.Subsystem
	}
	return f.Subsystem + "/" + f.DevType
}

// ParseFilter parses "subsystem" or "subsystem/devtype".
func ParseFilter(s string) (Filter, error) {
	sub, devType, hasSlash := strings.Cut(s, "/")
	switch {
	case strings.TrimSpace(s) != s || sub == "":
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	case hasSlash && (devType == "" || strings.Contains(devType, "/")):
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
	return Filter{Subsystem: sub, DevType: devType}, nil
}

// ParseFilters parses a filter list, failing on the first malformed entry.
func ParseFilters(list []string) ([]Filter, error) {
	out := make([]Filter, 0, len(list))
	for _, s := range list {
		f, err := ParseFilter(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// matchAny reports whether an event passes the filter set. An empty set
// passes everything.
func matchAny(filters []Filter, subsystem, devType string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Subsystem != subsystem {
			continue
		}
		if f.DevType == "" || f.DevType == devType {
			return true
		}
	}
	return false
}
