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
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestPropertyParseDurationNeverNonPositive verifies that whatever is in
// the file, duration getters yield a usable timeout.
func TestPropertyParseDurationNeverNonPositive(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		def := time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(t, "def"))

		if got := parseDuration(s, def); got <= 0 {
			t.Fatalf("parseDuration(%q) = %v", s, got)
		}
	})
}

// TestPropertyValidDurationsRoundTrip verifies well-formed durations are
// parsed as written.
func TestPropertyValidDurationsRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		d := time.Duration(rapid.Int64Range(1, int64(24*time.Hour)).Draw(t, "d"))

		if got := parseDuration(d.String(), time.Second); got != d {
			t.Fatalf("parseDuration(%q) = %v, want %v", d.String(), got, d)
		}
	})
}

// TestPropertyObjectPathValidation verifies generated object paths pass and
// trailing slashes never do.
func TestPropertyObjectPathValidation(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		elems := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z0-9_]{1,8}`), 1, 5).Draw(t, "elems")
		p := "/" + strings.Join(elems, "/")

		type target struct {
			Path string `validate:"object_path"`
		}
		if err := validate.Struct(target{Path: p}); err != nil {
			t.Fatalf("valid path %q rejected: %v", p, err)
		}
		if err := validate.Struct(target{Path: p + "/"}); err == nil {
			t.Fatalf("trailing slash %q accepted", p+"/")
		}
	})
}
