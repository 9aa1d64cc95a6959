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

//go:build linux

package sysfs

import (
	"golang.org/x/sys/unix"
)

func statDevNum(p string) (block bool, major, minor uint32, ok bool) {
	var st unix.Stat_t
	if err := unix.Stat(p, &st); err != nil {
		return false, 0, 0, false
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		block = true
	case unix.S_IFCHR:
	default:
		return false, 0, 0, false
	}
	rdev := uint64(st.Rdev) //nolint:unconvert // Rdev width differs per arch
	return block, unix.Major(rdev), unix.Minor(rdev), true
}
