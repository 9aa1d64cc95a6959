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

package mounttab

import "strings"

var networkFsTypes = map[string]struct{}{
	"nfs":   {},
	"nfs4":  {},
	"smbfs": {},
	"cifs":  {},
	"smb3":  {},
}

var stackedFsTypes = map[string]struct{}{
	"fuse.encfs":     {},
	"fuse.cryfs":     {},
	"fuse.gocryptfs": {},
	"overlay":        {},
}

// IsNetwork reports a network filesystem, either by type or by a UNC style
// "//host/share" source.
func IsNetwork(fsType, source string) bool {
	if _, ok := networkFsTypes[fsType]; ok {
		return true
	}
	return strings.HasPrefix(source, "//")
}

// IsStacked reports a supported stacked filesystem (encrypted FUSE or
// overlay).
func IsStacked(fsType string) bool {
	_, ok := stackedFsTypes[fsType]
	return ok
}

// IsRelevant reports whether a row belongs in the cache at all.
func IsRelevant(fsType, source string) bool {
	return IsNetwork(fsType, source) || IsStacked(fsType)
}

// Identity is the device key of a row. FUSE and overlay sources are not
// stable ("encfs", "overlay"), so those rows are keyed by fstype+mountpoint.
func Identity(source, fsType, mountPoint string) string {
	if strings.HasPrefix(fsType, "fuse.") || fsType == "overlay" {
		return fsType + mountPoint
	}
	return source
}
