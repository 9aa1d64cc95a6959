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

import "strings"

// ShareType is the protocol of a network share.
type ShareType string

const (
	ShareUnknown ShareType = "unknown"
	ShareNfs     ShareType = "nfs"
	ShareCifs    ShareType = "cifs"
)

// ShareTypeForFs maps a filesystem type to a share protocol.
func ShareTypeForFs(fstype string) ShareType {
	switch fstype {
	case "nfs", "nfs4":
		return ShareNfs
	case "cifs", "smb3", "smbfs":
		return ShareCifs
	default:
		return ShareUnknown
	}
}

// ShareURL builds a browsable URL for a share source such as
// "server:/export" or "//server/share".
func ShareURL(t ShareType, source string) string {
	switch t {
	case ShareNfs:
		host, path, ok := strings.Cut(source, ":")
		if !ok {
			return ""
		}
		return "nfs://" + host + path
	case ShareCifs:
		if rest, ok := strings.CutPrefix(source, "//"); ok {
			return "smb://" + rest
		}
		return ""
	default:
		return ""
	}
}

// NetworkShare is the view of a remote filesystem.
type NetworkShare struct {
	dev *Device
}

func (n NetworkShare) Type() ShareType {
	if t := n.dev.String(PropShareType); t != "" {
		return ShareType(t)
	}
	return ShareTypeForFs(n.dev.String(PropIDType))
}

func (n NetworkShare) URL() string {
	if u := n.dev.String(PropURL); u != "" {
		return u
	}
	return ShareURL(n.Type(), n.dev.String(PropDevice))
}
