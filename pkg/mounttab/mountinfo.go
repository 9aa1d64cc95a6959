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

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// MountInfoEntry is one row of /proc/self/mountinfo.
type MountInfoEntry struct {
	Root           string
	MountDir       string
	FsType         string
	MountSource    string
	MountOptions   []string
	OptionalFields []string
	SuperOptions   []string
	MountID        int
	ParentID       int
	DevMajor       int
	DevMinor       int
}

// ParseMountInfo reads mountinfo rows, skipping malformed ones.
func ParseMountInfo(r io.Reader) []MountInfoEntry {
	var out []MountInfoEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		if e, ok := parseMountInfoLine(scanner.Text()); ok {
			out = append(out, e)
		}
	}
	return out
}

// parseMountInfoLine parses
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
func parseMountInfoLine(line string) (MountInfoEntry, bool) {
	fields := strings.Fields(line)
	sep := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			sep = i
			break
		}
	}
	if sep < 0 || len(fields) < sep+3 {
		return MountInfoEntry{}, false
	}

	var e MountInfoEntry
	var err error
	if e.MountID, err = strconv.Atoi(fields[0]); err != nil {
		return MountInfoEntry{}, false
	}
	if e.ParentID, err = strconv.Atoi(fields[1]); err != nil {
		return MountInfoEntry{}, false
	}
	maj, mnr, ok := strings.Cut(fields[2], ":")
	if !ok {
		return MountInfoEntry{}, false
	}
	if e.DevMajor, err = strconv.Atoi(maj); err != nil {
		return MountInfoEntry{}, false
	}
	if e.DevMinor, err = strconv.Atoi(mnr); err != nil {
		return MountInfoEntry{}, false
	}

	e.Root = unescape(fields[3])
	e.MountDir = unescape(fields[4])
	e.MountOptions = splitOptions(fields[5])
	if sep > 6 {
		e.OptionalFields = fields[6:sep]
	}
	e.FsType = unescape(fields[sep+1])
	e.MountSource = unescape(fields[sep+2])
	if len(fields) > sep+3 {
		e.SuperOptions = splitOptions(fields[sep+3])
	}
	return e, true
}

// BaseMountPoint resolves the canonical mount point of a block device that
// may be bind mounted several times: the last mountinfo row for the source
// whose root is the filesystem's top level. Returns "" when there is none.
// The table is re-read on every call.
func (c *Cache) BaseMountPoint(source string) string {
	source = strings.TrimRight(source, "\x00")
	if source == "" {
		return ""
	}

	f, err := c.fs.Open(c.paths.MountInfo)
	if err != nil {
		log.Debug().Err(err).Str("path", c.paths.MountInfo).Msg("mountinfo unavailable")
		return ""
	}
	defer func() { _ = f.Close() }()

	return baseMountPoint(ParseMountInfo(f), source)
}

func baseMountPoint(entries []MountInfoEntry, source string) string {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.MountSource == source && e.Root == "/" {
			return e.MountDir
		}
	}
	return ""
}
