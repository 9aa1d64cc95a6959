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

// Package mounttab caches the relevant rows of the static (fstab) and live
// (mtab) mount tables. Only network and stacked filesystems are kept; block
// devices are tracked by the storage service instead.
package mounttab

import (
	"slices"

	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-storage/pkg/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Table names one of the two cached tables.
type Table string

const (
	Static Table = "fstab"
	Live   Table = "mtab"
)

// Entry is a classified mount table row.
type Entry struct {
	// Device is the row identity, see Identity.
	Device     string   `json:"device"`
	Source     string   `json:"source"`
	MountPoint string   `json:"mountPoint"`
	FsType     string   `json:"fsType"`
	Options    []string `json:"options,omitempty"`
}

// Paths locates the table sources.
type Paths struct {
	Fstab     string
	Mtab      string
	MountInfo string
}

var DefaultPaths = Paths{
	Fstab:     "/etc/fstab",
	Mtab:      "/proc/mounts",
	MountInfo: "/proc/self/mountinfo",
}

type table struct {
	entries []Entry
	valid   bool
	builds  int
}

// Cache lazily builds both tables. Each table is rebuilt at most once per
// invalidation, and readers only ever see a fully built table: the whole
// clear, repopulate and mark valid sequence runs under one mutex.
type Cache struct {
	fs      afero.Fs
	metrics *metrics.Metrics
	paths   Paths
	static  table
	live    table
	mu      syncutil.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

func WithFs(fs afero.Fs) Option {
	return func(c *Cache) { c.fs = fs }
}

func WithPaths(p Paths) Option {
	return func(c *Cache) {
		if p.Fstab != "" {
			c.paths.Fstab = p.Fstab
		}
		if p.Mtab != "" {
			c.paths.Mtab = p.Mtab
		}
		if p.MountInfo != "" {
			c.paths.MountInfo = p.MountInfo
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func NewCache(opts ...Option) *Cache {
	c := &Cache{
		fs:    afero.NewOsFs(),
		paths: DefaultPaths,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Paths() Paths {
	return c.paths
}

// DeviceList returns every identity known to either table, static rows
// first, without duplicates.
func (c *Cache) DeviceList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(Static)
	c.ensure(Live)

	var out []string
	for _, t := range []*table{&c.static, &c.live} {
		for _, e := range t.entries {
			if !slices.Contains(out, e.Device) {
				out = append(out, e.Device)
			}
		}
	}
	return out
}

// MountPoints returns the configured and current mount points of a device,
// without duplicates.
func (c *Cache) MountPoints(device string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(Static)
	c.ensure(Live)

	var out []string
	for _, t := range []*table{&c.static, &c.live} {
		for _, e := range t.entries {
			if e.Device == device && !slices.Contains(out, e.MountPoint) {
				out = append(out, e.MountPoint)
			}
		}
	}
	return out
}

// Options returns the static table mount options of a device in file order.
func (c *Cache) Options(device string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(Static)

	var out []string
	for _, e := range c.static.entries {
		if e.Device == device {
			out = append(out, e.Options...)
		}
	}
	return out
}

// FsType returns the filesystem type of a device. The live table is always
// built after the static one, so its value wins when both have the device.
func (c *Cache) FsType(device string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(Static)
	c.ensure(Live)

	fsType := ""
	for _, t := range []*table{&c.static, &c.live} {
		for _, e := range t.entries {
			if e.Device == device {
				fsType = e.FsType
			}
		}
	}
	return fsType
}

// CurrentMountPoints answers "is it mounted right now" from the live table
// only.
func (c *Cache) CurrentMountPoints(device string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(Live)

	var out []string
	for _, e := range c.live.entries {
		if e.Device == device && !slices.Contains(out, e.MountPoint) {
			out = append(out, e.MountPoint)
		}
	}
	return out
}

// Entries returns a copy of the rows of one table.
func (c *Cache) Entries(t Table) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(t)

	src := c.tableFor(t).entries
	out := make([]Entry, len(src))
	for i, e := range src {
		e.Options = slices.Clone(e.Options)
		out[i] = e
	}
	return out
}

func (c *Cache) FlushFstabCache() {
	c.flush(Static)
}

func (c *Cache) FlushMtabCache() {
	c.flush(Live)
}

func (c *Cache) flush(t Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tableFor(t).valid = false
}

// Builds reports how many times a table has been rebuilt.
func (c *Cache) Builds(t Table) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tableFor(t).builds
}

func (c *Cache) tableFor(t Table) *table {
	if t == Static {
		return &c.static
	}
	return &c.live
}

// ensure rebuilds a table if it is invalid. Callers hold c.mu.
func (c *Cache) ensure(t Table) {
	tbl := c.tableFor(t)
	if tbl.valid {
		return
	}

	path := c.paths.Mtab
	if t == Static {
		path = c.paths.Fstab
	}

	tbl.entries = tbl.entries[:0]
	for _, raw := range c.read(t, path) {
		if !IsRelevant(raw.fsType, raw.source) {
			continue
		}
		tbl.entries = append(tbl.entries, Entry{
			Device:     Identity(raw.source, raw.fsType, raw.mountPoint),
			Source:     raw.source,
			MountPoint: raw.mountPoint,
			FsType:     raw.fsType,
			Options:    raw.options,
		})
	}
	tbl.valid = true
	tbl.builds++
	c.metrics.RecordTableRebuild(string(t))

	log.Debug().
		Str("table", string(t)).
		Int("entries", len(tbl.entries)).
		Msg("rebuilt mount table cache")
}

// read returns the raw rows of a source. A missing or unreadable source is
// an empty table, not an error.
func (c *Cache) read(t Table, path string) []rawEntry {
	f, err := c.fs.Open(path)
	if err != nil {
		log.Debug().Err(err).Str("table", string(t)).Str("path", path).Msg("mount table unavailable")
		return nil
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("path", path).Msg("failed to close mount table")
		}
	}()
	return parseMntent(f)
}
