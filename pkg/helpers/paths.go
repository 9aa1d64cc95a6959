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

package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/zaparoo-storage/pkg/config"
	"github.com/adrg/xdg"
)

// Dirs are the directories the daemon reads and writes.
type Dirs struct {
	ConfigDir string
	DataDir   string
	// TempDir holds the log file and the pid file.
	TempDir string
}

// DefaultDirs follows the XDG base directory spec. The temp dir prefers the
// user runtime dir so the pid file disappears on logout.
func DefaultDirs() Dirs {
	temp := filepath.Join(os.TempDir(), config.AppName)
	if xdg.RuntimeDir != "" {
		temp = filepath.Join(xdg.RuntimeDir, config.AppName)
	}
	return Dirs{
		ConfigDir: filepath.Join(xdg.ConfigHome, config.AppName),
		DataDir:   filepath.Join(xdg.DataHome, config.AppName),
		TempDir:   temp,
	}
}

// EnsureDirectories creates the temp and data directories.
func EnsureDirectories(d Dirs) error {
	for _, dir := range []string{d.TempDir, d.DataDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
