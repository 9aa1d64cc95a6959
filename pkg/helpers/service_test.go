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

package helpers

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServicePid(t *testing.T) {
	t.Parallel()

	dirs := Dirs{TempDir: t.TempDir()}
	svc, err := NewService(ServiceArgs{Dirs: dirs})
	require.NoError(t, err)

	pid, err := svc.Pid()
	require.NoError(t, err)
	assert.Zero(t, pid)
	assert.False(t, svc.Running())

	require.NoError(t, svc.createPidFile())
	pid, err = svc.Pid()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, svc.Running())

	require.NoError(t, svc.removePidFile())
	assert.False(t, svc.Running())

	require.NoError(t, os.WriteFile(svc.pidPath(), []byte("garbage"), 0o600))
	_, err = svc.Pid()
	require.Error(t, err)
	assert.False(t, svc.Running())
}

func TestServiceHandler_Unknown(t *testing.T) {
	t.Parallel()

	svc, err := NewService(ServiceArgs{Dirs: Dirs{TempDir: t.TempDir()}})
	require.NoError(t, err)

	empty := ""
	require.NoError(t, svc.ServiceHandler(&empty))
	bogus := "explode"
	require.Error(t, svc.ServiceHandler(&bogus))
	stop := "stop"
	require.Error(t, svc.ServiceHandler(&stop), "nothing running")
}
