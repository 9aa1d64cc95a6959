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

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/api"
	"github.com/ZaparooProject/zaparoo-storage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/mounttab"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/ZaparooProject/zaparoo-storage/pkg/registry"
	"github.com/ZaparooProject/zaparoo-storage/pkg/storage"
	"github.com/ZaparooProject/zaparoo-storage/pkg/testing/helpers"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stickUDI = "/org/freedesktop/UDisks2/block_devices/sdc1"
	shareUDI = "fstab://nas/music"
)

type stubStorage struct {
	accept bool
	last   chan string
}

func (s *stubStorage) Setup(udi string) bool {
	s.last <- "setup " + udi
	return s.accept
}

func (s *stubStorage) Teardown(udi string) bool {
	s.last <- "teardown " + udi
	return s.accept
}

func (*stubStorage) IsAccessible(udi string) bool { return udi == stickUDI }
func (*stubStorage) IsEncrypted(string) bool      { return false }
func (*stubStorage) IsIgnored(udi string) bool    { return udi != stickUDI }

func (*stubStorage) FilePath(udi string) string {
	if udi == stickUDI {
		return "/run/media/alex/STICK"
	}
	return ""
}

func (*stubStorage) Pending(string) (storage.PendingOperation, bool) {
	return storage.PendingOperation{}, false
}

func newDaemon(t *testing.T, accept bool) (*Client, *stubStorage) {
	t.Helper()

	fs := helpers.NewMemoryFS()
	require.NoError(t, fs.CreateMountTables(helpers.MountTables{
		Fstab: "//nas/music /mnt/music cifs noauto 0 0\n",
		Mtab:  "/dev/sdc1 /run/media/alex/STICK vfat rw 0 0\n",
	}))

	reg := registry.New(nil, nil)
	stick := devices.New(stickUDI, "", devices.SourceUDisks2)
	stick.Capabilities.Add(devices.CapBlock, devices.CapStorageAccess, devices.CapStorageVolume)
	share := devices.New(shareUDI, "", devices.SourceFstab)
	share.Capabilities.Add(devices.CapNetworkShare, devices.CapStorageAccess)
	reg.Upsert(stick)
	reg.Upsert(share)

	st := &stubStorage{accept: accept, last: make(chan string, 4)}
	srv := api.NewServer(api.Env{
		Storage: st,
		Devices: reg,
		Mounts:  mounttab.NewCache(mounttab.WithFs(fs.Fs)),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := New(ts.URL)
	require.NoError(t, err)
	return c, st
}

func TestNew(t *testing.T) {
	t.Parallel()

	c, err := New("127.0.0.1:7498")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7498/api/devices", c.endpoint("/api/devices"))

	c, err = New("http://localhost:7498/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:7498/api/mounts", c.endpoint("/api/mounts"))

	_, err = New("http://")
	require.Error(t, err)
}

func TestDevices(t *testing.T) {
	t.Parallel()
	c, _ := newDaemon(t, true)
	ctx := context.Background()

	all, err := c.Devices(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Count)

	ignored := false
	visible, err := c.Devices(ctx, Query{Ignored: &ignored})
	require.NoError(t, err)
	require.Len(t, visible.Devices, 1)
	assert.Equal(t, stickUDI, visible.Devices[0].UDI)
	assert.Equal(t, "/run/media/alex/STICK", visible.Devices[0].FilePath)

	shares, err := c.Devices(ctx, Query{Capability: string(devices.CapNetworkShare)})
	require.NoError(t, err)
	require.Len(t, shares.Devices, 1)
	assert.Equal(t, shareUDI, shares.Devices[0].UDI)

	_, err = c.Devices(ctx, Query{Capability: "toaster"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDevice(t *testing.T) {
	t.Parallel()
	c, _ := newDaemon(t, true)
	ctx := context.Background()

	d, err := c.Device(ctx, stickUDI)
	require.NoError(t, err)
	assert.Equal(t, stickUDI, d.UDI)
	assert.True(t, d.Accessible)

	d, err = c.Device(ctx, shareUDI)
	require.NoError(t, err)
	assert.Equal(t, devices.SourceFstab, d.Source)

	_, err = c.Device(ctx, "/org/freedesktop/UDisks2/block_devices/sdz9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMounts(t *testing.T) {
	t.Parallel()
	c, _ := newDaemon(t, true)

	m, err := c.Mounts(context.Background())
	require.NoError(t, err)
	require.Len(t, m.Static, 1)
	assert.Equal(t, "/mnt/music", m.Static[0].MountPoint)
}

func TestActions(t *testing.T) {
	t.Parallel()
	c, st := newDaemon(t, true)
	ctx := context.Background()

	resp, err := c.Setup(ctx, stickUDI)
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, notify.ActionSetup, resp.Action)
	assert.Equal(t, "setup "+stickUDI, <-st.last)

	resp, err = c.Teardown(ctx, shareUDI)
	require.NoError(t, err)
	assert.Equal(t, shareUDI, resp.UDI)
	assert.Equal(t, "teardown "+shareUDI, <-st.last)
}

func TestActions_Rejected(t *testing.T) {
	t.Parallel()
	c, st := newDaemon(t, false)

	resp, err := c.Setup(context.Background(), stickUDI)
	require.ErrorIs(t, err, ErrRejected)
	assert.False(t, resp.Accepted)
	assert.Equal(t, stickUDI, resp.UDI)
	<-st.last
}

func notificationServer(t *testing.T, frames ...string) *Client {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(api.NotificationsPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c, err := New(ts.URL)
	require.NoError(t, err)
	return c
}

func TestWatch(t *testing.T) {
	t.Parallel()
	c := notificationServer(t,
		"pong",
		`{"jsonrpc":"2.0","method":"storage.actionRequested","params":{"udi":"/a"}}`,
		`{"jsonrpc":"2.0","method":"storage.actionDone","params":{"udi":"/a"}}`,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var got []string
	err := c.Watch(ctx, func(n models.NotificationObject) bool {
		got = append(got, n.Method)
		return len(got) < 2
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"storage.actionRequested", "storage.actionDone"}, got)
}

func TestWatch_ContextCancel(t *testing.T) {
	t.Parallel()
	c := notificationServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Watch(ctx, func(models.NotificationObject) bool { return true })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestWatch_DialError(t *testing.T) {
	t.Parallel()
	c, err := New("127.0.0.1:1")
	require.NoError(t, err)

	err = c.Watch(context.Background(), func(models.NotificationObject) bool { return true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
