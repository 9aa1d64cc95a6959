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

package notify

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_Subscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, id := bus.Subscribe(10)
	assert.NotNil(t, ch)
	assert.Equal(t, 0, id)

	_, id2 := bus.Subscribe(10)
	assert.Equal(t, 1, id2)
	assert.Len(t, bus.subscribers, 2)
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, id := bus.Subscribe(10)
	bus.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	bus.Unsubscribe(id)
	assert.Empty(t, bus.subscribers)
}

func TestBus_PublishIsSynchronousAndOrdered(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub1, _ := bus.Subscribe(10)
	sub2, _ := bus.Subscribe(10)

	bus.Publish(ActionRequested{UDI: "/a", Action: ActionSetup, Origin: OriginLocal})
	bus.Publish(AccessibilityChanged{UDI: "/a", Accessible: true})
	bus.Publish(ActionDone{UDI: "/a", Action: ActionSetup, Origin: OriginLocal, ErrorKind: "none"})

	for _, sub := range []<-chan Event{sub1, sub2} {
		require.Len(t, sub, 3, "events are queued before Publish returns")
		assert.Equal(t, MethodActionRequested, (<-sub).Method())
		assert.Equal(t, MethodAccessibilityChanged, (<-sub).Method())
		assert.Equal(t, MethodActionDone, (<-sub).Method())
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	slow, _ := bus.Subscribe(1)
	fast, _ := bus.Subscribe(10)

	for range 5 {
		bus.Publish(MountTableChanged{Table: "mtab"})
	}

	assert.Len(t, slow, 1)
	assert.Len(t, fast, 5)
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, _ := bus.Subscribe(1)
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)

	bus.Publish(MountTableChanged{Table: "fstab"})
	late, _ := bus.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestBus_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, id := bus.Subscribe(1000)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			for range 50 {
				bus.Publish(MountTableChanged{Table: "mtab"})
			}
		})
	}
	wg.Wait()
	bus.Unsubscribe(id)

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 500, n)
}

func TestEncode(t *testing.T) {
	t.Parallel()

	dev := devices.New("/sys/block/sdb", "", devices.SourceUdev)
	n, err := Encode(DeviceAdded{Device: dev})
	require.NoError(t, err)
	assert.Equal(t, MethodDeviceAdded, n.Method)

	var params struct {
		Device struct {
			UDI string `json:"udi"`
		} `json:"device"`
	}
	require.NoError(t, json.Unmarshal(n.Params, &params))
	assert.Equal(t, "/sys/block/sdb", params.Device.UDI)
}

func TestUDIOf(t *testing.T) {
	t.Parallel()

	dev := devices.New("/x", "", devices.SourceUDisks2)
	assert.Equal(t, "/x", UDIOf(DeviceChanged{Device: dev}))
	assert.Equal(t, "/y", UDIOf(DeviceRemoved{UDI: "/y"}))
	assert.Empty(t, UDIOf(MountTableChanged{Table: "mtab"}))
	assert.Empty(t, UDIOf(DeviceAdded{}))
}

func TestActionDone_Failed(t *testing.T) {
	t.Parallel()

	assert.False(t, ActionDone{ErrorKind: "none"}.Failed())
	assert.False(t, ActionDone{}.Failed())
	assert.True(t, ActionDone{ErrorKind: "remote"}.Failed())
}
