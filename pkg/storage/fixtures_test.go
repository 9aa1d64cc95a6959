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

package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/ZaparooProject/zaparoo-storage/pkg/registry"
	"github.com/ZaparooProject/zaparoo-storage/pkg/testing/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	objPrefix   = "/org/freedesktop/UDisks2/"
	stickDrive  = objPrefix + "drives/Stick"
	diskDrive   = objPrefix + "drives/Disk"
	dvdDrive    = objPrefix + "drives/DVD"
	stickPart   = objPrefix + "block_devices/sdc1"
	luksPart    = objPrefix + "block_devices/sdb1"
	cleartext   = objPrefix + "block_devices/dm_2d0"
	dvdDisc     = objPrefix + "block_devices/sr0"
	stickMedia  = "/run/media/alex/STICK"
	privateData = "/run/media/alex/data"

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func drive(udi string, mediaRemovable, canPowerOff bool) *devices.Device {
	d := devices.New(udi, "", devices.SourceUDisks2)
	d.Capabilities.Add(devices.CapStorageDrive)
	d.Set(devices.PropMediaRemovable, mediaRemovable)
	d.Set(devices.PropMediaAvailable, true)
	d.Set(devices.PropCanPowerOff, canPowerOff)
	d.Set(devices.PropOptical, false)
	return d
}

func volume(udi, node, fsType, driveUDI string, mountPoints ...string) *devices.Device {
	d := devices.New(udi, driveUDI, devices.SourceUDisks2)
	d.Capabilities.Add(devices.CapBlock, devices.CapStorageVolume, devices.CapStorageAccess)
	d.Set(devices.PropDevice, node)
	d.Set(devices.PropIDType, fsType)
	d.Set(devices.PropIDUsage, "filesystem")
	d.Set(devices.PropDrive, driveUDI)
	if mountPoints == nil {
		mountPoints = []string{}
	}
	d.Set(devices.PropMountPoints, mountPoints)
	return d
}

func container() *devices.Device {
	d := devices.New(luksPart, diskDrive, devices.SourceUDisks2)
	d.Capabilities.Add(devices.CapBlock, devices.CapStorageVolume, devices.CapStorageAccess)
	d.Set(devices.PropDevice, "/dev/sdb1")
	d.Set(devices.PropIDType, "crypto_LUKS")
	d.Set(devices.PropIDUsage, "crypto")
	d.Set(devices.PropEncrypted, true)
	d.Set(devices.PropDrive, diskDrive)
	return d
}

func cleartextDevice(mountPoints ...string) *devices.Device {
	d := volume(cleartext, "/dev/dm-0", "ext4", devices.NoObject, mountPoints...)
	d.Parent = luksPart
	d.Set(devices.PropCryptoBackingDevice, luksPart)
	return d
}

// world is the storage service's view of the devices, returned by every
// managed-objects refresh.
type world struct {
	devs map[string]*devices.Device
	mu   syncutil.Mutex
}

func newWorld(devs ...*devices.Device) *world {
	w := &world{devs: make(map[string]*devices.Device)}
	w.set(devs...)
	return w
}

func (w *world) set(devs ...*devices.Device) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range devs {
		w.devs[d.UDI] = d
	}
}

func (w *world) remove(udi string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.devs, udi)
}

func (w *world) list() []*devices.Device {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*devices.Device, 0, len(w.devs))
	for _, d := range w.devs {
		out = append(out, d.Clone())
	}
	return out
}

// worldSync reloads the store from the storage service's snapshot, the way
// the udisks watcher does.
type worldSync struct {
	svc   *mocks.MockStorageService
	store *registry.Registry
}

func (s worldSync) Resync(ctx context.Context) error {
	devs, err := s.svc.ManagedObjects(ctx)
	if err != nil {
		return err
	}
	s.store.Sync(devices.SourceUDisks2, devs)
	return nil
}

func newStore(bus *notify.Bus, w *world) *registry.Registry {
	store := registry.New(nil, bus)
	store.Sync(devices.SourceUDisks2, w.list())
	return store
}

type harness struct {
	ctrl   *Controller
	svc    *mocks.MockStorageService
	store  *registry.Registry
	bus    *notify.Bus
	world  *world
	events <-chan notify.Event
}

type harnessOption func(*Deps, *Config)

func withPassphrase(p *mocks.MockPassphraseProvider) harnessOption {
	return func(d *Deps, _ *Config) { d.Passphrase = p }
}

func withInhibitor(i *mocks.MockInhibitor) harnessOption {
	return func(d *Deps, _ *Config) { d.Inhibitor = i }
}

func withMounts(m MountTable) harnessOption {
	return func(d *Deps, _ *Config) { d.Mounts = m }
}

// withGate routes refreshes through g, which wraps the harness resync.
func withGate(g *gatedSync) harnessOption {
	return func(d *Deps, _ *Config) {
		g.next = d.Objects
		d.Objects = g
	}
}

// gatedSync blocks one refresh once armed, until release is closed.
type gatedSync struct {
	next    Objects
	entered chan struct{}
	release chan struct{}
	armed   atomic.Bool
}

func newGatedSync() *gatedSync {
	return &gatedSync{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSync) Resync(ctx context.Context) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
		}
	}
	return g.next.Resync(ctx)
}

// newHarness wires a controller to an in-memory registry holding the
// world's devices, subscribes to the bus and starts the worker.
func newHarness(t *testing.T, w *world, opts ...harnessOption) *harness {
	t.Helper()

	bus := notify.NewBus()
	store := newStore(bus, w)

	svc := mocks.NewMockStorageService()
	svc.On("ManagedObjects", mock.Anything).Return(w.list, nil)

	deps := Deps{Service: svc, Objects: worldSync{svc: svc, store: store}, Store: store, Bus: bus}
	cfg := Config{UserPaths: []string{"/media/", "/run/media/"}, VfatFlush: true}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	events, _ := bus.Subscribe(256)
	h := &harness{
		ctrl:   New(deps, cfg),
		svc:    svc,
		store:  store,
		bus:    bus,
		world:  w,
		events: events,
	}
	h.start(t)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
		h.bus.Close()
	})
	require.Eventually(t, h.ctrl.running.Load, waitFor, tick)
}

// next returns the next event of type T, skipping device churn and any
// other event types.
func next[T notify.Event](t *testing.T, h *harness) T {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-h.events:
			require.True(t, ok, "bus closed")
			if v, ok := ev.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			require.FailNow(t, "timed out waiting for event", "%T", zero)
		}
	}
}

// lifecycle returns the lifecycle events seen until the next action done,
// in order.
func lifecycle(t *testing.T, h *harness) []notify.Event {
	t.Helper()
	var out []notify.Event
	timeout := time.After(waitFor)
	for {
		select {
		case ev := <-h.events:
			switch e := ev.(type) {
			case notify.ActionRequested, notify.AccessibilityChanged:
				out = append(out, e)
			case notify.ActionDone:
				return append(out, e)
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for action done")
			return nil
		}
	}
}
