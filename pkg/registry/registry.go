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

// Package registry keeps the current set of known devices. It is fed by a
// kernel device enumeration, by live hotplug events and by the storage
// service watcher, and answers queries against that snapshot.
package registry

import (
	"context"
	"reflect"
	"slices"
	"strings"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-storage/pkg/hotplug"
	"github.com/ZaparooProject/zaparoo-storage/pkg/metrics"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/rs/zerolog/log"
)

// Enumerator reads devices from the kernel device database.
// *sysfs.Enumerator implements it.
type Enumerator interface {
	Devices(subsystem string) []*devices.Device
	DeviceBySysPath(sysPath string) (*devices.Device, bool)
	DeviceBySubsystemAndName(subsystem, name string) (*devices.Device, bool)
	ParentOf(devPath string) string
	DevNum(p string) (block bool, major, minor uint32, ok bool)
}

// Publisher receives device change events.
type Publisher interface {
	Publish(ev notify.Event)
}

// Registry is the device store.
//
// LOCKING RULES: mu guards devs. Events are published after the lock is
// released, and readers only ever receive clones.
type Registry struct {
	enum    Enumerator
	pub     Publisher
	metrics *metrics.Metrics
	devs    map[string]*devices.Device
	mu      syncutil.RWMutex
}

type Option func(*Registry)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty registry. pub may be nil.
func New(enum Enumerator, pub Publisher, opts ...Option) *Registry {
	r := &Registry{
		enum: enum,
		pub:  pub,
		devs: make(map[string]*devices.Device),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Device returns a copy of the stored device.
func (r *Registry) Device(udi string) (*devices.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devs[udi]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Devices returns copies of every stored device accepted by filter, sorted
// by UDI. A nil filter accepts everything.
func (r *Registry) Devices(filter func(*devices.Device) bool) []*devices.Device {
	r.mu.RLock()
	out := make([]*devices.Device, 0, len(r.devs))
	for _, d := range r.devs {
		if filter == nil || filter(d) {
			out = append(out, d.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *devices.Device) int {
		return strings.Compare(a.UDI, b.UDI)
	})
	return out
}

// Upsert stores a snapshot, replacing any previous one with the same UDI.
// It reports whether anything changed.
func (r *Registry) Upsert(d *devices.Device) bool {
	if d == nil || d.UDI == "" {
		return false
	}
	snap := d.Clone()

	r.mu.Lock()
	prev, existed := r.devs[snap.UDI]
	if existed && sameDevice(prev, snap) {
		r.mu.Unlock()
		return false
	}
	r.devs[snap.UDI] = snap
	r.updateGauge(snap.Source)
	r.mu.Unlock()

	if existed {
		r.publish(notify.DeviceChanged{Device: snap.Clone()})
	} else {
		r.publish(notify.DeviceAdded{Device: snap.Clone()})
	}
	return true
}

// Remove deletes a device. It reports whether the device was known.
func (r *Registry) Remove(udi string) bool {
	r.mu.Lock()
	d, ok := r.devs[udi]
	if ok {
		delete(r.devs, udi)
		r.updateGauge(d.Source)
	}
	r.mu.Unlock()

	if ok {
		r.publish(notify.DeviceRemoved{UDI: udi, Source: d.Source})
	}
	return ok
}

// Sync makes the devices of one source exactly devs: new and changed
// devices are upserted and devices of that source not in devs are removed.
func (r *Registry) Sync(source devices.Source, devs []*devices.Device) {
	keep := make(map[string]struct{}, len(devs))
	for _, d := range devs {
		if d == nil {
			continue
		}
		c := d.Clone()
		c.Source = source
		keep[c.UDI] = struct{}{}
		r.Upsert(c)
	}

	r.mu.RLock()
	var stale []string
	for udi, d := range r.devs {
		if d.Source != source {
			continue
		}
		if _, ok := keep[udi]; !ok {
			stale = append(stale, udi)
		}
	}
	r.mu.RUnlock()

	for _, udi := range stale {
		r.Remove(udi)
	}
	log.Debug().
		Str("source", string(source)).
		Int("devices", len(keep)).
		Int("removed", len(stale)).
		Msg("device source synced")
}

// Rescan re-enumerates the kernel device database.
func (r *Registry) Rescan() {
	r.Sync(devices.SourceUdev, r.enum.Devices(""))
}

// Run applies hotplug events until ctx is done or events is closed.
func (r *Registry) Run(ctx context.Context, events <-chan hotplug.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Apply(ev)
		}
	}
}

// Apply folds a single hotplug event into the store.
func (r *Registry) Apply(ev hotplug.Event) {
	if ev.Device == nil || ev.Device.UDI == "" {
		return
	}

	if ev.Action == hotplug.Removed {
		r.Remove(ev.Device.UDI)
		return
	}

	d := ev.Device.Clone()
	if d.Parent == "" && r.enum != nil {
		d.Parent = r.enum.ParentOf(d.String(devices.UdevDevPath))
	}
	r.Upsert(d)
}

func (r *Registry) publish(ev notify.Event) {
	if r.pub != nil {
		r.pub.Publish(ev)
	}
}

// updateGauge reports the device count of one source. Callers hold mu.
func (r *Registry) updateGauge(source devices.Source) {
	if r.metrics == nil {
		return
	}
	n := 0
	for _, d := range r.devs {
		if d.Source == source {
			n++
		}
	}
	r.metrics.SetDevices(string(source), n)
}

func sameDevice(a, b *devices.Device) bool {
	return a.Parent == b.Parent &&
		a.Source == b.Source &&
		reflect.DeepEqual(a.Capabilities, b.Capabilities) &&
		reflect.DeepEqual(a.Properties, b.Properties)
}
