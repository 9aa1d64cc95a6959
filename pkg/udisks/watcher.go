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

package udisks

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const watcherSignalQueue = 32

// ObjectReader reads the managed object tree. *Client implements it.
type ObjectReader interface {
	Objects(ctx context.Context) (ObjectMap, error)
}

// Sink receives device snapshots. *registry.Registry implements it.
type Sink interface {
	Sync(source devices.Source, devs []*devices.Device)
	Upsert(d *devices.Device) bool
	Remove(udi string) bool
}

// Watcher mirrors the UDisks2 object tree into a Sink and is its only
// writer for SourceUDisks2. It keeps the last known interfaces of every
// object so property changes can be applied without another round trip.
type Watcher struct {
	conn     SignalConn
	objects  ObjectReader
	sink     Sink
	cache    ObjectMap
	signals  chan *dbus.Signal
	stopChan chan struct{}
	wg       sync.WaitGroup
	// mu orders full reloads against signal handling
	mu       syncutil.Mutex
	stopOnce sync.Once
}

func NewWatcher(conn SignalConn, objects ObjectReader, sink Sink) *Watcher {
	return &Watcher{
		conn:     conn,
		objects:  objects,
		sink:     sink,
		cache:    make(ObjectMap),
		signals:  make(chan *dbus.Signal, watcherSignalQueue),
		stopChan: make(chan struct{}),
	}
}

func (w *Watcher) matches() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(ManagerPath),
			dbus.WithMatchInterface(objectManagerInterface),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchObjectPath(ManagerPath),
			dbus.WithMatchInterface(objectManagerInterface),
			dbus.WithMatchMember("InterfacesRemoved"),
		},
		{
			dbus.WithMatchSender(ServiceName),
			dbus.WithMatchPathNamespace(ManagerPath),
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
	}
}

// Start subscribes to object and property signals, then loads the current
// tree. Signals received while loading are applied afterwards.
func (w *Watcher) Start(ctx context.Context) error {
	for _, m := range w.matches() {
		if err := w.conn.AddMatchSignal(m...); err != nil {
			w.removeMatches()
			return fmt.Errorf("failed to add storage service signal match: %w", err)
		}
	}
	w.conn.Signal(w.signals)

	if err := w.Resync(ctx); err != nil {
		w.conn.RemoveSignal(w.signals)
		w.removeMatches()
		return err
	}

	w.wg.Add(1)
	go w.listen()
	return nil
}

// Resync reloads the whole object tree and replaces the sink's snapshot.
// Signals are not handled while the tree loads; the ones queued meanwhile
// are applied on top of it afterwards, so the result is never older than
// the last signal seen.
func (w *Watcher) Resync(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	objs, err := w.objects.Objects(ctx)
	if err != nil {
		return err
	}
	w.cache = objs
	w.sink.Sync(devices.SourceUDisks2, objs.Devices())
	log.Debug().Int("objects", len(objs)).Msg("storage service objects loaded")
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.conn.RemoveSignal(w.signals)
		w.removeMatches()
		w.wg.Wait()
	})
}

func (w *Watcher) removeMatches() {
	for _, m := range w.matches() {
		_ = w.conn.RemoveMatchSignal(m...)
	}
}

func (w *Watcher) listen() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopChan:
			return
		case sig, ok := <-w.signals:
			if !ok || sig == nil {
				return
			}
			w.handle(sig)
		}
	}
}

func (w *Watcher) handle(sig *dbus.Signal) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch sig.Name {
	case objectManagerInterface + ".InterfacesAdded":
		w.handleInterfacesAdded(sig)
	case objectManagerInterface + ".InterfacesRemoved":
		w.handleInterfacesRemoved(sig)
	case propertiesInterface + ".PropertiesChanged":
		w.handlePropertiesChanged(sig)
	}
}

func (w *Watcher) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	p, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	added, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}

	ifaces := w.cache[p]
	if ifaces == nil {
		ifaces = make(map[string]map[string]dbus.Variant, len(added))
		w.cache[p] = ifaces
	}
	for name, props := range added {
		ifaces[name] = props
	}
	w.refresh(p)
}

func (w *Watcher) handleInterfacesRemoved(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	p, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	removed, ok := sig.Body[1].([]string)
	if !ok {
		return
	}

	ifaces, known := w.cache[p]
	if !known {
		return
	}
	for _, name := range removed {
		delete(ifaces, name)
	}
	if len(ifaces) == 0 {
		delete(w.cache, p)
	}
	w.refresh(p)
}

func (w *Watcher) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	props, known := w.cache[sig.Path][iface]
	if !known {
		return
	}
	if props == nil {
		props = make(map[string]dbus.Variant, len(changed))
		w.cache[sig.Path][iface] = props
	}
	for k, v := range changed {
		props[k] = v
	}
	if len(sig.Body) >= 3 {
		if invalidated, ok := sig.Body[2].([]string); ok {
			for _, k := range invalidated {
				delete(props, k)
			}
		}
	}
	w.refresh(sig.Path)
}

func (w *Watcher) refresh(p dbus.ObjectPath) {
	d, ok := ToDevice(p, w.cache[p])
	if !ok {
		if w.sink.Remove(string(p)) {
			log.Debug().Str("udi", string(p)).Msg("storage object removed")
		}
		return
	}
	w.sink.Upsert(d)
}
