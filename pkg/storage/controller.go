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

// Package storage drives the setup and teardown lifecycle of storage
// devices: unlocking encrypted containers, mounting, unmounting, locking
// and powering off the parent drive.
//
// A single worker goroutine owns every pending operation. Calls to the
// storage service return completion channels; a forwarder goroutine per
// call feeds the outcome back to the worker, which applies it as the next
// transition. Nothing the worker does waits on the service except the
// managed-objects refresh on terminal transitions (see refresh).
package storage

import (
	"context"
	"errors"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-storage/pkg/inhibit"
	"github.com/ZaparooProject/zaparoo-storage/pkg/metrics"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/ZaparooProject/zaparoo-storage/pkg/passphrase"
	"github.com/ZaparooProject/zaparoo-storage/pkg/udisks"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRunning is returned by Run when the worker is already active.
var ErrAlreadyRunning = errors.New("storage controller already running")

// DefaultRefreshTimeout bounds the synchronous managed-objects read done on
// every terminal transition.
const DefaultRefreshTimeout = 5 * time.Second

const eventBufferSize = 256

// Service is the storage management service. *udisks.Client implements it.
type Service interface {
	Mount(ctx context.Context, udi, options string) <-chan udisks.Result
	Unmount(ctx context.Context, udi string) <-chan udisks.Result
	Unlock(ctx context.Context, udi, passphrase string) <-chan udisks.Result
	Lock(ctx context.Context, udi string) <-chan udisks.Result
	Eject(ctx context.Context, drive string) <-chan udisks.Result
	PowerOff(ctx context.Context, drive string) <-chan udisks.Result
}

// Objects reloads the storage service's objects into the Store.
// *udisks.Watcher implements it, so the watcher stays the only writer of
// storage service devices.
type Objects interface {
	Resync(ctx context.Context) error
}

// Store holds the device snapshots. *registry.Registry implements it.
type Store interface {
	Device(udi string) (*devices.Device, bool)
	Devices(filter func(*devices.Device) bool) []*devices.Device
}

// MountTable answers mount point questions. *mounttab.Cache implements it.
type MountTable interface {
	CurrentMountPoints(device string) []string
	BaseMountPoint(source string) string
	FlushMtabCache()
}

// Config tunes the controller.
type Config struct {
	// UserPaths are the prefixes a mount point must start with for the
	// device to be shown to users.
	UserPaths      []string
	RefreshTimeout time.Duration
	// VfatFlush mounts vfat filesystems with the flush option.
	VfatFlush bool
}

// DefaultUserPaths returns the media directories plus the home directory.
func DefaultUserPaths() []string {
	paths := []string{"/media/", "/run/media/"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, home)
	}
	return paths
}

func DefaultConfig() Config {
	return Config{
		UserPaths:      DefaultUserPaths(),
		RefreshTimeout: DefaultRefreshTimeout,
		VfatFlush:      true,
	}
}

// Deps are the controller's collaborators. Passphrase, Inhibitor and
// Metrics may be nil.
type Deps struct {
	Service    Service
	Objects    Objects
	Store      Store
	Mounts     MountTable
	Bus        *notify.Bus
	Passphrase passphrase.Provider
	Inhibitor  inhibit.Inhibitor
	Metrics    *metrics.Metrics
}

// Controller is the storage lifecycle state machine.
//
// LOCKING RULES: ops, gen and accessible belong to the worker goroutine and
// are never touched elsewhere. pending mirrors ops for readers and is
// guarded by mu.
type Controller struct {
	ctx         context.Context
	deps        Deps
	requests    chan request
	completions chan completion
	done        chan struct{}
	ops         map[string]*op
	accessible  map[string]bool
	pending     map[string]PendingOperation
	cfg         Config
	wg          sync.WaitGroup
	gen         uint64
	mu          syncutil.RWMutex
	running     atomic.Bool
	started     atomic.Bool
}

func New(deps Deps, cfg Config) *Controller {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	return &Controller{
		deps:        deps,
		cfg:         cfg,
		requests:    make(chan request),
		completions: make(chan completion),
		done:        make(chan struct{}),
		ops:         make(map[string]*op),
		accessible:  make(map[string]bool),
		pending:     make(map[string]PendingOperation),
	}
}

// Run is the worker loop. It returns when ctx is cancelled; a controller
// can only run once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.ctx = ctx

	var events <-chan notify.Event
	if c.deps.Bus != nil {
		var id int
		events, id = c.deps.Bus.Subscribe(eventBufferSize)
		defer c.deps.Bus.Unsubscribe(id)
	}

	c.running.Store(true)
	defer c.shutdown()

	log.Info().Msg("storage controller started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			req.reply <- c.handleRequest(req)
		case cp := <-c.completions:
			c.complete(cp)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.observe(ev)
		}
		c.reconcile()
	}
}

func (c *Controller) shutdown() {
	c.running.Store(false)
	close(c.done)
	c.wg.Wait()

	for udi, o := range c.ops {
		if o.lock != nil {
			o.lock.Release()
		}
		delete(c.ops, udi)
	}
	c.mu.Lock()
	clear(c.pending)
	c.mu.Unlock()
	c.deps.Metrics.SetPending(0)
	log.Info().Msg("storage controller stopped")
}

// Setup makes the device's data reachable: unlock if needed, then mount.
// It returns false without changing anything when an operation is already
// pending for the device, the device is unknown or cannot be set up, or
// the controller is not running.
func (c *Controller) Setup(udi string) bool {
	return c.submit(notify.ActionSetup, udi)
}

// Teardown unmounts the device, locks it if encrypted and tries to make
// the parent drive safe to remove. Returns false under the same conditions
// as Setup.
func (c *Controller) Teardown(udi string) bool {
	return c.submit(notify.ActionTeardown, udi)
}

func (c *Controller) submit(kind notify.Action, udi string) bool {
	if !c.running.Load() {
		return false
	}
	req := request{kind: kind, udi: udi, reply: make(chan bool, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return false
	}
	select {
	case ok := <-req.reply:
		return ok
	case <-c.done:
		return false
	}
}

// Pending returns the operation in flight for the device, if any.
func (c *Controller) Pending(udi string) (PendingOperation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pending[udi]
	return p, ok
}

// PendingAll returns every operation in flight, keyed by UDI.
func (c *Controller) PendingAll() map[string]PendingOperation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.pending)
}

func (c *Controller) handleRequest(req request) bool {
	logger := log.With().Str("udi", req.udi).Str("action", string(req.kind)).Logger()

	if o, busy := c.ops[req.udi]; busy {
		logger.Info().
			Str("phase", string(o.phase)).
			Str("requester", o.requester).
			Msg("rejecting request, operation already pending")
		return false
	}
	dev, ok := c.deps.Store.Device(req.udi)
	if !ok {
		logger.Info().Msg("rejecting request for unknown device")
		return false
	}
	if _, ok := devices.AsStorageAccess(dev); !ok || dev.Source != devices.SourceUDisks2 {
		logger.Info().Str("source", string(dev.Source)).Msg("device cannot be set up or torn down")
		return false
	}

	o := c.begin(req.udi, req.kind, "", false)
	c.publish(notify.ActionRequested{UDI: req.udi, Action: req.kind, Origin: notify.OriginLocal})
	logger.Info().Msg("action requested")

	if req.kind == notify.ActionSetup {
		c.startSetup(req.udi, o, dev)
	} else {
		c.startTeardown(req.udi, o, dev)
	}
	return true
}

func (c *Controller) begin(udi string, kind notify.Action, requester string, remote bool) *op {
	c.gen++
	o := &op{
		kind:      kind,
		requester: requester,
		remote:    remote,
		gen:       c.gen,
		started:   time.Now(),
		phase:     SetupRequested,
	}
	if kind == notify.ActionTeardown {
		o.phase = TeardownRequested
	}
	if _, known := c.accessible[udi]; !known {
		c.accessible[udi] = c.IsAccessible(udi)
	}
	c.ops[udi] = o

	c.mu.Lock()
	c.pending[udi] = o.public()
	n := len(c.pending)
	c.mu.Unlock()
	c.deps.Metrics.SetPending(n)
	return o
}

func (c *Controller) setPhase(udi string, o *op, p Phase) {
	o.phase = p
	c.mu.Lock()
	c.pending[udi] = o.public()
	c.mu.Unlock()
	log.Debug().Str("udi", udi).Str("phase", string(p)).Msg("operation phase changed")
}

func (c *Controller) drop(udi string) {
	delete(c.ops, udi)
	c.mu.Lock()
	delete(c.pending, udi)
	n := len(c.pending)
	c.mu.Unlock()
	c.deps.Metrics.SetPending(n)
}

// finish is the single terminal transition for local operations.
func (c *Controller) finish(udi string, o *op, aerr *ActionError) {
	if aerr == nil {
		o.phase = Done
	} else {
		o.phase = Failed
	}
	c.drop(udi)
	if o.lock != nil {
		o.lock.Release()
		o.lock = nil
	}

	c.refresh()
	if c.deps.Mounts != nil {
		c.deps.Mounts.FlushMtabCache()
	}
	c.recheck(udi)

	ev := notify.ActionDone{
		UDI:       udi,
		Action:    o.kind,
		Origin:    notify.OriginLocal,
		ErrorKind: aerr.Code(),
	}
	result := "success"
	if aerr != nil {
		ev.Message = aerr.Error()
		result = string(aerr.Kind)
	}
	c.publish(ev)

	elapsed := time.Since(o.started)
	c.deps.Metrics.RecordOperation(string(o.kind), result, elapsed.Seconds())

	e := log.Info()
	if aerr != nil {
		e = log.Warn().Str("error_kind", aerr.Code()).Str("message", aerr.Error())
	}
	e.Str("udi", udi).
		Str("action", string(o.kind)).
		Str("phase", string(o.phase)).
		Dur("elapsed", elapsed).
		Msg("action done")
}

// refresh reloads the storage service objects into the store. This is the
// one place the worker blocks on the service; it keeps cleartext-peer
// lookups right after unlock and lock without waiting for change signals,
// and is bounded by RefreshTimeout.
func (c *Controller) refresh() {
	if c.deps.Objects == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RefreshTimeout)
	defer cancel()
	if err := c.deps.Objects.Resync(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to refresh storage objects")
	}
}

// reconcile treats every pending device missing from the store as removed.
// Bus delivery drops events for a full subscriber, so a DeviceRemoved can
// be lost while the worker is blocked in refresh.
func (c *Controller) reconcile() {
	if c.deps.Store == nil {
		return
	}
	for udi := range c.ops {
		if _, ok := c.deps.Store.Device(udi); !ok {
			c.removed(udi)
		}
	}
}

// recheck recomputes accessibility and broadcasts a change.
func (c *Controller) recheck(udi string) {
	dev, ok := c.deps.Store.Device(udi)
	now := ok && c.isAccessible(dev)
	prev := c.accessible[udi]
	if ok {
		c.accessible[udi] = now
	} else {
		delete(c.accessible, udi)
	}
	if now == prev {
		return
	}

	ev := notify.AccessibilityChanged{UDI: udi, Accessible: now}
	if now {
		ev.FilePath = c.filePath(dev)
	}
	c.publish(ev)
	log.Info().Str("udi", udi).Bool("accessible", now).Msg("accessibility changed")
}

func (c *Controller) publish(ev notify.Event) {
	if c.deps.Bus != nil {
		c.deps.Bus.Publish(ev)
	}
}

// forward waits for one value on ch and hands it to the worker as a
// completion. Values arriving after shutdown are discarded, releasing any
// inhibit lock they carry.
func forward[T any](c *Controller, udi string, o *op, st step, ch <-chan T, conv func(T) completion) {
	gen := o.gen
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var v T
		select {
		case v = <-ch:
		case <-c.done:
			return
		}
		cp := conv(v)
		cp.udi, cp.gen, cp.step = udi, gen, st
		select {
		case c.completions <- cp:
		case <-c.done:
			if cp.lock != nil {
				cp.lock.Release()
			}
		}
	}()
}

func (c *Controller) call(udi string, o *op, st step, ch <-chan udisks.Result) {
	forward(c, udi, o, st, ch, func(r udisks.Result) completion {
		return completion{err: r.Err, value: r.Value}
	})
}

func (c *Controller) complete(cp completion) {
	o, ok := c.ops[cp.udi]
	if !ok || o.gen != cp.gen || o.remote {
		if cp.lock != nil {
			cp.lock.Release()
		}
		log.Debug().Str("udi", cp.udi).Stringer("step", cp.step).Msg("ignoring stale completion")
		return
	}

	switch cp.step {
	case stepPassphrase:
		c.onPassphrase(cp, o)
	case stepUnlock:
		c.onUnlock(cp, o)
	case stepMount:
		c.finish(cp.udi, o, classify(cp.err))
	case stepInhibit:
		c.onInhibit(cp, o)
	case stepUnmount:
		c.onUnmount(cp, o)
	case stepLock:
		c.onLock(cp, o)
	}
}

// observe tracks bus events: remote requests, and devices vanishing under
// a pending operation.
func (c *Controller) observe(ev notify.Event) {
	switch e := ev.(type) {
	case notify.ActionRequested:
		if e.Origin != notify.OriginRemote {
			return
		}
		if o, busy := c.ops[e.UDI]; busy {
			log.Warn().
				Str("udi", e.UDI).
				Str("sender", e.Sender).
				Str("phase", string(o.phase)).
				Msg("remote request while an operation is pending")
			return
		}
		c.begin(e.UDI, e.Action, e.Sender, true)
		log.Info().Str("udi", e.UDI).Str("sender", e.Sender).Msg("remote action requested")
	case notify.ActionDone:
		if e.Origin != notify.OriginRemote {
			return
		}
		if o, ok := c.ops[e.UDI]; ok && o.remote {
			c.drop(e.UDI)
			c.refresh()
			c.recheck(e.UDI)
			log.Info().Str("udi", e.UDI).Str("error_kind", e.ErrorKind).Msg("remote action done")
		}
	case notify.DeviceRemoved:
		c.removed(e.UDI)
	}
}

// removed fails the device's pending operation, unless the removal is the
// expected result of locking it.
func (c *Controller) removed(udi string) {
	o, ok := c.ops[udi]
	if !ok {
		delete(c.accessible, udi)
		return
	}
	switch {
	case o.remote:
		c.drop(udi)
		delete(c.accessible, udi)
	case o.phase == LockPending:
		// locking makes the cleartext device go away
	default:
		c.finish(udi, o, &ActionError{Kind: KindNotFound, Message: "device removed"})
	}
}
