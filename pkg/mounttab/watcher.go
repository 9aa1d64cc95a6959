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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// pollTimeout bounds each poll() so Stop is noticed promptly.
const pollTimeout = 250 * time.Millisecond

// Publisher receives table invalidation events.
type Publisher interface {
	Publish(ev notify.Event)
}

// Watcher invalidates the cache when a table source changes. It never
// rebuilds a table itself; the next lookup does that.
//
// The static table is watched through its directory with fsnotify, since
// editors replace the file. The live table is watched with poll(POLLPRI),
// which the kernel raises on every mount namespace change, plus an optional
// periodic content check for systems where that never fires.
type Watcher struct {
	clock       clockwork.Clock
	cache       *Cache
	pub         Publisher
	fsw         *fsnotify.Watcher
	mountsFile  *os.File
	stopChan    chan struct{}
	lastDigest  uint64
	interval    time.Duration
	wg          sync.WaitGroup
	stopOnce    sync.Once
	pollLive    bool
	watchStatic bool
}

type WatcherOption func(*Watcher)

// WithClock replaces the clock driving periodic checks.
func WithClock(c clockwork.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// WithRescanInterval enables the periodic live table check. Zero disables.
func WithRescanInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithLivePoll toggles poll(POLLPRI) on the live table.
func WithLivePoll(enabled bool) WatcherOption {
	return func(w *Watcher) { w.pollLive = enabled }
}

// WithStaticWatch toggles fsnotify on the static table.
func WithStaticWatch(enabled bool) WatcherOption {
	return func(w *Watcher) { w.watchStatic = enabled }
}

func NewWatcher(cache *Cache, pub Publisher, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		clock:       clockwork.NewRealClock(),
		cache:       cache,
		pub:         pub,
		stopChan:    make(chan struct{}),
		pollLive:    true,
		watchStatic: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) Start() error {
	paths := w.cache.Paths()

	if w.watchStatic {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create fstab watcher: %w", err)
		}
		if err := fsw.Add(filepath.Dir(paths.Fstab)); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(paths.Fstab), err)
		}
		w.fsw = fsw
	}

	if w.pollLive {
		f, err := os.Open(paths.Mtab)
		if err != nil {
			log.Warn().Err(err).Str("path", paths.Mtab).Msg("live mount table poll disabled")
		} else {
			w.mountsFile = f
			w.wg.Add(1)
			go w.pollLoop()
		}
	}

	w.lastDigest = w.digest()
	w.wg.Add(1)
	go w.eventLoop()

	log.Debug().
		Bool("static_watch", w.fsw != nil).
		Bool("live_poll", w.mountsFile != nil).
		Dur("rescan_interval", w.interval).
		Msg("mount table watcher started")
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		if w.mountsFile != nil {
			_ = w.mountsFile.Close()
		}
	})
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := w.clock.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	var (
		fsEvents <-chan fsnotify.Event
		fsErrors <-chan error
	)
	if w.fsw != nil {
		fsEvents = w.fsw.Events
		fsErrors = w.fsw.Errors
	}

	fstabName := filepath.Base(w.cache.Paths().Fstab)
	for {
		select {
		case <-w.stopChan:
			return
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if filepath.Base(ev.Name) != fstabName {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
				ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.invalidate(Static, "fstab changed")
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			log.Warn().Err(err).Msg("fstab watcher error")
		case <-tick:
			if d := w.digest(); d != w.lastDigest {
				w.lastDigest = d
				w.invalidate(Live, "periodic interval")
			}
		}
	}
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()

	fds := []unix.PollFd{{
		Fd:     int32(w.mountsFile.Fd()), //nolint:gosec // fds fit in int32
		Events: unix.POLLPRI | unix.POLLERR,
	}}

	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		n, err := unix.Poll(fds, int(pollTimeout.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			log.Warn().Err(err).Msg("poll() on live mount table failed")
			return
		}
		if n == 0 || fds[0].Revents&(unix.POLLPRI|unix.POLLERR) == 0 {
			continue
		}

		w.invalidate(Live, "poll event")
	}
}

func (w *Watcher) invalidate(t Table, reason string) {
	w.cache.flush(t)
	log.Debug().Str("table", string(t)).Str("reason", reason).Msg("mount table invalidated")
	if w.pub != nil {
		w.pub.Publish(notify.MountTableChanged{Table: string(t)})
	}
}

// digest fingerprints the live table so periodic checks only invalidate on
// real changes.
func (w *Watcher) digest() uint64 {
	data, err := afero.ReadFile(w.cache.fs, w.cache.Paths().Mtab)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
