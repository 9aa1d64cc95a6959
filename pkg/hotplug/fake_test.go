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

package hotplug

import (
	"sync"

	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
)

// fakeSubscription feeds queued records to Receive.
type fakeSubscription struct {
	records   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		records: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSubscription) Receive() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, ErrClosed
	case rec := <-s.records:
		return rec, nil
	}
}

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeDialer records every subscription it hands out.
type fakeDialer struct {
	subs   []*fakeSubscription
	groups []Group
	mu     syncutil.Mutex
}

func (d *fakeDialer) Dial(g Group) (Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		if !s.isClosed() {
			panic("dialed while a previous subscription is still open")
		}
	}
	s := newFakeSubscription()
	d.subs = append(d.subs, s)
	d.groups = append(d.groups, g)
	return s, nil
}

func (d *fakeDialer) last() *fakeSubscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subs[len(d.subs)-1]
}

type staticLister []string

func (l staticLister) Subsystems() []string { return l }
