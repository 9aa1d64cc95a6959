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

package mocks

import (
	"context"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/inhibit"
	"github.com/ZaparooProject/zaparoo-storage/pkg/passphrase"
	"github.com/ZaparooProject/zaparoo-storage/pkg/udisks"
	"github.com/stretchr/testify/mock"
)

// CompletedResult returns a channel already holding r.
func CompletedResult(r udisks.Result) <-chan udisks.Result {
	ch := make(chan udisks.Result, 1)
	ch <- r
	return ch
}

// resultChan accepts a udisks.Result, a chan or a receive-only chan as the
// configured return value, so tests can either complete immediately or
// hold a call open and complete it later.
func resultChan(v any) <-chan udisks.Result {
	switch r := v.(type) {
	case udisks.Result:
		return CompletedResult(r)
	case chan udisks.Result:
		return r
	case <-chan udisks.Result:
		return r
	case error:
		return CompletedResult(udisks.Result{Err: r})
	default:
		return CompletedResult(udisks.Result{})
	}
}

// MockStorageService is a mock implementation of storage.Service.
type MockStorageService struct {
	mock.Mock
}

func NewMockStorageService() *MockStorageService {
	return &MockStorageService{}
}

func (m *MockStorageService) Mount(ctx context.Context, udi, options string) <-chan udisks.Result {
	args := m.Called(ctx, udi, options)
	return resultChan(args.Get(0))
}

func (m *MockStorageService) Unmount(ctx context.Context, udi string) <-chan udisks.Result {
	args := m.Called(ctx, udi)
	return resultChan(args.Get(0))
}

func (m *MockStorageService) Unlock(ctx context.Context, udi, pass string) <-chan udisks.Result {
	args := m.Called(ctx, udi, pass)
	return resultChan(args.Get(0))
}

func (m *MockStorageService) Lock(ctx context.Context, udi string) <-chan udisks.Result {
	args := m.Called(ctx, udi)
	return resultChan(args.Get(0))
}

func (m *MockStorageService) Eject(ctx context.Context, drive string) <-chan udisks.Result {
	args := m.Called(ctx, drive)
	return resultChan(args.Get(0))
}

func (m *MockStorageService) PowerOff(ctx context.Context, drive string) <-chan udisks.Result {
	args := m.Called(ctx, drive)
	return resultChan(args.Get(0))
}

// ManagedObjects returns the storage service's device snapshot, for test
// resyncs standing in for the udisks watcher. The return value may also be
// a func() []*devices.Device, called on every refresh.
func (m *MockStorageService) ManagedObjects(ctx context.Context) ([]*devices.Device, error) {
	args := m.Called(ctx)
	switch v := args.Get(0).(type) {
	case []*devices.Device:
		return v, args.Error(1)
	case func() []*devices.Device:
		return v(), args.Error(1)
	default:
		return nil, args.Error(1)
	}
}

// SetupManagedObjects makes every refresh return devs.
func (m *MockStorageService) SetupManagedObjects(devs []*devices.Device) {
	m.On("ManagedObjects", mock.Anything).Return(devs, nil)
}

// SetupMountSuccess makes mounting udi with options succeed at mountPoint.
func (m *MockStorageService) SetupMountSuccess(udi, options, mountPoint string) {
	m.On("Mount", mock.Anything, udi, options).Return(udisks.Result{Value: mountPoint}).Once()
}

// SetupUnmountSuccess makes unmounting udi succeed once.
func (m *MockStorageService) SetupUnmountSuccess(udi string) {
	m.On("Unmount", mock.Anything, udi).Return(udisks.Result{}).Once()
}

// SetupUnmountError makes unmounting udi fail once with err.
func (m *MockStorageService) SetupUnmountError(udi string, err error) {
	m.On("Unmount", mock.Anything, udi).Return(udisks.Result{Err: err}).Once()
}

// MockPassphraseProvider is a mock implementation of passphrase.Provider.
type MockPassphraseProvider struct {
	mock.Mock
}

func NewMockPassphraseProvider() *MockPassphraseProvider {
	return &MockPassphraseProvider{}
}

func (m *MockPassphraseProvider) Request(ctx context.Context, udi string) (<-chan passphrase.Reply, error) {
	args := m.Called(ctx, udi)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	switch r := args.Get(0).(type) {
	case passphrase.Reply:
		ch := make(chan passphrase.Reply, 1)
		ch <- r
		return ch, nil
	case chan passphrase.Reply:
		return r, nil
	case <-chan passphrase.Reply:
		return r, nil
	default:
		return nil, passphrase.ErrNoProvider
	}
}

// SetupReply makes the next request for udi answer with pass. An empty
// pass is a cancelled dialog.
func (m *MockPassphraseProvider) SetupReply(udi, pass string) {
	m.On("Request", mock.Anything, udi).Return(passphrase.Reply{Passphrase: pass}, nil).Once()
}

// MockInhibitor is a mock implementation of inhibit.Inhibitor. Locks it
// hands out count their releases.
type MockInhibitor struct {
	mock.Mock
}

func NewMockInhibitor() *MockInhibitor {
	return &MockInhibitor{}
}

func (m *MockInhibitor) Inhibit(ctx context.Context, why string) <-chan inhibit.Result {
	args := m.Called(ctx, why)
	ch := make(chan inhibit.Result, 1)
	lock, _ := args.Get(0).(inhibit.Lock)
	ch <- inhibit.Result{Lock: lock, Err: args.Error(1)}
	return ch
}

// SetupLock makes every inhibit request succeed with lock.
func (m *MockInhibitor) SetupLock(lock *MockLock) {
	m.On("Inhibit", mock.Anything, mock.Anything).Return(lock, nil)
}

// MockLock is an inhibit.Lock whose releases are recorded.
type MockLock struct {
	mock.Mock
}

func NewMockLock() *MockLock {
	l := &MockLock{}
	l.On("Release").Return()
	return l
}

func (l *MockLock) Release() {
	l.Called()
}
