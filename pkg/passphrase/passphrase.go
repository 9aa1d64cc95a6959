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

// Package passphrase asks a session helper to prompt the user for the
// passphrase of an encrypted volume. The daemon shows no UI itself.
package passphrase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNoProvider is returned when no helper can take the request.
var ErrNoProvider = errors.New("no passphrase provider available")

const (
	DefaultService   = "org.zaparoo.StorageUI"
	DefaultPath      = "/org/zaparoo/StorageUI"
	DefaultInterface = "org.zaparoo.StorageUI"

	ReplyInterface  = "org.zaparoo.Storage.PassphraseReply"
	replyPathPrefix = "/org/zaparoo/Storage/PassphraseReply/"
	replyMethod     = "passphraseReply"
	showMethod      = "showPassphraseDialog"
)

// Reply is the single answer to a request. An empty Passphrase with a nil
// Err means the user cancelled.
type Reply struct {
	Err        error
	Passphrase string
}

// Provider requests passphrases. The returned channel receives exactly one
// Reply.
type Provider interface {
	Request(ctx context.Context, udi string) (<-chan Reply, error)
}

// Conn is the subset of *dbus.Conn used by DBusProvider.
type Conn interface {
	ExportWithMap(v any, mapping map[string]string, path dbus.ObjectPath, iface string) error
	Export(v any, path dbus.ObjectPath, iface string) error
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Names() []string
}

// Target names the helper to call.
type Target struct {
	Service   string
	Path      string
	Interface string
	AppID     string
}

// DBusProvider calls showPassphraseDialog(udi, returnService,
// returnObject, windowID, appID) on the helper, which answers by calling
// passphraseReply(s) on the return object.
type DBusProvider struct {
	conn   Conn
	target Target
}

func NewDBusProvider(conn Conn, target Target) *DBusProvider {
	if target.Service == "" {
		target.Service = DefaultService
	}
	if target.Path == "" {
		target.Path = DefaultPath
	}
	if target.Interface == "" {
		target.Interface = DefaultInterface
	}
	if target.AppID == "" {
		target.AppID = "zaparoo-storage"
	}
	return &DBusProvider{conn: conn, target: target}
}

// replyObject is exported at a unique path for one request.
type replyObject struct {
	out       chan Reply
	delivered chan struct{}
	cleanup   func()
	once      sync.Once
}

func (r *replyObject) PassphraseReply(passphrase string) *dbus.Error {
	r.deliver(Reply{Passphrase: passphrase})
	return nil
}

func (r *replyObject) deliver(reply Reply) {
	r.once.Do(func() {
		r.cleanup()
		r.out <- reply
		close(r.delivered)
	})
}

func (p *DBusProvider) Request(ctx context.Context, udi string) (<-chan Reply, error) {
	if p.conn == nil {
		return nil, ErrNoProvider
	}
	names := p.conn.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: session bus has no unique name", ErrNoProvider)
	}

	returnPath := dbus.ObjectPath(replyPathPrefix +
		strings.ReplaceAll(uuid.NewString(), "-", "_"))
	obj := &replyObject{
		out:       make(chan Reply, 1),
		delivered: make(chan struct{}),
		cleanup: func() {
			if err := p.conn.Export(nil, returnPath, ReplyInterface); err != nil {
				log.Debug().Err(err).Str("path", string(returnPath)).Msg("failed to unexport passphrase reply")
			}
		},
	}
	if err := p.conn.ExportWithMap(obj, map[string]string{"PassphraseReply": replyMethod},
		returnPath, ReplyInterface); err != nil {
		return nil, fmt.Errorf("failed to export passphrase reply object: %w", err)
	}

	call := p.conn.Object(p.target.Service, dbus.ObjectPath(p.target.Path)).GoWithContext(
		ctx,
		p.target.Interface+"."+showMethod,
		0,
		make(chan *dbus.Call, 1),
		udi, names[0], returnPath, uint32(0), p.target.AppID,
	)

	go func() {
		if done := <-call.Done; done.Err != nil {
			log.Warn().Err(done.Err).Str("udi", udi).Msg("failed to call the passphrase provider")
			obj.deliver(Reply{Err: fmt.Errorf("%w: %w", ErrNoProvider, done.Err)})
			return
		}
		select {
		case <-obj.delivered:
		case <-ctx.Done():
			obj.deliver(Reply{Err: ctx.Err()})
		}
	}()

	log.Info().Str("udi", udi).Str("return", string(returnPath)).Msg("passphrase requested")
	return obj.out, nil
}
