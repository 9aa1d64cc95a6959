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

// Package notifications pushes bus events to websocket clients.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZaparooProject/zaparoo-storage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/rs/zerolog/log"
)

// Broadcaster sends a frame to every connected session. *melody.Melody
// implements it.
type Broadcaster interface {
	Broadcast(msg []byte) error
}

// Frame encodes ev as a JSON-RPC notification.
func Frame(ev notify.Event) ([]byte, error) {
	n, err := notify.Encode(ev)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(models.NotificationObject{
		JSONRPC: "2.0",
		Method:  n.Method,
		Params:  n.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return data, nil
}

// Forward broadcasts events until ctx is done or events is closed.
func Forward(ctx context.Context, b Broadcaster, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := Frame(ev)
			if err != nil {
				log.Error().Err(err).Msg("encoding notification")
				continue
			}
			if err := b.Broadcast(data); err != nil {
				log.Error().Err(err).Str("method", ev.Method()).Msg("broadcasting notification")
			}
		}
	}
}
