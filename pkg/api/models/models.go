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

package models

import (
	"encoding/json"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/mounttab"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/ZaparooProject/zaparoo-storage/pkg/storage"
)

// NotificationObject is the websocket frame for a bus event, shaped as a
// JSON-RPC notification.
type NotificationObject struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Device is a device snapshot with the storage state derived for it.
type Device struct {
	*devices.Device
	Pending    *storage.PendingOperation `json:"pending,omitempty"`
	FilePath   string                    `json:"filePath,omitempty"`
	Accessible bool                      `json:"accessible"`
	Encrypted  bool                      `json:"encrypted"`
	Ignored    bool                      `json:"ignored"`
}

type DevicesResponse struct {
	Devices []Device `json:"devices"`
	Count   int      `json:"count"`
}

type ActionResponse struct {
	UDI      string        `json:"udi"`
	Action   notify.Action `json:"action"`
	Accepted bool          `json:"accepted"`
}

type MountsResponse struct {
	Static []mounttab.Entry `json:"static"`
	Live   []mounttab.Entry `json:"live"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}
