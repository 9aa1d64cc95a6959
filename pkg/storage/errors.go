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
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-storage/pkg/passphrase"
	"github.com/ZaparooProject/zaparoo-storage/pkg/udisks"
)

// ErrorKind classifies how a lifecycle action ended.
type ErrorKind string

const (
	KindNone          ErrorKind = "none"
	KindConfiguration ErrorKind = "configuration"
	KindTransport     ErrorKind = "transport"
	KindRemote        ErrorKind = "remote"
	KindUserCancelled ErrorKind = "user_cancelled"
	KindNotFound      ErrorKind = "not_found"
	KindBusy          ErrorKind = "busy"
)

// ActionError is the failure reported in an action-done event.
type ActionError struct {
	Err     error
	Kind    ErrorKind
	Remote  udisks.ErrorKind
	Message string
}

func (e *ActionError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *ActionError) Unwrap() error { return e.Err }

// Code is the error kind as broadcast: the kind, or for remote errors
// "remote.<name>".
func (e *ActionError) Code() string {
	if e == nil {
		return string(KindNone)
	}
	if e.Kind == KindRemote && e.Remote != "" {
		return string(KindRemote) + "." + string(e.Remote)
	}
	return string(e.Kind)
}

// classify maps a collaborator error onto the local taxonomy.
func classify(err error) *ActionError {
	if err == nil {
		return nil
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae
	}

	var re *udisks.RemoteError
	switch {
	case errors.As(err, &re):
		msg := string(re.Kind)
		if re.Message != "" {
			msg = fmt.Sprintf("%s: %s", re.Kind, re.Message)
		}
		return &ActionError{Kind: KindRemote, Remote: re.Kind, Message: msg, Err: err}
	case errors.Is(err, passphrase.ErrNoProvider):
		return &ActionError{Kind: KindConfiguration, Message: err.Error(), Err: err}
	case errors.Is(err, udisks.ErrInvalidObject):
		return &ActionError{Kind: KindNotFound, Message: err.Error(), Err: err}
	default:
		return &ActionError{Kind: KindTransport, Message: err.Error(), Err: err}
	}
}
