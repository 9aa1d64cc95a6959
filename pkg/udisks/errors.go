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
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

var (
	// ErrNotConnected is returned when no system bus connection exists.
	ErrNotConnected = errors.New("storage service not connected")
	// ErrTransport marks calls that failed before the service answered.
	ErrTransport = errors.New("storage service call failed")
	// ErrInvalidObject is returned for UDIs that are not object paths.
	ErrInvalidObject = errors.New("not a storage service object")
)

// ErrorKind is the local name of a service error.
type ErrorKind string

const (
	KindFailed                 ErrorKind = "Failed"
	KindCancelled              ErrorKind = "Cancelled"
	KindAlreadyCancelled       ErrorKind = "AlreadyCancelled"
	KindNotAuthorized          ErrorKind = "NotAuthorized"
	KindNotAuthorizedCanObtain ErrorKind = "NotAuthorizedCanObtain"
	KindNotAuthorizedDismissed ErrorKind = "NotAuthorizedDismissed"
	KindAlreadyMounted         ErrorKind = "AlreadyMounted"
	KindNotMounted             ErrorKind = "NotMounted"
	KindOptionNotPermitted     ErrorKind = "OptionNotPermitted"
	KindMountedByOtherUser     ErrorKind = "MountedByOtherUser"
	KindAlreadyUnmounting      ErrorKind = "AlreadyUnmounting"
	KindNotSupported           ErrorKind = "NotSupported"
	KindTimeout                ErrorKind = "Timeout"
	KindWouldWakeup            ErrorKind = "WouldWakeup"
	KindDeviceBusy             ErrorKind = "DeviceBusy"
)

const errorPrefix = "org.freedesktop.UDisks2.Error."

var errorKinds = map[string]ErrorKind{
	errorPrefix + "Failed":                 KindFailed,
	errorPrefix + "Cancelled":              KindCancelled,
	errorPrefix + "AlreadyCancelled":       KindAlreadyCancelled,
	errorPrefix + "NotAuthorized":          KindNotAuthorized,
	errorPrefix + "NotAuthorizedCanObtain": KindNotAuthorizedCanObtain,
	errorPrefix + "NotAuthorizedDismissed": KindNotAuthorizedDismissed,
	errorPrefix + "AlreadyMounted":         KindAlreadyMounted,
	errorPrefix + "NotMounted":             KindNotMounted,
	errorPrefix + "OptionNotPermitted":     KindOptionNotPermitted,
	errorPrefix + "MountedByOtherUser":     KindMountedByOtherUser,
	errorPrefix + "AlreadyUnmounting":      KindAlreadyUnmounting,
	errorPrefix + "NotSupported":           KindNotSupported,
	errorPrefix + "Timedout":               KindTimeout,
	errorPrefix + "WouldWakeup":            KindWouldWakeup,
	errorPrefix + "DeviceBusy":             KindDeviceBusy,
}

// KindForName looks up a service error name. Unknown names in the UDisks2
// namespace map to KindFailed.
func KindForName(name string) (ErrorKind, bool) {
	if k, ok := errorKinds[name]; ok {
		return k, true
	}
	if strings.HasPrefix(name, errorPrefix) {
		return KindFailed, true
	}
	return "", false
}

// RemoteError is a named failure reported by the service.
type RemoteError struct {
	Name    string
	Kind    ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// translate turns a call error into a RemoteError for service errors and
// timeouts, or an ErrTransport wrap for everything else.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RemoteError{Kind: KindTimeout, Message: "no reply from the storage service"}
	}

	var name string
	var body []any
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case errors.As(err, &dbusErr):
		name, body = dbusErr.Name, dbusErr.Body
	case errors.As(err, &dbusErrPtr):
		name, body = dbusErrPtr.Name, dbusErrPtr.Body
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	kind, ok := KindForName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransport, name)
	}
	re := &RemoteError{Name: name, Kind: kind}
	if len(body) > 0 {
		if msg, ok := body[0].(string); ok {
			re.Message = msg
		}
	}
	return re
}
