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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrShortRecord = errors.New("short uevent record")
	ErrBadHeader   = errors.New("malformed uevent header")
)

const (
	udevPrefix = "libudev\x00"
	udevMagic  = 0xfeedcafe
	// prefix, magic, header_size, properties_off, properties_len and four
	// filter words.
	udevHeaderLen = 8 + 4*8
)

// Record is a decoded uevent before it becomes an Event.
type Record struct {
	Props  map[string]string
	Action string
	// FromUdev is true for records relayed by udevd, which carry the
	// udev database properties as well.
	FromUdev bool
}

// Decode parses either the kernel format
//
//	action@devpath\0KEY=VALUE\0...
//
// or the udevd format: a "libudev\0" header whose properties_off and
// properties_len locate a block of KEY=VALUE\0 pairs.
func Decode(msg []byte) (Record, error) {
	if bytes.HasPrefix(msg, []byte(udevPrefix)) {
		return decodeUdev(msg)
	}
	return decodeKernel(msg)
}

func decodeKernel(msg []byte) (Record, error) {
	head, rest, ok := bytes.Cut(msg, []byte{0})
	if !ok {
		return Record{}, ErrShortRecord
	}
	action, devPath, ok := strings.Cut(string(head), "@")
	if !ok || action == "" || devPath == "" {
		return Record{}, fmt.Errorf("%w: %q", ErrBadHeader, head)
	}

	props := parseProps(rest)
	if props["ACTION"] == "" {
		props["ACTION"] = action
	}
	if props["DEVPATH"] == "" {
		props["DEVPATH"] = devPath
	}
	return Record{Action: props["ACTION"], Props: props}, nil
}

func decodeUdev(msg []byte) (Record, error) {
	if len(msg) < udevHeaderLen {
		return Record{}, ErrShortRecord
	}
	if binary.BigEndian.Uint32(msg[8:12]) != udevMagic {
		return Record{}, fmt.Errorf("%w: bad magic", ErrBadHeader)
	}
	off := binary.NativeEndian.Uint32(msg[16:20])
	length := binary.NativeEndian.Uint32(msg[20:24])
	if uint64(off)+uint64(length) > uint64(len(msg)) || off < udevHeaderLen {
		return Record{}, fmt.Errorf("%w: properties out of range", ErrBadHeader)
	}

	props := parseProps(msg[off : off+length])
	if props["ACTION"] == "" || props["DEVPATH"] == "" {
		return Record{}, fmt.Errorf("%w: missing ACTION or DEVPATH", ErrBadHeader)
	}
	return Record{Action: props["ACTION"], Props: props, FromUdev: true}, nil
}

func parseProps(b []byte) map[string]string {
	props := make(map[string]string)
	for _, kv := range bytes.Split(b, []byte{0}) {
		k, v, ok := bytes.Cut(kv, []byte("="))
		if !ok || len(k) == 0 {
			continue
		}
		props[string(k)] = string(v)
	}
	return props
}

// EncodeKernel renders a record in the kernel wire format. Used by tests
// and the fake dialer.
func EncodeKernel(action, devPath string, props map[string]string) []byte {
	var b bytes.Buffer
	b.WriteString(action)
	b.WriteByte('@')
	b.WriteString(devPath)
	b.WriteByte(0)
	writeProps(&b, props)
	return b.Bytes()
}

// EncodeUdev renders a record in the udevd wire format.
func EncodeUdev(props map[string]string) []byte {
	var body bytes.Buffer
	writeProps(&body, props)

	hdr := make([]byte, udevHeaderLen)
	copy(hdr, udevPrefix)
	binary.BigEndian.PutUint32(hdr[8:12], udevMagic)
	binary.NativeEndian.PutUint32(hdr[12:16], udevHeaderLen)
	binary.NativeEndian.PutUint32(hdr[16:20], udevHeaderLen)
	binary.NativeEndian.PutUint32(hdr[20:24], uint32(body.Len())) //nolint:gosec // records are small
	return append(hdr, body.Bytes()...)
}

func writeProps(b *bytes.Buffer, props map[string]string) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(props[k])
		b.WriteByte(0)
	}
}
