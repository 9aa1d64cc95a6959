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

//go:build linux

package hotplug

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	recvBufferSize   = 16 * 1024
	socketBufferSize = 1024 * 1024
)

// NetlinkDialer opens NETLINK_KOBJECT_UEVENT sockets.
type NetlinkDialer struct{}

func (NetlinkDialer) Dial(group Group) (Subscription, error) {
	fd, err := unix.Socket(
		unix.AF_NETLINK,
		unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK,
		unix.NETLINK_KOBJECT_UEVENT,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open uevent socket: %w", err)
	}

	// Bursts on hub plug-in can exceed the default buffer.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, socketBufferSize); err != nil {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, socketBufferSize)
	}

	if err := unix.Bind(fd, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: uint32(group),
	}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to bind uevent socket to %s group: %w", group, err)
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}

	log.Debug().Str("group", group.String()).Int("fd", fd).Msg("uevent socket bound")

	return &netlinkSubscription{
		fd:    fd,
		wakeR: pipe[0],
		wakeW: pipe[1],
		group: group,
		buf:   make([]byte, recvBufferSize),
	}, nil
}

type netlinkSubscription struct {
	buf       []byte
	fd        int
	wakeR     int
	wakeW     int
	group     Group
	recvMu    syncutil.Mutex
	closeOnce sync.Once
	closed    bool
}

func (s *netlinkSubscription) Receive() ([]byte, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	for {
		if s.closed {
			return nil, ErrClosed
		}

		fds := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},    //nolint:gosec // fds fit in int32
			{Fd: int32(s.wakeR), Events: unix.POLLIN}, //nolint:gosec // fds fit in int32
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("poll uevent socket: %w", err)
		}
		if fds[1].Revents != 0 {
			return nil, ErrClosed
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, from, err := unix.Recvfrom(s.fd, s.buf, 0)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ENOBUFS):
			log.Warn().Msg("uevent socket overflowed, events were lost")
			continue
		case err != nil:
			return nil, fmt.Errorf("recv uevent: %w", err)
		}

		// Kernel messages come from port 0; anything else on the kernel
		// group is spoofed.
		if nl, ok := from.(*unix.SockaddrNetlink); ok && s.group == GroupKernel && nl.Pid != 0 {
			log.Warn().Uint32("pid", nl.Pid).Msg("dropping uevent from non-kernel sender")
			continue
		}

		out := make([]byte, n)
		copy(out, s.buf[:n])
		return out, nil
	}
}

func (s *netlinkSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// Wake a blocked Receive, then wait for it before releasing fds.
		_, _ = unix.Write(s.wakeW, []byte{1})
		s.recvMu.Lock()
		defer s.recvMu.Unlock()
		s.closed = true
		err = errors.Join(unix.Close(s.fd), unix.Close(s.wakeR), unix.Close(s.wakeW))
	})
	if err != nil {
		return fmt.Errorf("close uevent socket: %w", err)
	}
	return nil
}
