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

// Package discovery advertises the storage API over mDNS so frontends on the
// local network can find the daemon without manual configuration.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/config"
	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers/syncutil"
	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD service type of the storage API.
const ServiceType = "_zaparoo-storage._tcp"

const (
	retryInterval    = 30 * time.Second
	maxRetryDuration = 5 * time.Minute
	fallbackName     = "zaparoo-storage"
)

var ErrLoopbackListen = errors.New("api listens on loopback only")

var virtualInterfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

// shutdowner is the part of *zeroconf.Server the service holds on to.
type shutdowner interface {
	Shutdown()
}

type registerFunc func(
	instance, service, domain string,
	port int,
	text []string,
	ifaces []net.Interface,
) (shutdowner, error)

func zeroconfRegister(
	instance, service, domain string,
	port int,
	text []string,
	ifaces []net.Interface,
) (shutdowner, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, fmt.Errorf("zeroconf register: %w", err)
	}
	return server, nil
}

// Options configures what is advertised.
type Options struct {
	// Listen is the API listen address in host:port form.
	Listen       string
	InstanceName string
	Enabled      bool
}

// Service manages the mDNS registration for the lifetime of the daemon.
type Service struct {
	clock        clockwork.Clock
	register     registerFunc
	interfaces   func() ([]net.Interface, error)
	server       shutdowner
	cancelFunc   context.CancelFunc
	done         chan struct{}
	opts         Options
	instanceName string
	port         int
	mu           syncutil.Mutex
	stopped      bool
}

type Option func(*Service)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func withRegister(fn registerFunc) Option {
	return func(s *Service) {
		s.register = fn
	}
}

func withInterfaces(fn func() ([]net.Interface, error)) Option {
	return func(s *Service) {
		s.interfaces = fn
	}
}

func New(opts Options, options ...Option) *Service {
	s := &Service{
		opts:       opts,
		clock:      clockwork.NewRealClock(),
		register:   zeroconfRegister,
		interfaces: net.Interfaces,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// FromConfig builds a service from the daemon config.
func FromConfig(cfg *config.Instance, options ...Option) *Service {
	return New(Options{
		Enabled:      cfg.DiscoveryEnabled(),
		Listen:       cfg.APIListen(),
		InstanceName: cfg.DiscoveryInstanceName(),
	}, options...)
}

// advertisedPort returns the port to announce for a listen address, or
// ErrLoopbackListen when nothing outside the host could connect to it.
func advertisedPort(listen string) (int, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid listen port %q", portStr)
	}

	if strings.EqualFold(host, "localhost") {
		return 0, ErrLoopbackListen
	}
	if addr, err := netip.ParseAddr(host); err == nil && addr.IsLoopback() {
		return 0, ErrLoopbackListen
	}
	return port, nil
}

func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var preferred []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		// mDNS requires multicast
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		preferred = append(preferred, iface)
	}
	return preferred
}

func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Start registers the service. When no usable interface is up yet it keeps
// retrying in the background for a few minutes. Only configuration problems
// are returned as errors.
func (s *Service) Start() error {
	if !s.opts.Enabled {
		log.Info().Msg("mDNS discovery disabled by configuration")
		return nil
	}

	port, err := advertisedPort(s.opts.Listen)
	switch {
	case errors.Is(err, ErrLoopbackListen):
		log.Info().Str("listen", s.opts.Listen).Msg("api is loopback only, not advertising over mDNS")
		return nil
	case err != nil:
		return err
	}
	s.port = port
	s.instanceName = resolveInstanceName(s.opts.InstanceName)

	if s.tryRegister() {
		return nil
	}

	log.Info().
		Dur("retryInterval", retryInterval).
		Dur("maxDuration", maxRetryDuration).
		Msg("mDNS registration failed, retrying in background")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancelFunc = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.retryLoop(ctx)
	}()
	return nil
}

func (s *Service) tryRegister() bool {
	all, err := s.interfaces()
	if err != nil {
		log.Debug().Err(err).Msg("failed to list network interfaces")
		return false
	}
	ifaces := filterInterfaces(all)
	if len(ifaces) == 0 {
		log.Debug().Msg("no suitable network interfaces for mDNS")
		return false
	}

	names := make([]string, len(ifaces))
	for i, iface := range ifaces {
		names[i] = iface.Name
	}

	txt := []string{
		"version=" + config.AppVersion,
		"path=/api",
	}
	server, err := s.register(s.instanceName, ServiceType, "local.", s.port, txt, ifaces)
	if err != nil {
		log.Debug().Err(err).Msg("mDNS registration attempt failed")
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		server.Shutdown()
		return false
	}
	s.server = server
	s.mu.Unlock()

	log.Info().
		Str("instance", s.instanceName).
		Int("port", s.port).
		Strs("interfaces", names).
		Msg("mDNS advertising started")
	return true
}

func (s *Service) retryLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(retryInterval)
	defer ticker.Stop()
	deadline := s.clock.After(maxRetryDuration)

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			log.Warn().Msg("mDNS registration retry timed out, discovery unavailable")
			return
		case <-ticker.Chan():
			if s.tryRegister() {
				log.Info().Msg("mDNS registration succeeded after retry")
				return
			}
		}
	}
}

// Stop withdraws the advertisement. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancelFunc, s.done
	s.cancelFunc, s.done = nil, nil
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if server != nil {
		log.Debug().Msg("stopping mDNS advertising")
		server.Shutdown()
	}
}

// InstanceName is empty until Start has resolved it.
func (s *Service) InstanceName() string {
	return s.instanceName
}

func resolveInstanceName(configured string) string {
	if configured != "" {
		return configured
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		log.Warn().Err(err).Msg("failed to get hostname, using fallback instance name")
		return fallbackName
	}
	return hostname
}
