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

// Package service wires the device backend, the storage controller and the
// outer surfaces into the running daemon.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-storage/pkg/api"
	"github.com/ZaparooProject/zaparoo-storage/pkg/config"
	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/hotplug"
	"github.com/ZaparooProject/zaparoo-storage/pkg/inhibit"
	"github.com/ZaparooProject/zaparoo-storage/pkg/metrics"
	"github.com/ZaparooProject/zaparoo-storage/pkg/mounttab"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/ZaparooProject/zaparoo-storage/pkg/passphrase"
	"github.com/ZaparooProject/zaparoo-storage/pkg/registry"
	"github.com/ZaparooProject/zaparoo-storage/pkg/service/discovery"
	"github.com/ZaparooProject/zaparoo-storage/pkg/service/publishers"
	"github.com/ZaparooProject/zaparoo-storage/pkg/storage"
	"github.com/ZaparooProject/zaparoo-storage/pkg/sysfs"
	"github.com/ZaparooProject/zaparoo-storage/pkg/udisks"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	inhibitWho       = "Zaparoo Storage"
	publisherBuffer  = 100
	mountEventBuffer = 16
)

// stopper is anything with a fire-and-forget Stop.
type stopper interface {
	Stop()
}

// newMetrics builds a private registry with the runtime collectors and the
// storage instruments. Both results are nil when metrics are disabled.
func newMetrics(cfg *config.Instance) (*metrics.Metrics, prometheus.Gatherer) {
	if !cfg.MetricsEnabled() {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}

func controllerConfig(cfg *config.Instance) storage.Config {
	sc := storage.DefaultConfig()
	if paths := cfg.UserPaths(); len(paths) > 0 {
		sc.UserPaths = paths
	}
	sc.VfatFlush = cfg.VfatFlush()
	return sc
}

// syncMountDevices mirrors the mount table identities into the registry,
// once now and again on every table change, until ctx is done or events
// is closed.
func syncMountDevices(
	ctx context.Context,
	cache *mounttab.Cache,
	reg *registry.Registry,
	events <-chan notify.Event,
) {
	reg.Sync(devices.SourceFstab, mounttab.Devices(cache))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, changed := ev.(notify.MountTableChanged); !changed {
				continue
			}
			reg.Sync(devices.SourceFstab, mounttab.Devices(cache))
		}
	}
}

// startPublishers starts every enabled MQTT publisher, each on its own bus
// subscription. A publisher that fails to connect is skipped.
func startPublishers(cfg *config.Instance, bus *notify.Bus) []*publishers.MQTTPublisher {
	active := make([]*publishers.MQTTPublisher, 0)

	for _, mqttCfg := range cfg.GetMQTTPublishers() {
		// nil means enabled
		if mqttCfg.Enabled != nil && !*mqttCfg.Enabled {
			continue
		}

		log.Info().Msgf("starting MQTT publisher: %s (topic: %s)", mqttCfg.Broker, mqttCfg.Topic)

		events, id := bus.Subscribe(publisherBuffer)
		publisher := publishers.NewMQTTPublisher(mqttCfg.Broker, mqttCfg.Topic, mqttCfg.Filter)
		if err := publisher.Start(events); err != nil {
			log.Error().Err(err).Msgf("failed to start MQTT publisher for %s", mqttCfg.Broker)
			bus.Unsubscribe(id)
			continue
		}
		active = append(active, publisher)
	}

	if len(active) > 0 {
		log.Info().Msgf("started %d MQTT publisher(s)", len(active))
	}
	return active
}

// sessionServices connects to the session bus for the passphrase agent and
// the signal bridge. The daemon keeps running without them.
func sessionServices(
	cfg *config.Instance,
	bus *notify.Bus,
) (conn *dbus.Conn, provider passphrase.Provider, bridge *notify.DBusBridge) {
	if !cfg.PassphraseEnabled() && !cfg.DBusBridgeEnabled() {
		return nil, nil, nil
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		log.Warn().Err(err).Msg("session bus unavailable, passphrase prompts and signal bridge disabled")
		return nil, nil, nil
	}

	if cfg.PassphraseEnabled() {
		provider = passphrase.NewDBusProvider(conn, cfg.PassphraseTarget())
	}

	if cfg.DBusBridgeEnabled() {
		bridge = notify.NewDBusBridge(conn, bus)
		if err := bridge.Start(); err != nil {
			log.Error().Err(err).Msg("failed to start dbus signal bridge")
			bridge = nil
		}
	}

	return conn, provider, bridge
}

// Start brings up the daemon and returns a function that shuts it down.
// Only a missing system bus is fatal; every other component degrades with a
// logged error.
func Start(cfg *config.Instance) (stop func() error, err error) {
	log.Info().Msgf("version: %s", config.AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	var stoppers []stopper
	bus := notify.NewBus()
	m, gatherer := newMetrics(cfg)

	sysConn, err := dbus.ConnectSystemBus()
	if err != nil {
		cancel()
		bus.Close()
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	log.Info().Msg("enumerating devices")
	enum := sysfs.New()
	reg := registry.New(enum, bus, registry.WithMetrics(m))
	reg.Rescan()

	log.Info().Msg("starting hotplug monitor")
	monitor := hotplug.NewMonitor(
		hotplug.NetlinkDialer{},
		enum,
		hotplug.WithGroup(cfg.HotplugGroup()),
		hotplug.WithSubsystems(cfg.HotplugSubsystems()),
		hotplug.WithMetrics(m),
	)
	if err := monitor.Start(egCtx); err != nil {
		log.Error().Err(err).Msg("hotplug monitor failed to start (continuing without hotplug)")
	}
	stoppers = append(stoppers, monitor)
	eg.Go(func() error {
		return reg.Run(egCtx, monitor.Events())
	})

	log.Info().Msg("loading mount tables")
	mounts := mounttab.NewCache(
		mounttab.WithPaths(cfg.MountTablePaths()),
		mounttab.WithMetrics(m),
	)
	mountEvents, _ := bus.Subscribe(mountEventBuffer)
	eg.Go(func() error {
		syncMountDevices(egCtx, mounts, reg, mountEvents)
		return nil
	})
	mountWatcher := mounttab.NewWatcher(
		mounts,
		bus,
		mounttab.WithRescanInterval(cfg.MountTableRescanInterval()),
		mounttab.WithLivePoll(cfg.MountTableWatch()),
		mounttab.WithStaticWatch(cfg.MountTableWatch()),
	)
	if err := mountWatcher.Start(); err != nil {
		log.Error().Err(err).Msg("mount table watcher failed to start")
	} else {
		stoppers = append(stoppers, mountWatcher)
	}

	log.Info().Msg("connecting to udisks2")
	client := udisks.NewClient(
		sysConn,
		udisks.WithCallTimeout(cfg.CallTimeout()),
		udisks.WithUnmountTimeout(cfg.UnmountTimeout()),
	)
	udisksWatcher := udisks.NewWatcher(sysConn, client, reg)
	if err := udisksWatcher.Start(egCtx); err != nil {
		log.Error().Err(err).Msg("udisks2 watcher failed to start")
	} else {
		stoppers = append(stoppers, udisksWatcher)
	}

	var inhibitor inhibit.Inhibitor = inhibit.Nop{}
	if cfg.InhibitEnabled() {
		inhibitor = inhibit.NewLogind(sysConn, inhibitWho)
	}

	sessionConn, provider, bridge := sessionServices(cfg, bus)
	if bridge != nil {
		stoppers = append(stoppers, bridge)
	}

	log.Info().Msg("starting storage controller")
	ctrl := storage.New(storage.Deps{
		Service:    client,
		Objects:    udisksWatcher,
		Store:      reg,
		Mounts:     mounts,
		Bus:        bus,
		Passphrase: provider,
		Inhibitor:  inhibitor,
		Metrics:    m,
	}, controllerConfig(cfg))
	eg.Go(func() error {
		return ctrl.Run(egCtx)
	})

	log.Info().Msg("starting publishers")
	for _, p := range startPublishers(cfg, bus) {
		stoppers = append(stoppers, p)
	}

	log.Info().Msg("starting API service")
	srv := api.NewServer(api.Env{
		Storage:        ctrl,
		Devices:        reg,
		Mounts:         mounts,
		Bus:            bus,
		Gatherer:       gatherer,
		AllowedOrigins: cfg.AllowedOrigins(),
		AllowedIPs:     cfg.AllowedIPs(),
	})
	eg.Go(func() error {
		return srv.Serve(egCtx, cfg.APIListen())
	})

	disc := discovery.FromConfig(cfg)
	if err := disc.Start(); err != nil {
		log.Error().Err(err).Msg("mDNS discovery failed to start")
	}
	stoppers = append(stoppers, disc)

	go func() {
		<-egCtx.Done()
		if ctx.Err() == nil {
			log.Error().Msg("a service component failed, shutting down components")
		}
	}()

	log.Info().Msg("service fully initialized")

	stop = func() error {
		log.Info().Msg("running service cleanup")
		cancel()
		for i := len(stoppers) - 1; i >= 0; i-- {
			stoppers[i].Stop()
		}
		runErr := eg.Wait()
		bus.Close()

		var errs []error
		if runErr != nil {
			errs = append(errs, runErr)
		}
		if sessionConn != nil {
			if err := sessionConn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing session bus: %w", err))
			}
		}
		if err := sysConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing system bus: %w", err))
		}

		log.Info().Msg("service cleanup completed")
		return errors.Join(errs...)
	}
	return stop, nil
}
