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

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ZaparooProject/zaparoo-storage/internal/telemetry"
	"github.com/ZaparooProject/zaparoo-storage/pkg/api/client"
	"github.com/ZaparooProject/zaparoo-storage/pkg/config"
	"github.com/ZaparooProject/zaparoo-storage/pkg/helpers"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const installIDFile = "install-id"

type Flags struct {
	Version    *bool
	Daemon     *bool
	Service    *string
	API        *string
	List       *bool
	Capability *string
	Mounts     *bool
	Setup      *string
	Teardown   *string
	Watch      *bool
	JSON       *bool
}

// SetupFlags defines all CLI flags.
func SetupFlags() *Flags {
	return &Flags{
		Version: flag.Bool(
			"version",
			false,
			"print version and exit",
		),
		Daemon: flag.Bool(
			"daemon",
			false,
			"run the service in the foreground, logging to stderr",
		),
		Service: flag.String(
			"service",
			"",
			"manage the background service (start|stop|restart|status)",
		),
		API: flag.String(
			"api",
			"",
			"address of a running service, defaults to the configured listen address",
		),
		List: flag.Bool(
			"list",
			false,
			"list known devices",
		),
		Capability: flag.String(
			"capability",
			"",
			"only list devices with this capability",
		),
		Mounts: flag.Bool(
			"mounts",
			false,
			"print the cached mount tables",
		),
		Setup: flag.String(
			"setup",
			"",
			"unlock and mount the device with this UDI",
		),
		Teardown: flag.String(
			"teardown",
			"",
			"unmount, lock and eject the device with this UDI",
		),
		Watch: flag.Bool(
			"watch",
			false,
			"print storage notifications until interrupted",
		),
		JSON: flag.Bool(
			"json",
			false,
			"print raw JSON instead of tables",
		),
	}
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses flags and handles the ones that need no environment.
func (f *Flags) Pre() {
	flag.Parse()

	if *f.Version {
		_, _ = fmt.Printf("Zaparoo Storage v%s\n", config.AppVersion)
		os.Exit(0)
	}
}

// Request returns the client command selected by the flags, if any.
func (f *Flags) Request() (Request, bool) {
	req := Request{
		Capability: *f.Capability,
		JSON:       *f.JSON,
	}
	switch {
	case isFlagPassed("setup"):
		req.Kind, req.UDI = KindSetup, *f.Setup
	case isFlagPassed("teardown"):
		req.Kind, req.UDI = KindTeardown, *f.Teardown
	case *f.List:
		req.Kind = KindList
	case *f.Mounts:
		req.Kind = KindMounts
	case *f.Watch:
		req.Kind = KindWatch
	default:
		return Request{}, false
	}
	return req, true
}

// Post runs any client command against the running service and exits.
// Returns only when no command was requested.
func (f *Flags) Post(cfg *config.Instance) {
	req, ok := f.Request()
	if !ok {
		return
	}

	addr := *f.API
	if addr == "" {
		addr = cfg.APIListen()
	}
	c, err := client.New(addr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = Execute(ctx, c, req, os.Stdout)
	stop()
	if err != nil {
		log.Error().Err(err).Str("command", string(req.Kind)).Msg("client command failed")
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, client.ErrRejected) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	os.Exit(0)
}

// installID returns the anonymous id used for error reports, creating it on
// first use.
func installID(dataDir string) string {
	p := filepath.Join(dataDir, installIDFile)
	//nolint:gosec // Safe: reads our own data file
	if data, err := os.ReadFile(p); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	id := uuid.New().String()
	if err := os.WriteFile(p, []byte(id), 0o600); err != nil {
		log.Warn().Err(err).Msg("failed to persist install id")
	}
	return id
}

// Setup initializes the directories, logging and the user config.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	dirs helpers.Dirs,
	defaultConfig config.Values,
	writers []io.Writer,
) *config.Instance {
	err := helpers.InitLogging(dirs, writers)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.NewConfig(dirs.ConfigDir, defaultConfig)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	helpers.SetLogLevel(cfg.DebugLogging())

	// opt-in
	if err := telemetry.Init(
		cfg.ErrorReporting(),
		installID(dirs.DataDir),
		config.AppVersion,
	); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg
}
