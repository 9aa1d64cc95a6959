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

// Package api serves the device list, storage actions and live
// notifications over HTTP and websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/api/middleware"
	"github.com/ZaparooProject/zaparoo-storage/pkg/api/notifications"
	"github.com/ZaparooProject/zaparoo-storage/pkg/config"
	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/mounttab"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/ZaparooProject/zaparoo-storage/pkg/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	NotificationsPath = "/api/notifications"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Storage is the lifecycle controller as seen by the API.
// *storage.Controller implements it.
type Storage interface {
	Setup(udi string) bool
	Teardown(udi string) bool
	IsAccessible(udi string) bool
	IsEncrypted(udi string) bool
	IsIgnored(udi string) bool
	FilePath(udi string) string
	Pending(udi string) (storage.PendingOperation, bool)
}

// Devices is the device store. *registry.Registry implements it.
type Devices interface {
	Device(udi string) (*devices.Device, bool)
	Devices(filter func(*devices.Device) bool) []*devices.Device
}

// Mounts exposes the cached mount tables. *mounttab.Cache implements it.
type Mounts interface {
	Entries(t mounttab.Table) []mounttab.Entry
}

type Env struct {
	Storage Storage
	Devices Devices
	Mounts  Mounts
	Bus     *notify.Bus
	// Gatherer serves /metrics when set.
	Gatherer       prometheus.Gatherer
	Clock          clockwork.Clock
	AllowedOrigins []string
	AllowedIPs     []string
}

type Server struct {
	env     Env
	handler http.Handler
	ws      *melody.Melody
	limiter *middleware.IPRateLimiter
}

func NewServer(env Env) *Server {
	s := &Server{
		env:     env,
		ws:      melody.New(),
		limiter: middleware.NewIPRateLimiter(env.Clock),
	}
	s.ws.Upgrader.CheckOrigin = func(r *http.Request) bool {
		return originAllowed(env.AllowedOrigins, r.Header.Get("Origin"))
	}
	s.ws.HandleMessage(middleware.WebSocketRateLimitHandler(s.limiter, handlePing))
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(middleware.HTTPIPFilterMiddleware(middleware.NewIPFilter(s.env.AllowedIPs)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(s.env.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{requestIDHeader},
	}))

	r.Group(func(r chi.Router) {
		r.Use(chimw.NoCache)
		r.Use(chimw.Timeout(config.APIRequestTimeout))

		r.Get("/api/devices", s.handleDevices)
		r.Get("/api/devices/*", s.handleDevice)
		r.Get("/api/mounts", s.handleMounts)

		r.With(middleware.HTTPRateLimitMiddleware(s.limiter)).
			Post("/api/setup/*", s.handleAction(notify.ActionSetup))
		r.With(middleware.HTTPRateLimitMiddleware(s.limiter)).
			Post("/api/teardown/*", s.handleAction(notify.ActionTeardown))
	})

	r.Get(NotificationsPath, func(w http.ResponseWriter, r *http.Request) {
		if err := s.ws.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	if s.env.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.env.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Serve listens on addr until ctx is done, pushing bus events to
// websocket clients meanwhile.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	if s.env.Bus != nil {
		events, id := s.env.Bus.Subscribe(notify.DefaultBufferSize)
		defer s.env.Bus.Unsubscribe(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifications.Forward(ctx, s.ws, events)
		}()
	}
	s.limiter.StartCleanup(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.ws.Close(); err != nil {
		log.Debug().Err(err).Msg("closing websocket sessions")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api server shutdown")
	}
	<-errCh
	return nil
}

func handlePing(session *melody.Session, msg []byte) {
	if string(msg) != "ping" {
		return
	}
	if err := session.Write([]byte("pong")); err != nil {
		log.Error().Err(err).Msg("sending pong")
	}
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return allowed
}

// originAllowed checks websocket upgrades. Without a configured list only
// local pages may connect.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		return false
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}
