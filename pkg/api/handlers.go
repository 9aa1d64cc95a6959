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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ZaparooProject/zaparoo-storage/pkg/api/middleware"
	"github.com/ZaparooProject/zaparoo-storage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-storage/pkg/api/validation"
	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/mounttab"
	"github.com/ZaparooProject/zaparoo-storage/pkg/notify"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-Id"

type deviceQuery struct {
	Capability string `validate:"omitempty,capability"`
	Ignored    string `validate:"omitempty,oneof=true false"`
}

type deviceParams struct {
	UDI string `validate:"required,udi"`
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// udiParam rebuilds the device identity from the wildcard route segment.
// Object paths lose their leading slash to the route prefix.
func udiParam(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if p == "" || strings.HasPrefix(p, mounttab.UDIPrefix) || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	q := deviceQuery{
		Capability: r.URL.Query().Get("capability"),
		Ignored:    r.URL.Query().Get("ignored"),
	}
	if err := validation.DefaultValidator.Validate(&q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	want := devices.Capability(q.Capability)
	list := s.env.Devices.Devices(func(d *devices.Device) bool {
		return want == "" || d.Has(want)
	})

	resp := models.DevicesResponse{Devices: make([]models.Device, 0, len(list))}
	for _, d := range list {
		md := s.describe(d)
		if q.Ignored != "" && md.Ignored != (q.Ignored == "true") {
			continue
		}
		resp.Devices = append(resp.Devices, md)
	}
	resp.Count = len(resp.Devices)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	params := deviceParams{UDI: udiParam(r)}
	if err := validation.DefaultValidator.Validate(&params); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	d, ok := s.env.Devices.Device(params.UDI)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("device not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.describe(d))
}

func (s *Server) handleMounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.MountsResponse{
		Static: s.env.Mounts.Entries(mounttab.Static),
		Live:   s.env.Mounts.Entries(mounttab.Live),
	})
}

func (s *Server) handleAction(action notify.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := deviceParams{UDI: udiParam(r)}
		if err := validation.DefaultValidator.Validate(&params); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if _, ok := s.env.Devices.Device(params.UDI); !ok {
			writeError(w, http.StatusNotFound, errors.New("device not found"))
			return
		}

		var accepted bool
		if action == notify.ActionSetup {
			accepted = s.env.Storage.Setup(params.UDI)
		} else {
			accepted = s.env.Storage.Teardown(params.UDI)
		}

		log.Info().
			Str("udi", params.UDI).
			Str("action", string(action)).
			Bool("accepted", accepted).
			Bool("local", middleware.IsLoopbackAddr(r.RemoteAddr)).
			Msg("storage action requested over api")

		status := http.StatusAccepted
		if !accepted {
			status = http.StatusConflict
		}
		writeJSON(w, status, models.ActionResponse{
			UDI:      params.UDI,
			Action:   action,
			Accepted: accepted,
		})
	}
}

func (s *Server) describe(d *devices.Device) models.Device {
	md := models.Device{
		Device:     d,
		Accessible: s.env.Storage.IsAccessible(d.UDI),
		Encrypted:  s.env.Storage.IsEncrypted(d.UDI),
		Ignored:    s.env.Storage.IsIgnored(d.UDI),
		FilePath:   s.env.Storage.FilePath(d.UDI),
	}
	if p, ok := s.env.Storage.Pending(d.UDI); ok {
		md.Pending = &p
	}
	return md
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writing response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := models.ErrorResponse{Error: err.Error()}
	var verr *validation.Error
	if errors.As(err, &verr) {
		for _, f := range verr.Fields {
			resp.Fields = append(resp.Fields, models.FieldError{
				Field:   strings.ToLower(f.Field),
				Message: f.Message,
			})
		}
	}
	writeJSON(w, status, resp)
}
