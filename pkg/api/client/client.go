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

// Package client talks to a running storage daemon over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-storage/pkg/api"
	"github.com/ZaparooProject/zaparoo-storage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-storage/pkg/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound = errors.New("device not found")
	ErrRejected = errors.New("request rejected")
)

// Client is a thin wrapper over the daemon's HTTP and websocket endpoints.
type Client struct {
	http *http.Client
	base *url.URL
}

// New returns a client for the daemon listening on addr (host:port or a full
// http URL).
func New(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid api address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid api address %q", addr)
	}
	return &Client{
		base: u,
		http: &http.Client{Timeout: config.APIRequestTimeout},
	}, nil
}

// Query filters a device listing. Empty fields are not sent.
type Query struct {
	Capability string
	Ignored    *bool
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

func udiPath(prefix, udi string) string {
	return prefix + strings.TrimPrefix(udi, "/")
}

// Devices lists known devices.
func (c *Client) Devices(ctx context.Context, q Query) (models.DevicesResponse, error) {
	var resp models.DevicesResponse

	v := url.Values{}
	if q.Capability != "" {
		v.Set("capability", q.Capability)
	}
	if q.Ignored != nil {
		v.Set("ignored", fmt.Sprint(*q.Ignored))
	}
	target := c.endpoint("/api/devices")
	if len(v) > 0 {
		target += "?" + v.Encode()
	}

	err := c.do(ctx, http.MethodGet, target, &resp)
	return resp, err
}

// Device fetches a single device by identity.
func (c *Client) Device(ctx context.Context, udi string) (models.Device, error) {
	var resp models.Device
	err := c.do(ctx, http.MethodGet, c.endpoint(udiPath("/api/devices/", udi)), &resp)
	return resp, err
}

// Mounts returns both mount table views.
func (c *Client) Mounts(ctx context.Context) (models.MountsResponse, error) {
	var resp models.MountsResponse
	err := c.do(ctx, http.MethodGet, c.endpoint("/api/mounts"), &resp)
	return resp, err
}

// Setup asks the daemon to make a device accessible. A request the daemon
// refuses returns ErrRejected together with the response.
func (c *Client) Setup(ctx context.Context, udi string) (models.ActionResponse, error) {
	var resp models.ActionResponse
	err := c.do(ctx, http.MethodPost, c.endpoint(udiPath("/api/setup/", udi)), &resp)
	return resp, err
}

// Teardown asks the daemon to release a device.
func (c *Client) Teardown(ctx context.Context, udi string) (models.ActionResponse, error) {
	var resp models.ActionResponse
	err := c.do(ctx, http.MethodPost, c.endpoint(udiPath("/api/teardown/", udi)), &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing response body")
		}
	}()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case res.StatusCode == http.StatusConflict:
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return ErrRejected
	case res.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode >= http.StatusBadRequest:
		var apiErr models.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("api error (%d): %s", res.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("api error: %s", res.Status)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Watch streams notifications to fn until ctx is done, fn returns false or
// the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(models.NotificationObject) bool) error {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + api.NotificationsPath

	dialer := websocket.Dialer{HandshakeTimeout: config.APIRequestTimeout}
	conn, res, err := dialer.DialContext(ctx, u.String(), nil)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to connect to notifications: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		case <-done:
		}
	}()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			log.Debug().Err(err).Msg("closing notifications websocket")
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("notifications connection lost: %w", err)
		}

		var n models.NotificationObject
		if err := json.Unmarshal(msg, &n); err != nil || n.JSONRPC != "2.0" {
			continue
		}
		if !fn(n) {
			return nil
		}
	}
}
