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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ZaparooProject/zaparoo-storage/pkg/api/client"
	"github.com/ZaparooProject/zaparoo-storage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/mounttab"
	"github.com/olekukonko/tablewriter"
)

type Kind string

const (
	KindList     Kind = "list"
	KindMounts   Kind = "mounts"
	KindSetup    Kind = "setup"
	KindTeardown Kind = "teardown"
	KindWatch    Kind = "watch"
)

// Request is one client command.
type Request struct {
	Kind       Kind
	UDI        string
	Capability string
	JSON       bool
}

var ErrMissingUDI = errors.New("a device UDI is required")

// Execute runs req against the service behind c, writing results to w.
func Execute(ctx context.Context, c *client.Client, req Request, w io.Writer) error {
	switch req.Kind {
	case KindList:
		resp, err := c.Devices(ctx, client.Query{Capability: req.Capability})
		if err != nil {
			return fmt.Errorf("listing devices: %w", err)
		}
		if req.JSON {
			return writeJSON(w, resp)
		}
		printDevices(w, resp.Devices)
		return nil
	case KindMounts:
		resp, err := c.Mounts(ctx)
		if err != nil {
			return fmt.Errorf("reading mount tables: %w", err)
		}
		if req.JSON {
			return writeJSON(w, resp)
		}
		printMounts(w, resp)
		return nil
	case KindSetup, KindTeardown:
		return runAction(ctx, c, req, w)
	case KindWatch:
		return c.Watch(ctx, func(n models.NotificationObject) bool {
			if req.JSON {
				_ = writeJSON(w, n)
			} else {
				_, _ = fmt.Fprintf(w, "%s %s\n", n.Method, n.Params)
			}
			return true
		})
	default:
		return fmt.Errorf("unknown command: %s", req.Kind)
	}
}

func runAction(ctx context.Context, c *client.Client, req Request, w io.Writer) error {
	if strings.TrimSpace(req.UDI) == "" {
		return ErrMissingUDI
	}

	var (
		resp models.ActionResponse
		err  error
	)
	if req.Kind == KindSetup {
		resp, err = c.Setup(ctx, req.UDI)
	} else {
		resp, err = c.Teardown(ctx, req.UDI)
	}
	if errors.Is(err, client.ErrRejected) {
		return fmt.Errorf("%s of %s rejected, another operation is pending or the device does not support it: %w",
			req.Kind, req.UDI, err)
	} else if err != nil {
		return fmt.Errorf("%s of %s: %w", req.Kind, req.UDI, err)
	}

	if req.JSON {
		return writeJSON(w, resp)
	}
	_, _ = fmt.Fprintf(w, "%s requested for %s\n", resp.Action, resp.UDI)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func deviceState(d models.Device) string {
	switch {
	case d.Pending != nil:
		return string(d.Pending.Phase)
	case d.Accessible:
		return "accessible"
	case d.Encrypted:
		return "locked"
	default:
		return "-"
	}
}

func printDevices(w io.Writer, list []models.Device) {
	table := newTable(w, "UDI", "Label", "Capabilities", "State", "Path")
	for _, d := range list {
		if d.Device == nil {
			continue
		}
		caps := make([]string, 0, len(d.Capabilities))
		for _, c := range d.Capabilities.List() {
			caps = append(caps, string(c))
		}
		label := d.String(devices.PropIDLabel)
		if label == "" {
			label = "-"
		}
		path := d.FilePath
		if path == "" {
			path = "-"
		}
		table.Append([]string{d.UDI, label, strings.Join(caps, ","), deviceState(d), path})
	}
	table.Render()
}

func printMounts(w io.Writer, m models.MountsResponse) {
	table := newTable(w, "Table", "Source", "Mount Point", "Type")
	add := func(name string, entries []mounttab.Entry) {
		for _, e := range entries {
			table.Append([]string{name, e.Source, e.MountPoint, e.FsType})
		}
	}
	add("fstab", m.Static)
	add("mtab", m.Live)
	table.Render()
}
