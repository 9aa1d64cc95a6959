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

// Package metrics exposes Prometheus instruments for the storage daemon.
// All methods are safe to call on a nil *Metrics so components can be built
// without metrics in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// HotplugEvents counts decoded uevents by action.
	HotplugEvents *prometheus.CounterVec

	// HotplugDropped counts records that failed to decode or carried an
	// unknown action.
	HotplugDropped prometheus.Counter

	// TableRebuilds counts mount table rebuilds by table ("fstab", "mtab").
	TableRebuilds *prometheus.CounterVec

	// Operations counts finished lifecycle operations by kind and result.
	Operations *prometheus.CounterVec

	// OperationDuration tracks lifecycle operation latency by kind.
	OperationDuration *prometheus.HistogramVec

	// Devices is the number of registry devices per source.
	Devices *prometheus.GaugeVec

	// Pending is the number of in-flight lifecycle operations.
	Pending prometheus.Gauge
}

// New creates the storage metrics and registers them on reg. Panics if
// registration fails, which only happens on duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HotplugEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zaparoo_storage_hotplug_events_total",
				Help: "Decoded kernel hotplug events by action",
			},
			[]string{"action"},
		),
		HotplugDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zaparoo_storage_hotplug_dropped_total",
				Help: "Hotplug records dropped as malformed or unknown",
			},
		),
		TableRebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zaparoo_storage_mount_table_rebuilds_total",
				Help: "Mount table rebuilds by table",
			},
			[]string{"table"},
		),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zaparoo_storage_operations_total",
				Help: "Finished setup/teardown operations by kind and result",
			},
			[]string{"kind", "result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zaparoo_storage_operation_duration_seconds",
				Help:    "Setup/teardown duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"kind"},
		),
		Devices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zaparoo_storage_devices",
				Help: "Known devices by source",
			},
			[]string{"source"},
		),
		Pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zaparoo_storage_pending_operations",
				Help: "Lifecycle operations currently in flight",
			},
		),
	}

	reg.MustRegister(
		m.HotplugEvents,
		m.HotplugDropped,
		m.TableRebuilds,
		m.Operations,
		m.OperationDuration,
		m.Devices,
		m.Pending,
	)

	return m
}

func (m *Metrics) RecordHotplugEvent(action string) {
	if m == nil {
		return
	}
	m.HotplugEvents.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordHotplugDropped() {
	if m == nil {
		return
	}
	m.HotplugDropped.Inc()
}

func (m *Metrics) RecordTableRebuild(table string) {
	if m == nil {
		return
	}
	m.TableRebuilds.WithLabelValues(table).Inc()
}

// RecordOperation records a finished setup or teardown.
//
// result is the error kind name, "none" on success.
func (m *Metrics) RecordOperation(kind, result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind, result).Inc()
	m.OperationDuration.WithLabelValues(kind).Observe(durationSeconds)
}

func (m *Metrics) SetDevices(source string, n int) {
	if m == nil {
		return
	}
	m.Devices.WithLabelValues(source).Set(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
