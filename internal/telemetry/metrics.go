/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing for
// the kiosk controller and its HTTP API.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts controller reconciliation ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kioskd_ticks_total",
		Help: "Number of controller reconciliation ticks.",
	})

	// BrowserLaunchesTotal counts browser launches by reason.
	BrowserLaunchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kioskd_browser_launches_total",
		Help: "Number of browser launches, labeled by reason.",
	}, []string{"reason"})

	// BrowserLaunchFailures counts failed launch attempts.
	BrowserLaunchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kioskd_browser_launch_failures_total",
		Help: "Number of failed browser launch attempts.",
	})

	// ConfigReadFailures counts schedule snapshot reads that failed.
	ConfigReadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kioskd_config_read_failures_total",
		Help: "Number of schedule snapshot reads that failed.",
	})

	// ConfigRejected counts snapshots rejected by validation after startup.
	ConfigRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kioskd_config_rejected_total",
		Help: "Number of invalid schedule snapshots rejected after startup.",
	})

	// StraysReaped counts stray browser processes killed at startup.
	StraysReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kioskd_strays_reaped_total",
		Help: "Number of stray browser processes killed.",
	})

	// CurrentMode is 1 during on-hours rotation, 0 during off-hours.
	CurrentMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kioskd_on_hours",
		Help: "Whether the controller is in on-hours rotation (1) or off-hours (0).",
	})

	// APIRequestDuration tracks HTTP API latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kioskd_api_request_duration_seconds",
		Help:    "HTTP API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kioskd_api_active_connections",
		Help: "Number of in-flight HTTP API requests.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
