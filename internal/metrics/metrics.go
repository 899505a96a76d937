// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package metrics holds the Prometheus collectors shared by the control
// plane. Collectors are registered on the default registry at init.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Routing
	RouteAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelplane_route_attempts_total",
			Help: "Provider execution attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	RouteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelplane_route_duration_seconds",
			Help:    "Wall-clock time of executeWithFallback by task type and result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_type", "result"},
	)

	DeploymentDraws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelplane_deployment_draws_total",
			Help: "Requests assigned to a deployment tag",
		},
		[]string{"tag"},
	)

	// Provider health
	ProviderHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelplane_provider_healthy",
			Help: "Whether the provider passed its last health evaluation (1 = healthy)",
		},
		[]string{"provider"},
	)

	ProviderLatency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelplane_provider_probe_latency_seconds",
			Help: "Latency of the last successful health probe",
		},
		[]string{"provider"},
	)

	// Samples
	SamplesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelplane_samples_recorded_total",
			Help: "Health samples recorded by deployment tag and success",
		},
		[]string{"tag", "success"},
	)

	SamplesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelplane_samples_persist_dropped_total",
			Help: "Samples dropped because the persistence queue was full",
		},
	)

	// Version lifecycle
	VersionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelplane_version_events_total",
			Help: "Promotions, rollbacks and canary aborts by action and result",
		},
		[]string{"action", "result"},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelplane_notifications_dropped_total",
			Help: "Admin notifications dropped because the queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(RouteAttempts)
	prometheus.MustRegister(RouteDuration)
	prometheus.MustRegister(DeploymentDraws)
	prometheus.MustRegister(ProviderHealthy)
	prometheus.MustRegister(ProviderLatency)
	prometheus.MustRegister(SamplesRecorded)
	prometheus.MustRegister(SamplesDropped)
	prometheus.MustRegister(VersionEvents)
	prometheus.MustRegister(NotificationsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolLabel renders a bool as a label value.
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
