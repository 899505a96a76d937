// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"sync"
	"time"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// HealthMetrics is an alias for health.Metrics.
type HealthMetrics = health.Metrics

// DefaultUnhealthyThreshold is the number of consecutive failed probes
// after which a provider is excluded from routing.
const DefaultUnhealthyThreshold = 2

// HealthTracker holds the probe state of one provider. A provider starts
// healthy, becomes unhealthy after threshold consecutive failed probes and
// recovers on the next successful probe. Only the prober writes to it;
// routing reads it.
type HealthTracker struct {
	mu                  sync.RWMutex
	healthy             bool
	latency             time.Duration
	threshold           int
	consecutiveFailures int
	failureCount        int64
	lastCheckedAt       time.Time
	failedAt            time.Time
	nowFunc             func() time.Time // for testing
}

// NewHealthTracker creates a HealthTracker that starts healthy.
// Returns an error if threshold is zero or negative.
func NewHealthTracker(threshold int) (*HealthTracker, error) {
	if threshold <= 0 {
		return nil, mperr.Errorf(mperr.CodeConfigValidateInvalidValue,
			"unhealthy threshold must be positive, got %d", threshold)
	}
	return &HealthTracker{
		healthy:   true,
		threshold: threshold,
		nowFunc:   time.Now,
	}, nil
}

// IsHealthy reports the last evaluated health.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.healthy
}

// Latency returns the latency of the last successful probe.
func (h *HealthTracker) Latency() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latency
}

// RecordProbe applies one probe outcome.
func (h *HealthTracker) RecordProbe(ok bool, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.nowFunc()
	h.lastCheckedAt = now
	if ok {
		h.healthy = true
		h.latency = latency
		h.consecutiveFailures = 0
		return
	}

	h.consecutiveFailures++
	h.failureCount++
	h.failedAt = now
	if h.consecutiveFailures >= h.threshold {
		h.healthy = false
	}
}

// SetNowFunc overrides the time source (for testing).
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

// HealthMetrics returns a point-in-time snapshot of the tracker's state.
func (h *HealthTracker) HealthMetrics() HealthMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := HealthMetrics{
		Healthy:             h.healthy,
		LatencyMs:           h.latency.Milliseconds(),
		ConsecutiveFailures: h.consecutiveFailures,
		FailureCount:        h.failureCount,
	}
	if !h.lastCheckedAt.IsZero() {
		t := h.lastCheckedAt
		m.LastCheckedAt = &t
	}
	if h.failureCount > 0 {
		t := h.failedAt
		m.LastFailureAt = &t
	}
	return m
}
