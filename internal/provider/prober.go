// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/modelplane/internal/metrics"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// Prober periodically calls every registered provider's health check and
// updates its handle. It never routes and never blocks request execution.
type Prober struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	nowFunc  func() time.Time
}

// NewProber creates a prober. Non-positive durations fall back to 30s
// between rounds and 5s per probe.
func NewProber(registry *Registry, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		nowFunc:  time.Now,
	}
}

// Interval returns the time between probe rounds.
func (p *Prober) Interval() time.Duration { return p.interval }

// ProbeOnce probes every handle concurrently and waits for all of them.
func (p *Prober) ProbeOnce(ctx context.Context) []health.Metrics {
	handles := p.registry.Handles()

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			p.probe(ctx, h)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]health.Metrics, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.HealthMetrics())
	}
	return out
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	slog.Info("health prober started", "interval", p.interval, "timeout", p.timeout)
	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("health prober stopped")
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context, h *Handle) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.nowFunc()
	ok := checkHealth(probeCtx, h.provider)
	latency := p.nowFunc().Sub(start)
	if probeCtx.Err() != nil && ctx.Err() == nil {
		ok = false // timed out
	}
	if ctx.Err() != nil {
		// Shutdown is not evidence about the provider.
		return
	}

	wasHealthy := h.Healthy()
	h.tracker.RecordProbe(ok, latency)
	healthy := h.Healthy()

	name := h.Name()
	if healthy {
		metrics.ProviderHealthy.WithLabelValues(name).Set(1)
	} else {
		metrics.ProviderHealthy.WithLabelValues(name).Set(0)
	}
	if ok {
		metrics.ProviderLatency.WithLabelValues(name).Set(latency.Seconds())
	}

	switch {
	case wasHealthy && !healthy:
		slog.Warn("provider marked unhealthy", "provider", name,
			"consecutive_failures", h.tracker.HealthMetrics().ConsecutiveFailures)
	case !wasHealthy && healthy:
		slog.Info("provider recovered", "provider", name, "latency", latency)
	case !ok:
		slog.Debug("provider health probe failed", "provider", name)
	}
}

// checkHealth shields the prober from a panicking adapter.
func checkHealth(ctx context.Context, prov Provider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("provider health check panicked", "provider", prov.Name(), "panic", r)
			ok = false
		}
	}()
	return prov.CheckHealth(ctx)
}
