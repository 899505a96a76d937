// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package router

import (
	"context"
	"log/slog"

	"github.com/sigil-dev/modelplane/internal/rollback"
	"github.com/sigil-dev/modelplane/internal/samples"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// evaluateCanary promotes or aborts the canary behind t once green has
// collected enough samples since the canary started. Older green samples,
// such as those of an earlier canary reloaded from persistence, never count.
// Concurrent evaluations of one model collapse into a single call.
func (r *Router) evaluateCanary(ctx context.Context, t target) {
	if r.canary == nil || r.versions == nil || !t.managed() {
		return
	}
	key := samples.Key{Provider: t.modelProvider, Model: t.model, Tag: health.TagGreen}
	if r.samples.CountSince(key, t.canaryStart) < r.cfg.CanaryMinSamples {
		return
	}

	// A transition must not be abandoned halfway because one caller left.
	ctx = context.WithoutCancel(ctx)
	_, _, _ = r.flight.Do(key.String(), func() (any, error) {
		r.decideCanary(ctx, t, key)
		return nil, nil
	})
}

func (r *Router) decideCanary(ctx context.Context, t target, key samples.Key) {
	p, m := t.modelProvider, t.model

	dep, err := r.versions.Deployment(ctx, p, m)
	if err != nil {
		slog.Warn("reading deployment for canary evaluation", "provider", p, "model", m, "error", err)
		return
	}
	// Another evaluation already ended this canary.
	if !dep.IsCanary() || dep.GreenTag != t.version {
		return
	}
	since := dep.StartedAt
	if r.samples.CountSince(key, since) < r.cfg.CanaryMinSamples {
		return
	}

	agg := r.samples.Aggregate(key, samples.AggregateOptions{Since: since})
	decision := rollback.Evaluate(agg, r.cfg.Thresholds.For(dep.ModelType), r.cfg.CanaryMinSamples)

	switch {
	case decision.Rollback:
		err = r.canary.AbortCanary(ctx, p, m, rollback.Trigger{
			Source:    "canary",
			Reason:    decision.Reason,
			Aggregate: agg,
		})
	case agg.AvgScore >= r.cfg.MinPromoteScore:
		_, err = r.canary.Promote(ctx, p, m, agg)
	default:
		slog.Debug("canary below promotion score", "provider", p, "model", m,
			"green", dep.GreenTag, "avg_score", agg.AvgScore, "count", agg.Count)
		return
	}
	if err != nil {
		slog.Error("canary transition failed", "provider", p, "model", m, "green", dep.GreenTag, "error", err)
		return
	}
	r.samples.Reset(key)
}
