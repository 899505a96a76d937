// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/notify"
	"github.com/sigil-dev/modelplane/internal/samples"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// GuardStore is the read side of the version store used by Guard.
type GuardStore interface {
	Models(ctx context.Context) ([]modelstore.ModelKey, error)
	Current(ctx context.Context, provider, model string) (*modelstore.VersionInfo, error)
	Deployment(ctx context.Context, provider, model string) (*modelstore.Deployment, error)
}

// GuardConfig tunes the boot safety check.
type GuardConfig struct {
	// MinSamples is the fewest blue samples a decision is based on.
	MinSamples int
	// RecentWindow limits the check to versions activated this recently.
	// Zero checks every active version.
	RecentWindow time.Duration
	Thresholds   ThresholdSet
	DryRun       bool
}

// GuardResult reports what the guard did for one model.
type GuardResult struct {
	Key          modelstore.ModelKey `json:"key"`
	Tag          string              `json:"tag"`
	Skipped      string              `json:"skipped,omitempty"`
	Decision     Decision            `json:"decision"`
	RolledBackTo string              `json:"rolled_back_to,omitempty"`
	Err          error               `json:"-"`
}

// Guard catches a recently activated version that is already degraded.
// It runs once at startup and optionally on a timer. Failures are logged
// and reported, never returned.
type Guard struct {
	versions GuardStore
	samples  *samples.Store
	orch     *Orchestrator
	notifier notify.Notifier
	cfg      GuardConfig
	nowFunc  func() time.Time
}

func NewGuard(versions GuardStore, s *samples.Store, orch *Orchestrator, notifier notify.Notifier, cfg GuardConfig) *Guard {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Guard{
		versions: versions,
		samples:  s,
		orch:     orch,
		notifier: notifier,
		cfg:      cfg,
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (g *Guard) SetNowFunc(fn func() time.Time) {
	g.nowFunc = fn
}

// Check evaluates every active model once.
func (g *Guard) Check(ctx context.Context) []GuardResult {
	keys, err := g.versions.Models(ctx)
	if err != nil {
		slog.Error("boot guard: listing models", "error", err)
		g.report(ctx, "boot guard failed", fmt.Sprintf("listing models: %v", err))
		return nil
	}

	results := make([]GuardResult, 0, len(keys))
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		results = append(results, g.checkOne(ctx, key))
	}
	return results
}

func (g *Guard) checkOne(ctx context.Context, key modelstore.ModelKey) GuardResult {
	res := GuardResult{Key: key}

	cur, err := g.versions.Current(ctx, key.Provider, key.Model)
	if err != nil {
		res.Err = err
		slog.Error("boot guard: resolving active version", "model", key.String(), "error", err)
		g.report(ctx, "boot guard failed "+key.String(), err.Error())
		return res
	}
	if cur == nil {
		res.Skipped = "never activated"
		return res
	}
	res.Tag = cur.Tag

	if cur.ActivatedAt == nil {
		res.Skipped = "activation time unknown"
		return res
	}
	if g.cfg.RecentWindow > 0 && g.nowFunc().Sub(*cur.ActivatedAt) > g.cfg.RecentWindow {
		res.Skipped = "outside recent window"
		return res
	}

	modelType := cur.Metadata[modelstore.MetaModelType]
	if modelType == "" {
		if dep, err := g.versions.Deployment(ctx, key.Provider, key.Model); err == nil && dep != nil {
			modelType = dep.ModelType
		}
	}

	agg := g.samples.Aggregate(
		samples.Key{Provider: key.Provider, Model: key.Model, Tag: health.TagBlue},
		samples.AggregateOptions{Since: *cur.ActivatedAt},
	)
	res.Decision = Evaluate(agg, g.cfg.Thresholds.For(modelType), g.cfg.MinSamples)
	if !res.Decision.Rollback {
		slog.Debug("boot guard: healthy", "model", key.String(), "tag", cur.Tag,
			"reason", res.Decision.Reason, "count", agg.Count)
		return res
	}

	slog.Warn("boot guard: active version degraded", "model", key.String(), "tag", cur.Tag,
		"reason", res.Decision.Reason, "error_rate", agg.ErrorRate, "count", agg.Count)

	target, ok, err := g.orch.PerformRollback(ctx, key.Provider, key.Model, g.cfg.DryRun, Trigger{
		Source:    "boot-guard",
		Reason:    res.Decision.Reason,
		Aggregate: agg,
	})
	if err != nil {
		// The orchestrator already notified the failure.
		res.Err = err
		return res
	}
	if ok {
		res.RolledBackTo = target
	}
	return res
}

// Watch repeats Check every interval until ctx is done.
func (g *Guard) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

func (g *Guard) report(ctx context.Context, subject, body string) {
	if err := g.notifier.Notify(ctx, notify.Message{Subject: subject, Body: body, SentAt: g.nowFunc().UTC()}); err != nil {
		slog.Warn("admin notification failed", "subject", subject, "error", err)
	}
}
