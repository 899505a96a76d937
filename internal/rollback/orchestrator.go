// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sigil-dev/modelplane/internal/metrics"
	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/notify"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// VersionStore is the subset of the model version store the orchestrator
// drives.
type VersionStore interface {
	Current(ctx context.Context, provider, model string) (*modelstore.VersionInfo, error)
	History(ctx context.Context, provider, model string) ([]modelstore.HistoryEntry, error)
	Activate(ctx context.Context, provider, model, tag string, metadata map[string]string) (*modelstore.VersionInfo, error)
	Rollback(ctx context.Context, provider, model, targetTag string) (*modelstore.VersionInfo, error)
	Deployment(ctx context.Context, provider, model string) (*modelstore.Deployment, error)
	ClearDeployment(ctx context.Context, provider, model string) error
}

// MetaTrigger records what initiated a promotion in history metadata.
const MetaTrigger = "trigger"

// Trigger describes why a rollback was requested.
type Trigger struct {
	Source    string
	Reason    Reason
	Aggregate health.Aggregate
}

// Orchestrator executes rollbacks and canary transitions against the
// version store and reports each one to the admin channel.
type Orchestrator struct {
	versions VersionStore
	notifier notify.Notifier
}

// NewOrchestrator creates an orchestrator. A nil notifier discards
// notifications.
func NewOrchestrator(versions VersionStore, notifier notify.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{versions: versions, notifier: notifier}
}

// PerformRollback re-activates the most recent history tag that differs
// from the active one. It returns ok=false without error when there is no
// active version or no earlier distinct tag. With dryRun it only reports
// the candidate.
func (o *Orchestrator) PerformRollback(ctx context.Context, provider, model string, dryRun bool, trigger Trigger) (string, bool, error) {
	cur, err := o.versions.Current(ctx, provider, model)
	if err != nil {
		return "", false, err
	}
	if cur == nil {
		slog.Info("rollback skipped: no active version", "provider", provider, "model", model)
		return "", false, nil
	}

	hist, err := o.versions.History(ctx, provider, model)
	if err != nil {
		return "", false, err
	}
	target, ok := modelstore.PreviousDistinct(hist, cur.Tag)
	if !ok {
		slog.Info("rollback skipped: no earlier version", "provider", provider, "model", model, "active", cur.Tag)
		return "", false, nil
	}

	if dryRun {
		metrics.VersionEvents.WithLabelValues("rollback", "dry_run").Inc()
		slog.Info("rollback candidate (dry run)", "provider", provider, "model", model,
			"from", cur.Tag, "to", target, "reason", trigger.Reason)
		return target, true, nil
	}

	if _, err := o.versions.Rollback(ctx, provider, model, target); err != nil {
		metrics.VersionEvents.WithLabelValues("rollback", "failure").Inc()
		slog.Error("rollback failed", "provider", provider, "model", model,
			"from", cur.Tag, "to", target, "error", err)
		o.send(ctx, notify.Message{
			Subject: fmt.Sprintf("rollback FAILED %s/%s", provider, model),
			Body:    fmt.Sprintf("rollback from %s to %s failed: %v", cur.Tag, target, err),
			Fields:  triggerFields(trigger, cur.Tag, target),
		})
		return "", false, mperr.Wrap(err, mperr.CodeRollbackFailure, "performing rollback",
			mperr.FieldProvider(provider), mperr.FieldModel(model), mperr.FieldTag(target))
	}

	metrics.VersionEvents.WithLabelValues("rollback", "success").Inc()
	slog.Warn("rolled back", "provider", provider, "model", model,
		"from", cur.Tag, "to", target, "reason", trigger.Reason, "source", trigger.Source)
	o.send(ctx, notify.Message{
		Subject: fmt.Sprintf("rollback %s/%s", provider, model),
		Body:    fmt.Sprintf("rolled back from %s to %s (%s)", cur.Tag, target, trigger.Reason),
		Fields:  triggerFields(trigger, cur.Tag, target),
	})
	return target, true, nil
}

// Promote activates the canary's green tag and ends the canary.
func (o *Orchestrator) Promote(ctx context.Context, provider, model string, agg health.Aggregate) (*modelstore.VersionInfo, error) {
	dep, err := o.versions.Deployment(ctx, provider, model)
	if err != nil {
		return nil, err
	}
	if dep == nil || dep.GreenTag == "" {
		return nil, mperr.New(mperr.CodeRollbackNoCandidate, "no canary in progress",
			mperr.FieldProvider(provider), mperr.FieldModel(model))
	}

	var from string
	if cur, err := o.versions.Current(ctx, provider, model); err == nil && cur != nil {
		from = cur.Tag
	}

	meta := map[string]string{MetaTrigger: "canary"}
	if from != "" {
		meta[modelstore.MetaPromotedFrom] = from
	}
	if dep.ModelType != "" {
		meta[modelstore.MetaModelType] = dep.ModelType
	}

	trigger := Trigger{Source: "canary", Reason: ReasonHealthy, Aggregate: agg}
	info, err := o.versions.Activate(ctx, provider, model, dep.GreenTag, meta)
	if err != nil {
		metrics.VersionEvents.WithLabelValues("promote", "failure").Inc()
		o.send(ctx, notify.Message{
			Subject: fmt.Sprintf("promotion FAILED %s/%s", provider, model),
			Body:    fmt.Sprintf("promoting %s failed: %v", dep.GreenTag, err),
			Fields:  triggerFields(trigger, from, dep.GreenTag),
		})
		return nil, err
	}
	if err := o.versions.ClearDeployment(ctx, provider, model); err != nil {
		slog.Warn("clearing deployment after promotion", "provider", provider, "model", model, "error", err)
	}

	metrics.VersionEvents.WithLabelValues("promote", "success").Inc()
	slog.Info("canary promoted", "provider", provider, "model", model, "from", from, "to", dep.GreenTag)
	o.send(ctx, notify.Message{
		Subject: fmt.Sprintf("promoted %s/%s", provider, model),
		Body:    fmt.Sprintf("canary %s promoted to active (previous %s)", dep.GreenTag, from),
		Fields:  triggerFields(trigger, from, dep.GreenTag),
	})
	return info, nil
}

// AbortCanary ends a canary whose green version is unhealthy. Green was
// never active, so only the deployment record is cleared.
func (o *Orchestrator) AbortCanary(ctx context.Context, provider, model string, trigger Trigger) error {
	dep, err := o.versions.Deployment(ctx, provider, model)
	if err != nil {
		return err
	}
	if dep == nil {
		return nil
	}
	if err := o.versions.ClearDeployment(ctx, provider, model); err != nil {
		metrics.VersionEvents.WithLabelValues("abort", "failure").Inc()
		return err
	}

	metrics.VersionEvents.WithLabelValues("abort", "success").Inc()
	slog.Warn("canary aborted", "provider", provider, "model", model,
		"green", dep.GreenTag, "reason", trigger.Reason)
	o.send(ctx, notify.Message{
		Subject: fmt.Sprintf("canary aborted %s/%s", provider, model),
		Body:    fmt.Sprintf("green %s stopped receiving traffic (%s)", dep.GreenTag, trigger.Reason),
		Fields:  triggerFields(trigger, "", dep.GreenTag),
	})
	return nil
}

func (o *Orchestrator) send(ctx context.Context, msg notify.Message) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if err := o.notifier.Notify(ctx, msg); err != nil {
		slog.Warn("admin notification failed", "subject", msg.Subject, "error", err)
	}
}

func triggerFields(t Trigger, from, to string) map[string]string {
	f := map[string]string{
		"from":         from,
		"to":           to,
		"source":       t.Source,
		"reason":       string(t.Reason),
		"error_rate":   strconv.FormatFloat(t.Aggregate.ErrorRate, 'f', 4, 64),
		"success_rate": strconv.FormatFloat(t.Aggregate.SuccessRate, 'f', 4, 64),
		"avg_latency":  t.Aggregate.AvgLatency.String(),
		"p50_latency":  t.Aggregate.P50Latency.String(),
		"avg_score":    strconv.FormatFloat(t.Aggregate.AvgScore, 'f', 4, 64),
		"count":        strconv.Itoa(t.Aggregate.Count),
	}
	if from == "" {
		delete(f, "from")
	}
	return f
}
