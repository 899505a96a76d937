// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package router executes tasks against the provider registry with
// health-aware fallback and blue/green canary bookkeeping.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/sigil-dev/modelplane/internal/metrics"
	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/provider"
	"github.com/sigil-dev/modelplane/internal/rollback"
	"github.com/sigil-dev/modelplane/internal/samples"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/sigil-dev/modelplane/pkg/health"
)

var tracer = otel.Tracer("modelplane.router")

// VersionResolver is the read side of the model version store.
type VersionResolver interface {
	Current(ctx context.Context, provider, model string) (*modelstore.VersionInfo, error)
	Deployment(ctx context.Context, provider, model string) (*modelstore.Deployment, error)
}

// CanaryController ends canaries once green has enough samples.
type CanaryController interface {
	Promote(ctx context.Context, provider, model string, agg health.Aggregate) (*modelstore.VersionInfo, error)
	AbortCanary(ctx context.Context, provider, model string, trigger rollback.Trigger) error
}

// Config tunes fallback and canary evaluation.
type Config struct {
	// RetryBudget is the number of fallback attempts after the first.
	RetryBudget int
	// AttemptTimeout bounds one provider call. The whole execution is
	// bounded by (RetryBudget+1) × AttemptTimeout.
	AttemptTimeout time.Duration
	// SLA is the latency above which a successful sample scores 0.5.
	SLA time.Duration
	// CanaryMinSamples is the green sample count that triggers evaluation.
	CanaryMinSamples int
	// MinPromoteScore is the average score green needs for promotion.
	MinPromoteScore float64
	Thresholds      rollback.ThresholdSet
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		RetryBudget:      2,
		AttemptTimeout:   30 * time.Second,
		SLA:              2 * time.Second,
		CanaryMinSamples: 100,
		MinPromoteScore:  0.8,
		Thresholds:       rollback.ThresholdSet{Default: rollback.DefaultThresholds()},
	}
}

// Option configures a Router.
type Option func(*Router)

// WithVersions resolves "provider/model" references against a version store.
func WithVersions(v VersionResolver) Option {
	return func(r *Router) { r.versions = v }
}

// WithCanary enables automatic promotion and abort of canaries.
func WithCanary(c CanaryController) Option {
	return func(r *Router) { r.canary = c }
}

// WithRand sets the deployment draw source.
func WithRand(rng *rand.Rand) Option {
	return func(r *Router) { r.rng = rng }
}

// Task is one unit of work submitted by a caller.
type Task struct {
	ID       string
	TaskType string
	// Model optionally names a managed model as "provider/model".
	Model   string
	Payload []byte
	Params  map[string]string
}

// Attempt records one provider call.
type Attempt struct {
	Provider string
	Latency  time.Duration
	Err      error
}

// Outcome is the result of a successful execution.
type Outcome struct {
	Result     provider.Result
	Provider   string
	Version    string
	Deployment string
	Attempts   []Attempt
}

// Router selects providers and records the outcome of every attempt.
type Router struct {
	registry *provider.Registry
	samples  *samples.Store
	versions VersionResolver
	canary   CanaryController
	cfg      Config

	rngMu sync.Mutex
	rng   *rand.Rand

	flight singleflight.Group
}

// New creates a Router. Non-positive config values fall back to
// DefaultConfig.
func New(registry *provider.Registry, sampleStore *samples.Store, cfg Config, opts ...Option) *Router {
	def := DefaultConfig()
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.CanaryMinSamples <= 0 {
		cfg.CanaryMinSamples = def.CanaryMinSamples
	}
	if cfg.Thresholds.Default == (rollback.Thresholds{}) {
		cfg.Thresholds.Default = def.Thresholds.Default
	}

	r := &Router{
		registry: registry,
		samples:  sampleStore,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return r
}

// Config returns the effective configuration.
func (r *Router) Config() Config { return r.cfg }

// target is what a task resolved to before provider selection.
type target struct {
	modelProvider string
	model         string
	tag           string
	version       string
	// canaryStart bounds the green samples that belong to this canary.
	canaryStart time.Time
}

func (t target) managed() bool { return t.model != "" }

// sampleKey returns the health key for an attempt executed by execProvider.
func (t target) sampleKey(execProvider, taskType string) samples.Key {
	if t.managed() {
		return samples.Key{Provider: t.modelProvider, Model: t.model, Tag: t.tag}
	}
	return samples.Key{Provider: execProvider, Model: taskType, Tag: health.TagBlue}
}

// ExecuteWithFallback runs task on the best eligible provider, falling back
// to the next best on failure until the retry budget is spent.
//
// It fails with ProviderUnavailable when no provider is eligible at all and
// with ExecutionFailed when every attempt failed or the overall time budget
// ran out. A cancelled caller aborts the in-flight call and leaves no
// sample behind.
func (r *Router) ExecuteWithFallback(ctx context.Context, task Task) (*Outcome, error) {
	if task.TaskType == "" {
		return nil, mperr.New(mperr.CodeProviderRequestInvalid, "task type is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "router.ExecuteWithFallback",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.type", task.TaskType),
			attribute.String("task.model", task.Model),
		),
	)
	defer span.End()
	start := time.Now()

	t, err := r.resolve(ctx, task)
	if err != nil {
		r.finish(span, task, start, "invalid", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("deployment.tag", t.tag),
		attribute.String("model.version", t.version),
	)
	if t.managed() {
		metrics.DeploymentDraws.WithLabelValues(t.tag).Inc()
	}

	out, result, err := r.run(ctx, task, t)
	if t.tag == health.TagGreen && ctx.Err() == nil {
		r.evaluateCanary(ctx, t)
	}
	r.finish(span, task, start, result, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolve maps the task's model reference to a deployment tag and version.
// Version store read failures are logged and routing proceeds on blue.
func (r *Router) resolve(ctx context.Context, task Task) (target, error) {
	t := target{tag: health.TagBlue}
	if task.Model == "" {
		return t, nil
	}
	p, m, ok := provider.ParseModelRef(task.Model)
	if !ok {
		return t, mperr.New(mperr.CodeProviderInvalidModelRef,
			fmt.Sprintf("model %q must use provider/model format", task.Model),
			mperr.FieldTaskType(task.TaskType))
	}
	t.modelProvider, t.model = p, m
	if r.versions == nil {
		return t, nil
	}

	cur, err := r.versions.Current(ctx, p, m)
	if err != nil {
		slog.Warn("resolving active version", "provider", p, "model", m, "error", err)
	} else if cur != nil {
		t.version = cur.Tag
	}

	dep, err := r.versions.Deployment(ctx, p, m)
	if err != nil {
		slog.Warn("resolving deployment", "provider", p, "model", m, "error", err)
		return t, nil
	}
	r.rngMu.Lock()
	t.tag = ChooseDeploymentTag(dep, r.rng)
	r.rngMu.Unlock()
	if t.tag == health.TagGreen {
		t.version = dep.GreenTag
		t.canaryStart = dep.StartedAt
	}
	return t, nil
}

// run is the SELECT → EXECUTE → {SUCCESS | RETRY → SELECT | EXHAUSTED} loop.
func (r *Router) run(ctx context.Context, task Task, t target) (*Outcome, string, error) {
	budget := time.Duration(r.cfg.RetryBudget+1) * r.cfg.AttemptTimeout
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	req := provider.Request{
		ID:         task.ID,
		TaskType:   task.TaskType,
		ModelRef:   task.Model,
		Version:    t.version,
		Deployment: t.tag,
		Payload:    task.Payload,
		Params:     task.Params,
	}

	var (
		exclude  []string
		attempts []Attempt
	)
	for n := 0; n <= r.cfg.RetryBudget; n++ {
		prov, err := r.registry.RouteTask(task.TaskType, exclude)
		if err != nil {
			if n == 0 {
				return nil, "unavailable", err
			}
			break
		}
		name := prov.Name()

		res, latency, err := r.attempt(runCtx, prov, req, n)
		if ctx.Err() != nil {
			metrics.RouteAttempts.WithLabelValues(name, "cancelled").Inc()
			return nil, "cancelled", mperr.Wrap(ctx.Err(), mperr.CodeProviderExecutionFailure, "request cancelled",
				mperr.FieldProvider(name), mperr.FieldTaskType(task.TaskType))
		}

		key := t.sampleKey(name, task.TaskType)
		attempts = append(attempts, Attempt{Provider: name, Latency: latency, Err: err})
		if err == nil {
			score := samples.ScoreInference(samples.Result{Empty: res.Empty(), Latency: latency}, r.cfg.SLA)
			r.samples.Record(key, samples.Sample{Success: true, Latency: latency, Score: score})
			metrics.RouteAttempts.WithLabelValues(name, "success").Inc()
			slog.Debug("task executed", "task_id", task.ID, "task_type", task.TaskType, "provider", name,
				"tag", t.tag, "version", t.version, "latency", latency, "attempts", len(attempts))
			return &Outcome{
				Result:     res,
				Provider:   name,
				Version:    t.version,
				Deployment: t.tag,
				Attempts:   attempts,
			}, "success", nil
		}

		r.samples.Record(key, samples.Sample{Success: false, Latency: latency})
		metrics.RouteAttempts.WithLabelValues(name, "failure").Inc()
		slog.Warn("provider attempt failed", "task_id", task.ID, "task_type", task.TaskType,
			"provider", name, "attempt", n+1, "latency", latency, "error", err)
		exclude = append(exclude, name)

		if runCtx.Err() != nil {
			break
		}
	}

	err := mperr.New(mperr.CodeProviderExecutionFailure, "fallback budget exhausted",
		mperr.FieldTaskType(task.TaskType),
		mperr.Field("attempts", describeAttempts(attempts)),
		mperr.Field("budget", budget.String()),
	)
	slog.Error("task execution failed", "task_id", task.ID, "task_type", task.TaskType,
		"attempts", describeAttempts(attempts))
	return nil, "exhausted", err
}

// attempt calls one provider under the per-attempt timeout.
func (r *Router) attempt(ctx context.Context, prov provider.Provider, req provider.Request, n int) (provider.Result, time.Duration, error) {
	ctx, span := tracer.Start(ctx, "router.attempt",
		trace.WithAttributes(
			attribute.String("provider", prov.Name()),
			attribute.Int("attempt", n+1),
		),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	res, err := execute(attemptCtx, prov, req)
	latency := time.Since(start)
	if err == nil && attemptCtx.Err() != nil {
		err = attemptCtx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, latency, err
}

// execute shields the router from a panicking adapter.
func execute(ctx context.Context, prov provider.Provider, req provider.Request) (res provider.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = mperr.Errorf(mperr.CodeProviderUpstreamFailure, "provider %s panicked: %v", prov.Name(), rec)
		}
	}()
	return prov.Execute(ctx, req)
}

func (r *Router) finish(span trace.Span, task Task, start time.Time, result string, err error) {
	metrics.RouteDuration.WithLabelValues(task.TaskType, result).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func describeAttempts(attempts []Attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", a.Provider, a.Latency.Round(time.Millisecond), a.Err))
	}
	return strings.Join(parts, "; ")
}
