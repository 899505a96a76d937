// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"

	"github.com/sigil-dev/modelplane/internal/config"
	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/notify"
	"github.com/sigil-dev/modelplane/internal/provider"
	_ "github.com/sigil-dev/modelplane/internal/provider/httpjson" // register httpjson adapter
	"github.com/sigil-dev/modelplane/internal/rollback"
	"github.com/sigil-dev/modelplane/internal/router"
	"github.com/sigil-dev/modelplane/internal/samples"
	"github.com/sigil-dev/modelplane/internal/server"
	"github.com/sigil-dev/modelplane/internal/store"
	_ "github.com/sigil-dev/modelplane/internal/store/sqlite" // register sqlite backend
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// Core is the part of the control plane every command needs: the version
// store, warmed sample windows and the rollback machinery.
type Core struct {
	Config       *config.Config
	Versions     *modelstore.Store
	Samples      *samples.Store
	Sink         store.SampleStore
	Notifier     notify.Notifier
	Orchestrator *rollback.Orchestrator
	Guard        *rollback.Guard

	async *notify.Async
}

// WireCore opens the stores and builds the orchestrator and guard.
// With persistence enabled the sample windows are warmed from disk.
func WireCore(ctx context.Context, cfg *config.Config, dryRun bool) (*Core, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, mperr.Wrap(err, mperr.CodeCLISetupFailure, "creating data directory", mperr.FieldPath(cfg.DataDir))
	}

	versions, err := modelstore.New(cfg.ModelsDir())
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeCLISetupFailure, "opening version store")
	}

	c := &Core{Config: cfg, Versions: versions}

	opts := samples.Options{Window: cfg.Samples.Window, QueueSize: cfg.Samples.QueueSize}
	if cfg.Samples.Persist {
		sink, err := store.NewSampleStore(&store.StorageConfig{Backend: cfg.Samples.Backend}, cfg.DataDir)
		if err != nil {
			return nil, err
		}
		c.Sink = sink
		opts.Sink = sink
	}
	c.Samples = samples.New(opts)
	if c.Sink != nil {
		if err := c.Samples.Warm(ctx, c.Sink); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	c.Notifier, c.async = newNotifier(cfg.Notify)
	c.Orchestrator = rollback.NewOrchestrator(versions, c.Notifier)
	c.Guard = rollback.NewGuard(versions, c.Samples, c.Orchestrator, c.Notifier, rollback.GuardConfig{
		MinSamples:   cfg.Rollback.MinSamples,
		RecentWindow: cfg.Rollback.RecentWindow,
		Thresholds:   cfg.ThresholdSet(),
		DryRun:       dryRun,
	})
	return c, nil
}

// Close flushes pending samples and notifications and releases the sink.
func (c *Core) Close() error {
	var errs []error
	if c.Samples != nil {
		errs = append(errs, c.Samples.Close())
	}
	if c.Sink != nil {
		errs = append(errs, c.Sink.Close())
	}
	if c.async != nil {
		errs = append(errs, c.async.Close())
	}
	return errors.Join(errs...)
}

// newNotifier always logs and additionally POSTs to the webhook when one is
// configured. The returned Async is nil without a webhook.
func newNotifier(nc config.NotifyConfig) (notify.Notifier, *notify.Async) {
	if nc.WebhookURL == "" {
		return notify.LogNotifier{}, nil
	}
	webhook := notify.NewWebhookNotifier(notify.WebhookConfig{URL: nc.WebhookURL, Timeout: nc.Timeout})
	async := notify.NewAsync(webhook, nc.QueueSize, nc.Timeout)
	return notify.Multi{notify.LogNotifier{}, async}, async
}

// Plane is the fully wired control plane behind `modelplane serve`.
type Plane struct {
	*Core
	Registry *provider.Registry
	Prober   *provider.Prober
	Router   *router.Router
	Server   *server.Server
}

// WirePlane builds every subsystem from cfg.
func WirePlane(ctx context.Context, cfg *config.Config) (*Plane, error) {
	core, err := WireCore(ctx, cfg, false)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	rt := router.New(reg, core.Samples, router.Config{
		RetryBudget:      cfg.Routing.RetryBudget,
		AttemptTimeout:   cfg.Routing.AttemptTimeout,
		SLA:              cfg.Samples.SLA,
		CanaryMinSamples: cfg.Canary.MinSamples,
		MinPromoteScore:  cfg.Canary.MinPromoteScore,
		Thresholds:       cfg.ThresholdSet(),
	}, router.WithVersions(core.Versions), router.WithCanary(core.Orchestrator))

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
		Version:     version,
		Services: &server.Services{
			Registry: reg,
			Versions: core.Versions,
			Samples:  core.Samples,
			Router:   rt,
			Rollback: core.Orchestrator,
		},
	})
	if err != nil {
		_ = reg.Close()
		_ = core.Close()
		return nil, mperr.Wrap(err, mperr.CodeCLISetupFailure, "creating server")
	}

	return &Plane{
		Core:     core,
		Registry: reg,
		Prober:   provider.NewProber(reg, cfg.Health.Interval, cfg.Health.Timeout),
		Router:   rt,
		Server:   srv,
	}, nil
}

// buildRegistry instantiates every configured provider and installs the
// routing rules. Providers are created in name order so failures are
// reported deterministically.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry(cfg.Health.UnhealthyThreshold)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := cfg.Providers[name]
		p, err := provider.New(pc.Type, name, provider.Settings(pc.Settings))
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
		reg.Register(p)
		slog.Debug("provider registered", "provider", name, "type", pc.Type)
	}

	if err := reg.SetRules(cfg.Routing.Rules); err != nil {
		_ = reg.Close()
		return nil, mperr.Wrap(err, mperr.CodeCLISetupFailure, "installing routing rules")
	}
	return reg, nil
}

// Run checks recently activated versions, starts the health prober and
// the optional guard watch, then serves until ctx is cancelled.
func (p *Plane) Run(ctx context.Context) error {
	for _, res := range p.Guard.Check(ctx) {
		if res.RolledBackTo != "" {
			slog.Warn("boot guard rolled back", "model", res.Key.String(), "from", res.Tag, "to", res.RolledBackTo)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go p.Prober.Run(ctx)
	if interval := p.Config.Rollback.WatchInterval; interval > 0 {
		go p.Guard.Watch(ctx, interval)
	}

	slog.Info("modelplane serving", "listen", p.Config.Server.Listen, "providers", len(p.Registry.Handles()))
	return p.Server.Start(ctx)
}

// Close releases providers and flushes the core.
func (p *Plane) Close() error {
	return errors.Join(p.Registry.Close(), p.Core.Close())
}
