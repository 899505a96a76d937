// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package router_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/provider"
	"github.com/sigil-dev/modelplane/internal/router"
	"github.com/sigil-dev/modelplane/internal/samples"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream exploded")

// scriptedProvider answers Execute with fn, or succeeds when fn is nil.
type scriptedProvider struct {
	name  string
	calls atomic.Int32
	fn    func(context.Context, provider.Request) (provider.Result, error)

	mu   sync.Mutex
	reqs []provider.Request
}

func newScripted(name string, fn func(context.Context, provider.Request) (provider.Result, error)) *scriptedProvider {
	return &scriptedProvider{name: name, fn: fn}
}

func failing(name string) *scriptedProvider {
	return newScripted(name, func(context.Context, provider.Request) (provider.Result, error) {
		return provider.Result{}, errUpstream
	})
}

// blocking waits for its context to end.
func blocking(name string) *scriptedProvider {
	return newScripted(name, func(ctx context.Context, _ provider.Request) (provider.Result, error) {
		<-ctx.Done()
		return provider.Result{}, ctx.Err()
	})
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Execute(ctx context.Context, req provider.Request) (provider.Result, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return provider.Result{Payload: []byte(`{"label":"ok"}`)}, nil
}

func (s *scriptedProvider) lastRequest() provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func (s *scriptedProvider) CheckHealth(context.Context) bool { return true }
func (s *scriptedProvider) Close() error                     { return nil }

// newRegistry registers providers in order, all healthy with increasing
// latency, and routes "infer" through them in that order.
func newRegistry(t *testing.T, provs ...provider.Provider) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry(1)
	names := make([]string, 0, len(provs))
	for i, p := range provs {
		h := reg.Register(p)
		h.Tracker().RecordProbe(true, time.Duration(i+1)*time.Millisecond)
		names = append(names, p.Name())
	}
	require.NoError(t, reg.SetRules(map[string][]string{"infer": names}))
	return reg
}

func testConfig() router.Config {
	cfg := router.DefaultConfig()
	cfg.RetryBudget = 2
	cfg.AttemptTimeout = time.Second
	cfg.SLA = time.Second
	cfg.CanaryMinSamples = 5
	return cfg
}

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func newVersionStore(t *testing.T) *modelstore.Store {
	t.Helper()
	s, err := modelstore.New(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, err)
	return s
}

// stageAndActivate stages every tag for hf/demo and activates the first.
func stageAndActivate(t *testing.T, s *modelstore.Store, tags ...string) {
	t.Helper()
	ctx := context.Background()
	for _, tag := range tags {
		src := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(src, "weights.bin"), []byte("w-"+tag), 0o644))
		_, err := s.PrepareStaging(ctx, "hf", "demo", tag, src)
		require.NoError(t, err)
	}
	_, err := s.Activate(ctx, "hf", "demo", tags[0], nil)
	require.NoError(t, err)
}

func startCanary(t *testing.T, s *modelstore.Store, green string, percent int) {
	t.Helper()
	require.NoError(t, s.SetDeployment(context.Background(), "hf", "demo", modelstore.Deployment{
		Strategy:      modelstore.StrategyBlueGreen,
		CanaryPercent: percent,
		GreenTag:      green,
	}))
}

func newSamples() *samples.Store {
	return samples.New(samples.Options{})
}
