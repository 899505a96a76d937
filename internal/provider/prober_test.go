// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/sigil-dev/modelplane/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProber_MarksUnhealthyAfterThreshold(t *testing.T) {
	reg := provider.NewRegistry(2)
	flaky := newMockProvider("flaky", false)
	reg.Register(flaky)
	reg.Register(newMockProvider("steady", true))
	require.NoError(t, reg.SetRules(map[string][]string{"infer": {"flaky", "steady"}}))

	prober := provider.NewProber(reg, time.Hour, time.Second)
	ctx := context.Background()

	snap := prober.ProbeOnce(ctx)
	require.Len(t, snap, 2)
	assert.Equal(t, "flaky", snap[0].Provider)
	assert.True(t, snap[0].Healthy, "one failure is below the threshold")

	snap = prober.ProbeOnce(ctx)
	assert.False(t, snap[0].Healthy)
	assert.True(t, snap[1].Healthy)

	p, err := reg.RouteTask("infer", nil)
	require.NoError(t, err)
	assert.Equal(t, "steady", p.Name())

	flaky.healthy.Store(true)
	prober.ProbeOnce(ctx)
	h, err := reg.Handle("flaky")
	require.NoError(t, err)
	assert.True(t, h.Healthy())
}

func TestProber_TimeoutCountsAsFailure(t *testing.T) {
	reg := provider.NewRegistry(1)
	slow := newMockProvider("slow", true)
	slow.probeDelay = time.Second
	reg.Register(slow)

	prober := provider.NewProber(reg, time.Hour, 20*time.Millisecond)
	snap := prober.ProbeOnce(context.Background())
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Healthy)
}

func TestProber_ProbesConcurrently(t *testing.T) {
	reg := provider.NewRegistry(1)
	for _, name := range []string{"a", "b", "c", "d"} {
		m := newMockProvider(name, true)
		m.probeDelay = 100 * time.Millisecond
		reg.Register(m)
	}

	prober := provider.NewProber(reg, time.Hour, time.Second)
	start := time.Now()
	snap := prober.ProbeOnce(context.Background())
	elapsed := time.Since(start)

	assert.Len(t, snap, 4)
	assert.Less(t, elapsed, 350*time.Millisecond, "probes should overlap")
	for _, m := range snap {
		assert.True(t, m.Healthy, m.Provider)
		assert.GreaterOrEqual(t, m.LatencyMs, int64(100), m.Provider)
	}
}

func TestProber_CancelledParentRecordsNothing(t *testing.T) {
	reg := provider.NewRegistry(1)
	m := newMockProvider("a", true)
	m.probeDelay = time.Second
	h := reg.Register(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider.NewProber(reg, time.Hour, time.Second).ProbeOnce(ctx)

	assert.True(t, h.Healthy())
	assert.Nil(t, h.HealthMetrics().LastCheckedAt)
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	reg := provider.NewRegistry(1)
	m := newMockProvider("a", true)
	reg.Register(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		provider.NewProber(reg, 10*time.Millisecond, time.Second).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.probes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
}

func TestNewProber_Defaults(t *testing.T) {
	p := provider.NewProber(provider.NewRegistry(0), 0, 0)
	assert.Equal(t, 30*time.Second, p.Interval())
}
