// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sigil-dev/modelplane/internal/provider"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRoutedRegistry registers providers with the given probe latencies and
// a single rule for "infer" in the given order.
func newRoutedRegistry(t *testing.T, order []string, latency map[string]time.Duration) (*provider.Registry, map[string]*provider.Handle) {
	t.Helper()
	reg := provider.NewRegistry(1)
	handles := make(map[string]*provider.Handle)
	for _, name := range order {
		h := reg.Register(newMockProvider(name, true))
		h.Tracker().RecordProbe(true, latency[name])
		handles[name] = h
	}
	require.NoError(t, reg.SetRules(map[string][]string{"infer": order}))
	return reg, handles
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := provider.NewRegistry(0)
	mock := newMockProvider("alpha", true)
	reg.Register(mock)

	got, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name())

	_, err = reg.Get("missing")
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeProviderNotFound))
}

func TestRegistry_HandlesSorted(t *testing.T) {
	reg := provider.NewRegistry(0)
	reg.Register(newMockProvider("zeta", true))
	reg.Register(newMockProvider("alpha", true))

	var names []string
	for _, h := range reg.Handles() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)
	assert.Equal(t, "alpha", reg.Handles()[0].HealthMetrics().Provider)
}

func TestRegistry_RouteTaskPicksLowestLatency(t *testing.T) {
	reg, _ := newRoutedRegistry(t, []string{"a", "b", "c"}, map[string]time.Duration{
		"a": 300 * time.Millisecond,
		"b": 100 * time.Millisecond,
		"c": 200 * time.Millisecond,
	})

	p, err := reg.RouteTask("infer", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())
}

func TestRegistry_RouteTaskTiesKeepRuleOrder(t *testing.T) {
	reg, _ := newRoutedRegistry(t, []string{"second", "first"}, map[string]time.Duration{
		"second": 50 * time.Millisecond,
		"first":  50 * time.Millisecond,
	})

	p, err := reg.RouteTask("infer", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", p.Name())
}

func TestRegistry_RouteTaskSkipsUnhealthy(t *testing.T) {
	reg, handles := newRoutedRegistry(t, []string{"fast", "slow"}, map[string]time.Duration{
		"fast": 10 * time.Millisecond,
		"slow": 900 * time.Millisecond,
	})
	handles["fast"].Tracker().RecordProbe(false, 0)

	p, err := reg.RouteTask("infer", nil)
	require.NoError(t, err)
	assert.Equal(t, "slow", p.Name())
}

func TestRegistry_RouteTaskExclude(t *testing.T) {
	reg, _ := newRoutedRegistry(t, []string{"a", "b"}, map[string]time.Duration{
		"a": 10 * time.Millisecond,
		"b": 20 * time.Millisecond,
	})

	p, err := reg.RouteTask("infer", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())

	_, err = reg.RouteTask("infer", []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeProviderUnavailable))
}

func TestRegistry_RouteTaskNoEligible(t *testing.T) {
	tests := []struct {
		name     string
		taskType string
		healthy  bool
	}{
		{name: "unknown task type without default", taskType: "embed", healthy: true},
		{name: "all unhealthy", taskType: "infer", healthy: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := provider.NewRegistry(1)
			h := reg.Register(newMockProvider("only", true))
			if !tt.healthy {
				h.Tracker().RecordProbe(false, 0)
			}
			require.NoError(t, reg.SetRules(map[string][]string{"infer": {"only"}}))

			p, err := reg.RouteTask(tt.taskType, nil)
			assert.Nil(t, p)
			require.Error(t, err)
			assert.True(t, mperr.IsUnavailable(err))
			assert.Equal(t, tt.taskType, mperr.FieldsOf(err)["task_type"])
		})
	}
}

func TestRegistry_DefaultRule(t *testing.T) {
	reg := provider.NewRegistry(0)
	reg.Register(newMockProvider("fallback", true))
	reg.Register(newMockProvider("special", true))
	require.NoError(t, reg.SetRules(map[string][]string{
		provider.DefaultRule: {"fallback"},
		"vision":             {"special"},
	}))

	p, err := reg.RouteTask("anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", p.Name())

	p, err = reg.RouteTask("vision", nil)
	require.NoError(t, err)
	assert.Equal(t, "special", p.Name())

	assert.Equal(t, []string{"fallback"}, reg.Rule("anything"))
	assert.Len(t, reg.Rules(), 2)
}

func TestRegistry_SetRulesValidation(t *testing.T) {
	reg := provider.NewRegistry(0)
	reg.Register(newMockProvider("a", true))
	require.NoError(t, reg.SetRules(map[string][]string{"infer": {"a"}}))

	err := reg.SetRules(map[string][]string{"infer": {"a", "ghost"}})
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeProviderNotFound))

	err = reg.SetRules(map[string][]string{"infer": {"a", "a"}})
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeConfigValidateInvalidValue))

	// Failed updates leave the previous rules in place.
	assert.Equal(t, []string{"a"}, reg.Rule("infer"))
}

func TestRegistry_RuleIsCopy(t *testing.T) {
	reg := provider.NewRegistry(0)
	reg.Register(newMockProvider("a", true))
	reg.Register(newMockProvider("b", true))
	rule := []string{"a", "b"}
	require.NoError(t, reg.SetRules(map[string][]string{"infer": rule}))

	rule[0] = "b"
	got := reg.Rule("infer")
	got[1] = "a"
	assert.Equal(t, []string{"a", "b"}, reg.Rule("infer"))
}

func TestRegistry_Close(t *testing.T) {
	reg := provider.NewRegistry(0)
	ok := newMockProvider("ok", true)
	bad := newMockProvider("bad", true)
	bad.closeErr = errors.New("boom")
	reg.Register(ok)
	reg.Register(bad)

	err := reg.Close()
	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
	assert.True(t, ok.closed.Load())
	assert.True(t, bad.closed.Load())
}

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		ref          string
		wantProvider string
		wantModel    string
		wantOK       bool
	}{
		{ref: "hf/demo", wantProvider: "hf", wantModel: "demo", wantOK: true},
		{ref: "hf/org/demo", wantProvider: "hf", wantModel: "org/demo", wantOK: true},
		{ref: "demo", wantOK: false},
		{ref: "/demo", wantOK: false},
		{ref: "hf/", wantOK: false},
		{ref: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			p, m, ok := provider.ParseModelRef(tt.ref)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantProvider, p)
			assert.Equal(t, tt.wantModel, m)
		})
	}
}
