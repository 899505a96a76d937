// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rollback_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/sigil-dev/modelplane/internal/rollback"
	"github.com/sigil-dev/modelplane/pkg/health"
	"github.com/stretchr/testify/assert"
)

func TestShouldRollback_Table(t *testing.T) {
	th := rollback.Thresholds{MaxErrorRate: 0.1, MinSuccessRate: 0.9, MaxAvgLatency: time.Second}
	tests := []struct {
		name string
		agg  health.Aggregate
		want bool
	}{
		{"healthy", health.Aggregate{ErrorRate: 0.05, SuccessRate: 0.95, AvgLatency: 100 * time.Millisecond, Count: 10}, false},
		{"at limits", health.Aggregate{ErrorRate: 0.1, SuccessRate: 0.9, AvgLatency: time.Second, Count: 10}, false},
		{"error rate", health.Aggregate{ErrorRate: 0.11, SuccessRate: 0.95, Count: 10}, true},
		{"success rate", health.Aggregate{ErrorRate: 0.0, SuccessRate: 0.89, Count: 10}, true},
		{"latency", health.Aggregate{SuccessRate: 1, AvgLatency: 2 * time.Second, Count: 10}, true},
		{"empty window", health.Empty(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rollback.ShouldRollback(tt.agg, th))
		})
	}
}

func TestShouldRollback_Predicate(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 10000 {
		agg := health.Aggregate{
			ErrorRate:   rng.Float64(),
			SuccessRate: rng.Float64(),
			AvgLatency:  time.Duration(rng.Int64N(int64(2 * time.Second))),
			Count:       rng.IntN(500),
		}
		th := rollback.Thresholds{
			MaxErrorRate:   rng.Float64(),
			MinSuccessRate: rng.Float64(),
			MaxAvgLatency:  time.Duration(rng.Int64N(int64(2 * time.Second))),
		}
		want := agg.ErrorRate > th.MaxErrorRate || agg.SuccessRate < th.MinSuccessRate || agg.AvgLatency > th.MaxAvgLatency
		if !assert.Equal(t, want, rollback.ShouldRollback(agg, th), "agg=%+v th=%+v", agg, th) {
			return
		}
	}
}

func TestEvaluate(t *testing.T) {
	th := rollback.DefaultThresholds()

	d := rollback.Evaluate(health.Empty(), th, 0)
	assert.False(t, d.Rollback, "empty window never triggers")
	assert.Equal(t, rollback.ReasonInsufficientSamples, d.Reason)

	bad := health.Aggregate{ErrorRate: 0.5, SuccessRate: 0.5, Count: 10}
	d = rollback.Evaluate(bad, th, 20)
	assert.False(t, d.Rollback)
	assert.Equal(t, rollback.ReasonInsufficientSamples, d.Reason)

	d = rollback.Evaluate(bad, th, 10)
	assert.True(t, d.Rollback)
	assert.Equal(t, rollback.ReasonErrorRate, d.Reason)
	assert.Equal(t, bad, d.Aggregate)

	slow := health.Aggregate{SuccessRate: 1, AvgLatency: time.Minute, Count: 50}
	d = rollback.Evaluate(slow, th, 10)
	assert.True(t, d.Rollback)
	assert.Equal(t, rollback.ReasonAvgLatency, d.Reason)

	lowSuccess := health.Aggregate{ErrorRate: 0.1, SuccessRate: 0.7, Count: 50}
	d = rollback.Evaluate(lowSuccess, th, 10)
	assert.Equal(t, rollback.ReasonSuccessRate, d.Reason)

	good := health.Aggregate{SuccessRate: 0.99, ErrorRate: 0.01, AvgLatency: time.Millisecond, Count: 50}
	d = rollback.Evaluate(good, th, 10)
	assert.False(t, d.Rollback)
	assert.Equal(t, rollback.ReasonHealthy, d.Reason)
}

func TestThresholdSet_For(t *testing.T) {
	set := rollback.ThresholdSet{
		Default: rollback.DefaultThresholds(),
		ByType:  map[string]rollback.Thresholds{"image": {MaxErrorRate: 0.5}},
	}
	assert.Equal(t, 0.5, set.For("image").MaxErrorRate)
	assert.Equal(t, rollback.DefaultThresholds(), set.For("chat"))
}
