// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package rollback decides when a model version is unhealthy and carries
// out rollbacks, canary promotions and canary aborts.
package rollback

import (
	"time"

	"github.com/sigil-dev/modelplane/pkg/health"
)

// Thresholds bound acceptable health for one model type.
type Thresholds struct {
	MaxErrorRate   float64       `mapstructure:"max_error_rate" json:"max_error_rate"`
	MinSuccessRate float64       `mapstructure:"min_success_rate" json:"min_success_rate"`
	MaxAvgLatency  time.Duration `mapstructure:"max_avg_latency" json:"max_avg_latency"`
}

// DefaultThresholds applies to model types without their own entry.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxErrorRate:   0.2,
		MinSuccessRate: 0.8,
		MaxAvgLatency:  5 * time.Second,
	}
}

// ThresholdSet maps model types to thresholds.
type ThresholdSet struct {
	Default Thresholds
	ByType  map[string]Thresholds
}

// For returns the thresholds for modelType, falling back to Default.
func (s ThresholdSet) For(modelType string) Thresholds {
	if t, ok := s.ByType[modelType]; ok {
		return t
	}
	return s.Default
}

// Reason names the condition behind a decision.
type Reason string

const (
	ReasonHealthy             Reason = "healthy"
	ReasonErrorRate           Reason = "error_rate"
	ReasonSuccessRate         Reason = "success_rate"
	ReasonAvgLatency          Reason = "avg_latency"
	ReasonInsufficientSamples Reason = "insufficient_samples"
	ReasonManual              Reason = "manual"
)

// ShouldRollback reports whether agg breaches any threshold.
func ShouldRollback(agg health.Aggregate, t Thresholds) bool {
	return agg.ErrorRate > t.MaxErrorRate ||
		agg.SuccessRate < t.MinSuccessRate ||
		agg.AvgLatency > t.MaxAvgLatency
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Rollback  bool             `json:"rollback"`
	Reason    Reason           `json:"reason"`
	Aggregate health.Aggregate `json:"aggregate"`
}

// Evaluate applies ShouldRollback once agg holds at least minSamples
// samples. Below that it never recommends a rollback, so an empty or
// freshly reset window (which reads as maximally unhealthy) cannot
// trigger one.
func Evaluate(agg health.Aggregate, t Thresholds, minSamples int) Decision {
	d := Decision{Reason: ReasonHealthy, Aggregate: agg}
	if agg.Count == 0 || agg.Count < minSamples {
		d.Reason = ReasonInsufficientSamples
		return d
	}
	switch {
	case agg.ErrorRate > t.MaxErrorRate:
		d.Reason = ReasonErrorRate
	case agg.SuccessRate < t.MinSuccessRate:
		d.Reason = ReasonSuccessRate
	case agg.AvgLatency > t.MaxAvgLatency:
		d.Reason = ReasonAvgLatency
	default:
		return d
	}
	d.Rollback = true
	return d
}
