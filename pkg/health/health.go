// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import "time"

// Deployment tags separate stable traffic from canary traffic for one model.
const (
	TagBlue  = "blue"
	TagGreen = "green"
)

// Metrics exposes the current probe state of a provider for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	Provider            string     `json:"provider"`
	Healthy             bool       `json:"healthy"`
	LatencyMs           int64      `json:"latency_ms"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	FailureCount        int64      `json:"failure_count"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// Aggregate summarizes a window of inference samples for one
// (provider, model, tag) key.
//
// An empty window reports ErrorRate 1.0 and Count 0. Unknown is treated as
// unhealthy, so callers must check Count before acting on it.
type Aggregate struct {
	ErrorRate   float64       `json:"error_rate" yaml:"error_rate"`
	SuccessRate float64       `json:"success_rate" yaml:"success_rate"`
	P50Latency  time.Duration `json:"p50_latency" yaml:"p50_latency"`
	AvgLatency  time.Duration `json:"avg_latency" yaml:"avg_latency"`
	AvgScore    float64       `json:"avg_score" yaml:"avg_score"`
	Count       int           `json:"count" yaml:"count"`
}

// Empty returns the conservative aggregate for a window with no samples.
func Empty() Aggregate {
	return Aggregate{ErrorRate: 1.0}
}
