// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package samples

import "time"

// Result is the part of an inference outcome used for scoring.
type Result struct {
	Err     error
	Empty   bool
	Latency time.Duration
}

// ScoreInference rates one inference: 0 for an error or an empty payload,
// 0.5 when latency exceeds sla, 1 otherwise. A non-positive sla disables
// the latency check.
func ScoreInference(r Result, sla time.Duration) float64 {
	switch {
	case r.Err != nil || r.Empty:
		return 0
	case sla > 0 && r.Latency > sla:
		return 0.5
	default:
		return 1
	}
}
