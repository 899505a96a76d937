// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"fmt"
	"time"
)

// SampleKey identifies one sample series.
type SampleKey struct {
	Provider string
	Model    string
	Tag      string
}

func (k SampleKey) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Provider, k.Model, k.Tag)
}

// SampleRecord is the persisted form of one inference outcome.
type SampleRecord struct {
	Key       SampleKey
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Score     float64
}

// SampleQuery selects samples for one key.
type SampleQuery struct {
	Key   SampleKey
	Since time.Time
	Limit int
}

// Validate checks the fields every backend relies on.
func (q SampleQuery) Validate() error {
	if q.Key.Provider == "" || q.Key.Model == "" || q.Key.Tag == "" {
		return fmt.Errorf("%w: sample query requires provider, model and tag", ErrInvalidInput)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidInput, q.Limit)
	}
	return nil
}
