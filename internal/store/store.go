// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"time"
)

// SampleStore persists health samples so aggregates survive restarts and
// can be inspected offline by the CLI.
type SampleStore interface {
	// AppendSamples writes a batch in a single transaction.
	AppendSamples(ctx context.Context, samples []SampleRecord) error
	// ListSamples returns matching samples, oldest first. Limit keeps the
	// newest Limit rows when positive.
	ListSamples(ctx context.Context, q SampleQuery) ([]SampleRecord, error)
	ListKeys(ctx context.Context) ([]SampleKey, error)
	// PruneSamples deletes samples recorded before cutoff.
	PruneSamples(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
