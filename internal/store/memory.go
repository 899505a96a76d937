// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

func init() {
	RegisterBackend("memory", func(string) (SampleStore, error) {
		return NewMemorySampleStore(), nil
	})
}

// Compile-time interface check.
var _ SampleStore = (*MemorySampleStore)(nil)

// MemorySampleStore keeps samples in process memory. Used in tests and when
// persistence is disabled but a SampleStore is still required.
type MemorySampleStore struct {
	mu      sync.RWMutex
	samples map[SampleKey][]SampleRecord
	closed  bool
}

func NewMemorySampleStore() *MemorySampleStore {
	return &MemorySampleStore{samples: make(map[SampleKey][]SampleRecord)}
}

func (m *MemorySampleStore) AppendSamples(_ context.Context, samples []SampleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, s := range samples {
		m.samples[s.Key] = append(m.samples[s.Key], s)
	}
	return nil
}

func (m *MemorySampleStore) ListSamples(_ context.Context, q SampleQuery) ([]SampleRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []SampleRecord
	for _, s := range m.samples[q.Key] {
		if !q.Since.IsZero() && s.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (m *MemorySampleStore) ListKeys(_ context.Context) ([]SampleKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]SampleKey, 0, len(m.samples))
	for k := range m.samples {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys, nil
}

func (m *MemorySampleStore) PruneSamples(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var n int64
	for k, series := range m.samples {
		kept := series[:0]
		for _, s := range series {
			if s.Timestamp.Before(before) {
				n++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(m.samples, k)
			continue
		}
		m.samples[k] = kept
	}
	return n, nil
}

func (m *MemorySampleStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SortKeys orders keys by provider, model, then tag.
func SortKeys(keys []SampleKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.Tag < b.Tag
	})
}
