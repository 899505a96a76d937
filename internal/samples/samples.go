// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package samples

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigil-dev/modelplane/internal/metrics"
	"github.com/sigil-dev/modelplane/internal/store"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// DefaultWindow is the number of most recent samples kept per key.
const DefaultWindow = 200

// Key identifies one sample series: (provider, model, deployment tag).
type Key = store.SampleKey

// Sample is the outcome of one inference attempt.
type Sample struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Score     float64
}

// Options configures a Store.
type Options struct {
	// Window bounds the per-key buffer. Zero uses DefaultWindow.
	Window int
	// Sink receives every recorded sample asynchronously. Optional.
	Sink store.SampleStore
	// QueueSize bounds the persistence queue. Zero uses 1024.
	QueueSize int
	// BatchSize caps one sink write. Zero uses 64.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits. Zero uses 1s.
	FlushInterval time.Duration
}

// Store keeps bounded per-key sample windows in memory. Writers for
// different keys never contend: the key map is guarded by an RWMutex and
// each series has its own mutex.
type Store struct {
	window  int
	nowFunc func() time.Time

	mu     sync.RWMutex
	series map[Key]*series

	persist *persister
	dropped atomic.Int64
}

type series struct {
	mu   sync.Mutex
	buf  []Sample
	next int
	full bool
}

func New(opts Options) *Store {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Store{
		window:  window,
		nowFunc: time.Now,
		series:  make(map[Key]*series),
	}
	if opts.Sink != nil {
		s.persist = newPersister(opts, &s.dropped)
	}
	return s
}

// SetNowFunc overrides the clock used to stamp samples without a timestamp.
// Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.nowFunc = fn
}

// Window returns the per-key buffer capacity.
func (s *Store) Window() int { return s.window }

// Record appends a sample to the key's window, evicting the oldest sample
// once the window is full. Safe for concurrent use.
func (s *Store) Record(key Key, sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.nowFunc()
	}
	s.append(key, sample)
	metrics.SamplesRecorded.WithLabelValues(key.Tag, metrics.BoolLabel(sample.Success)).Inc()

	if s.persist != nil {
		s.persist.enqueue(store.SampleRecord{
			Key:       key,
			Timestamp: sample.Timestamp,
			Success:   sample.Success,
			Latency:   sample.Latency,
			Score:     sample.Score,
		})
	}
}

func (s *Store) append(key Key, sample Sample) {
	sr := s.get(key, true)
	sr.mu.Lock()
	sr.push(sample, s.window)
	sr.mu.Unlock()
}

func (s *Store) get(key Key, create bool) *series {
	s.mu.RLock()
	sr, ok := s.series[key]
	s.mu.RUnlock()
	if ok || !create {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok = s.series[key]; ok {
		return sr
	}
	sr = &series{}
	s.series[key] = sr
	return sr
}

func (sr *series) push(sample Sample, window int) {
	if len(sr.buf) < window {
		sr.buf = append(sr.buf, sample)
		return
	}
	sr.buf[sr.next] = sample
	sr.next = (sr.next + 1) % window
	sr.full = true
}

// snapshot returns samples oldest first.
func (sr *series) snapshot() []Sample {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	out := make([]Sample, 0, len(sr.buf))
	if sr.full {
		out = append(out, sr.buf[sr.next:]...)
		out = append(out, sr.buf[:sr.next]...)
		return out
	}
	return append(out, sr.buf...)
}

// Samples returns a copy of the key's window, oldest first.
func (s *Store) Samples(key Key) []Sample {
	sr := s.get(key, false)
	if sr == nil {
		return nil
	}
	return sr.snapshot()
}

// Count returns the number of buffered samples for key.
func (s *Store) Count(key Key) int {
	sr := s.get(key, false)
	if sr == nil {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.buf)
}

// CountSince returns the number of buffered samples for key recorded at or
// after since. A zero since counts the whole window.
func (s *Store) CountSince(key Key, since time.Time) int {
	if since.IsZero() {
		return s.Count(key)
	}
	sr := s.get(key, false)
	if sr == nil {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	n := 0
	for _, smp := range sr.buf {
		if !smp.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// Keys lists every key with at least one buffered sample.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	store.SortKeys(keys)
	return keys
}

// Reset drops the in-memory window for key. Persisted samples are kept.
func (s *Store) Reset(key Key) {
	s.mu.Lock()
	delete(s.series, key)
	s.mu.Unlock()
}

// AggregateOptions narrows the window used by Aggregate.
type AggregateOptions struct {
	// LastN limits the computation to the newest N samples. Zero uses the
	// full window.
	LastN int
	// Since drops samples recorded before it.
	Since time.Time
}

// Aggregate summarizes the key's recent samples. Error rate is failed over
// total; p50 and average latency consider successful samples only (average
// falls back to all samples when none succeeded); average score covers
// every sample. With no samples it returns health.Empty().
func (s *Store) Aggregate(key Key, opts AggregateOptions) health.Aggregate {
	return Summarize(s.Samples(key), opts)
}

// Summarize computes an aggregate over samples ordered oldest first.
func Summarize(all []Sample, opts AggregateOptions) health.Aggregate {
	window := all
	if !opts.Since.IsZero() {
		window = window[:0:0]
		for _, smp := range all {
			if !smp.Timestamp.Before(opts.Since) {
				window = append(window, smp)
			}
		}
	}
	if opts.LastN > 0 && len(window) > opts.LastN {
		window = window[len(window)-opts.LastN:]
	}
	if len(window) == 0 {
		return health.Empty()
	}

	var (
		failed     int
		scoreSum   float64
		okLatency  []time.Duration
		allLatency time.Duration
	)
	for _, smp := range window {
		scoreSum += smp.Score
		allLatency += smp.Latency
		if smp.Success {
			okLatency = append(okLatency, smp.Latency)
		} else {
			failed++
		}
	}

	n := len(window)
	agg := health.Aggregate{
		ErrorRate:   float64(failed) / float64(n),
		SuccessRate: float64(n-failed) / float64(n),
		AvgScore:    scoreSum / float64(n),
		Count:       n,
	}
	if len(okLatency) == 0 {
		agg.AvgLatency = allLatency / time.Duration(n)
		return agg
	}

	var okSum time.Duration
	for _, l := range okLatency {
		okSum += l
	}
	agg.AvgLatency = okSum / time.Duration(len(okLatency))
	slices.Sort(okLatency)
	agg.P50Latency = okLatency[(len(okLatency)-1)/2]
	return agg
}

// Dropped reports how many samples were discarded because the persistence
// queue was full.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes pending samples to the sink and stops the writer. The sink
// itself is owned by the caller and is not closed.
func (s *Store) Close() error {
	if s.persist == nil {
		return nil
	}
	s.persist.close()
	if n := s.dropped.Load(); n > 0 {
		slog.Warn("samples dropped by persistence queue", "count", n)
	}
	return nil
}
