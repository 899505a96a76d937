// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package samples_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/modelplane/internal/samples"
	"github.com/sigil-dev/modelplane/internal/store"
	"github.com/sigil-dev/modelplane/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var demoBlue = samples.Key{Provider: "hf", Model: "demo", Tag: health.TagBlue}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// -----------------------------------------------------------------------------
// Aggregation
// -----------------------------------------------------------------------------

func TestAggregate_Empty(t *testing.T) {
	s := samples.New(samples.Options{})

	agg := s.Aggregate(demoBlue, samples.AggregateOptions{})
	assert.Equal(t, 0, agg.Count)
	assert.Equal(t, 1.0, agg.ErrorRate)
	assert.Equal(t, health.Empty(), agg)
}

func TestAggregate_Mixed(t *testing.T) {
	s := samples.New(samples.Options{})
	s.Record(demoBlue, samples.Sample{Success: true, Latency: ms(10), Score: 1})
	s.Record(demoBlue, samples.Sample{Success: true, Latency: ms(30), Score: 1})
	s.Record(demoBlue, samples.Sample{Success: true, Latency: ms(20), Score: 0.5})
	s.Record(demoBlue, samples.Sample{Success: false, Latency: ms(900), Score: 0})

	agg := s.Aggregate(demoBlue, samples.AggregateOptions{})
	assert.Equal(t, 4, agg.Count)
	assert.InDelta(t, 0.25, agg.ErrorRate, 1e-9)
	assert.InDelta(t, 0.75, agg.SuccessRate, 1e-9)
	assert.Equal(t, ms(20), agg.P50Latency, "p50 ignores the failed sample")
	assert.Equal(t, ms(20), agg.AvgLatency)
	assert.InDelta(t, 0.625, agg.AvgScore, 1e-9)
}

func TestAggregate_AllFailed(t *testing.T) {
	s := samples.New(samples.Options{})
	s.Record(demoBlue, samples.Sample{Success: false, Latency: ms(100)})
	s.Record(demoBlue, samples.Sample{Success: false, Latency: ms(300)})

	agg := s.Aggregate(demoBlue, samples.AggregateOptions{})
	assert.Equal(t, 1.0, agg.ErrorRate)
	assert.Equal(t, time.Duration(0), agg.P50Latency)
	assert.Equal(t, ms(200), agg.AvgLatency)
	assert.Equal(t, 0.0, agg.AvgScore)
}

func TestAggregate_LastNAndSince(t *testing.T) {
	s := samples.New(samples.Options{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 10 {
		s.Record(demoBlue, samples.Sample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Success:   i >= 5,
			Score:     1,
		})
	}

	last := s.Aggregate(demoBlue, samples.AggregateOptions{LastN: 5})
	assert.Equal(t, 5, last.Count)
	assert.Equal(t, 0.0, last.ErrorRate)

	since := s.Aggregate(demoBlue, samples.AggregateOptions{Since: base.Add(8 * time.Minute)})
	assert.Equal(t, 2, since.Count)

	future := s.Aggregate(demoBlue, samples.AggregateOptions{Since: base.Add(time.Hour)})
	assert.Equal(t, health.Empty(), future)
}

func TestRecord_WindowEvictsOldest(t *testing.T) {
	s := samples.New(samples.Options{Window: 3})
	for i := 1; i <= 5; i++ {
		s.Record(demoBlue, samples.Sample{Latency: ms(i), Success: true})
	}

	got := s.Samples(demoBlue)
	require.Len(t, got, 3)
	assert.Equal(t, []time.Duration{ms(3), ms(4), ms(5)},
		[]time.Duration{got[0].Latency, got[1].Latency, got[2].Latency})
	assert.Equal(t, 3, s.Count(demoBlue))
}

func TestRecord_DefaultWindow(t *testing.T) {
	s := samples.New(samples.Options{})
	for range samples.DefaultWindow + 50 {
		s.Record(demoBlue, samples.Sample{Success: true})
	}
	assert.Equal(t, samples.DefaultWindow, s.Count(demoBlue))
}

func TestRecord_ConcurrentWriters(t *testing.T) {
	s := samples.New(samples.Options{Window: 10000})
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := samples.Key{Provider: "p", Model: fmt.Sprintf("m%d", w%2), Tag: health.TagBlue}
			for range 500 {
				s.Record(key, samples.Sample{Success: true, Score: 1})
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 2000, s.Count(samples.Key{Provider: "p", Model: "m0", Tag: health.TagBlue}))
	assert.Equal(t, 2000, s.Count(samples.Key{Provider: "p", Model: "m1", Tag: health.TagBlue}))
	assert.Len(t, s.Keys(), 2)
}

func TestReset(t *testing.T) {
	s := samples.New(samples.Options{})
	s.Record(demoBlue, samples.Sample{Success: true})
	s.Reset(demoBlue)

	assert.Equal(t, 0, s.Count(demoBlue))
	assert.Empty(t, s.Keys())
}

func TestCountSince(t *testing.T) {
	start := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)
	s := samples.New(samples.Options{})
	for i := range 6 {
		s.Record(demoBlue, samples.Sample{Timestamp: start.Add(time.Duration(i-3) * time.Minute)})
	}

	assert.Equal(t, 6, s.CountSince(demoBlue, time.Time{}))
	assert.Equal(t, 3, s.CountSince(demoBlue, start))
	assert.Equal(t, 0, s.CountSince(demoBlue, start.Add(time.Hour)))
	assert.Equal(t, 0, s.CountSince(samples.Key{Provider: "x", Model: "y", Tag: health.TagGreen}, start))
}

func TestRecord_StampsMissingTimestamp(t *testing.T) {
	now := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	s := samples.New(samples.Options{})
	s.SetNowFunc(func() time.Time { return now })

	s.Record(demoBlue, samples.Sample{Success: true})
	assert.Equal(t, now, s.Samples(demoBlue)[0].Timestamp)
}

// -----------------------------------------------------------------------------
// Scoring
// -----------------------------------------------------------------------------

func TestScoreInference(t *testing.T) {
	sla := 2 * time.Second
	tests := []struct {
		name string
		in   samples.Result
		want float64
	}{
		{"error", samples.Result{Err: errors.New("boom"), Latency: ms(1)}, 0},
		{"empty payload", samples.Result{Empty: true, Latency: ms(1)}, 0},
		{"slow", samples.Result{Latency: 3 * time.Second}, 0.5},
		{"at sla", samples.Result{Latency: sla}, 1},
		{"fast", samples.Result{Latency: ms(5)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, samples.ScoreInference(tt.in, sla))
		})
	}

	assert.Equal(t, 1.0, samples.ScoreInference(samples.Result{Latency: time.Hour}, 0))
}

// -----------------------------------------------------------------------------
// Persistence
// -----------------------------------------------------------------------------

func TestPersistence_FlushOnClose(t *testing.T) {
	sink := store.NewMemorySampleStore()
	s := samples.New(samples.Options{Sink: sink, FlushInterval: time.Hour})

	for range 5 {
		s.Record(demoBlue, samples.Sample{Success: true, Latency: ms(7), Score: 1})
	}
	require.NoError(t, s.Close())

	got, err := sink.ListSamples(context.Background(), store.SampleQuery{Key: demoBlue})
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, ms(7), got[0].Latency)
	assert.Equal(t, int64(0), s.Dropped())
}

func TestPersistence_FlushOnBatchSize(t *testing.T) {
	sink := store.NewMemorySampleStore()
	s := samples.New(samples.Options{Sink: sink, BatchSize: 2, FlushInterval: time.Hour})
	defer s.Close()

	s.Record(demoBlue, samples.Sample{Success: true})
	s.Record(demoBlue, samples.Sample{Success: true})

	assert.Eventually(t, func() bool {
		got, err := sink.ListSamples(context.Background(), store.SampleQuery{Key: demoBlue})
		return err == nil && len(got) == 2
	}, time.Second, 10*time.Millisecond)
}

// blockingSink stalls writes until released so the queue fills.
type blockingSink struct {
	*store.MemorySampleStore
	release chan struct{}
}

func (b *blockingSink) AppendSamples(ctx context.Context, r []store.SampleRecord) error {
	<-b.release
	return b.MemorySampleStore.AppendSamples(ctx, r)
}

func TestPersistence_DropsWhenQueueFull(t *testing.T) {
	sink := &blockingSink{MemorySampleStore: store.NewMemorySampleStore(), release: make(chan struct{})}
	s := samples.New(samples.Options{Sink: sink, QueueSize: 1, BatchSize: 1, FlushInterval: time.Hour})

	for range 50 {
		s.Record(demoBlue, samples.Sample{Success: true})
	}
	assert.Positive(t, s.Dropped())
	assert.Equal(t, 50, s.Count(demoBlue), "in-memory window is unaffected by drops")

	close(sink.release)
	require.NoError(t, s.Close())
}

func TestWarm(t *testing.T) {
	src := store.NewMemorySampleStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var batch []store.SampleRecord
	for i := range 8 {
		batch = append(batch, store.SampleRecord{
			Key:       demoBlue,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Success:   i%2 == 0,
			Score:     1,
		})
	}
	require.NoError(t, src.AppendSamples(context.Background(), batch))

	s := samples.New(samples.Options{Window: 4})
	require.NoError(t, s.Warm(context.Background(), src))

	got := s.Samples(demoBlue)
	require.Len(t, got, 4)
	assert.Equal(t, base.Add(4*time.Second), got[0].Timestamp)

	agg := s.Aggregate(demoBlue, samples.AggregateOptions{})
	assert.InDelta(t, 0.5, agg.ErrorRate, 1e-9)
}
