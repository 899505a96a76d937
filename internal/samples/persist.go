// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package samples

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigil-dev/modelplane/internal/metrics"
	"github.com/sigil-dev/modelplane/internal/store"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

const (
	defaultQueueSize     = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = time.Second
	writeTimeout         = 5 * time.Second
)

// persister drains recorded samples to a SampleStore in batches. Enqueue
// never blocks: when the queue is full the sample is dropped and counted.
type persister struct {
	sink     store.SampleStore
	queue    chan store.SampleRecord
	batch    int
	interval time.Duration
	dropped  *atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

func newPersister(opts Options, dropped *atomic.Int64) *persister {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	p := &persister{
		sink:     opts.Sink,
		queue:    make(chan store.SampleRecord, size),
		batch:    batch,
		interval: interval,
		dropped:  dropped,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(r store.SampleRecord) {
	select {
	case <-p.done:
		p.drop()
		return
	default:
	}
	select {
	case p.queue <- r:
	default:
		p.drop()
	}
}

func (p *persister) drop() {
	p.dropped.Add(1)
	metrics.SamplesDropped.Inc()
}

func (p *persister) run() {
	defer close(p.stopped)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	pending := make([]store.SampleRecord, 0, p.batch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := p.sink.AppendSamples(ctx, pending); err != nil {
			slog.Warn("persisting samples failed", "count", len(pending),
				"error", mperr.Wrap(err, mperr.CodeSamplesPersistFailure, "appending samples"))
		}
		pending = pending[:0]
	}

	for {
		select {
		case r := <-p.queue:
			pending = append(pending, r)
			if len(pending) >= p.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.done:
			for {
				select {
				case r := <-p.queue:
					pending = append(pending, r)
					if len(pending) >= p.batch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (p *persister) close() {
	p.closeOnce.Do(func() { close(p.done) })
	<-p.stopped
}

// Warm loads the newest window of samples for every persisted key into
// memory. Call it before serving so aggregates survive restarts.
func (s *Store) Warm(ctx context.Context, src store.SampleStore) error {
	keys, err := src.ListKeys(ctx)
	if err != nil {
		return mperr.Wrap(err, mperr.CodeSamplesPersistFailure, "listing persisted sample keys")
	}

	loaded := 0
	for _, key := range keys {
		records, err := src.ListSamples(ctx, store.SampleQuery{Key: key, Limit: s.window})
		if err != nil {
			return mperr.Wrap(err, mperr.CodeSamplesPersistFailure, "loading persisted samples",
				mperr.Field("key", key.String()))
		}
		for _, r := range records {
			s.append(key, Sample{
				Timestamp: r.Timestamp,
				Success:   r.Success,
				Latency:   r.Latency,
				Score:     r.Score,
			})
		}
		loaded += len(records)
	}

	slog.Debug("sample windows warmed", "keys", len(keys), "samples", loaded)
	return nil
}
