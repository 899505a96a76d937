// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sigil-dev/modelplane/internal/metrics"
)

// Async delivers messages from a bounded queue on a background goroutine.
// Notify never blocks and never returns an error; a full queue drops the
// message and logs it.
type Async struct {
	next    Notifier
	timeout time.Duration
	queue   chan Message

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewAsync starts the delivery goroutine. Close drains and stops it.
func NewAsync(next Notifier, queueSize int, timeout time.Duration) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		queue:   make(chan Message, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, msg Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	select {
	case <-a.done:
		a.dropped(msg, "closed")
		return nil
	default:
	}
	select {
	case a.queue <- msg:
	default:
		a.dropped(msg, "queue full")
	}
	return nil
}

func (a *Async) dropped(msg Message, reason string) {
	metrics.NotificationsDropped.Inc()
	slog.Warn("admin notification dropped", "subject", msg.Subject, "reason", reason)
}

func (a *Async) run() {
	defer close(a.stopped)
	for {
		select {
		case msg := <-a.queue:
			a.deliver(msg)
		case <-a.done:
			for {
				select {
				case msg := <-a.queue:
					a.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.next.Notify(ctx, msg); err != nil {
		slog.Warn("admin notification failed", "subject", msg.Subject, "error", err)
	}
}

// Close delivers queued messages and stops the worker.
func (a *Async) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	<-a.stopped
	return nil
}
