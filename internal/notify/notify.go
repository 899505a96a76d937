// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package notify delivers admin notifications about promotions and
// rollbacks. Delivery is best effort: callers wrap notifiers in Async so a
// slow or failing channel never blocks or fails the operation that raised
// the notification.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Message is one admin notification.
type Message struct {
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Fields  map[string]string `json:"fields,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

// Notifier delivers messages to an admin channel.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"subject", msg.Subject, "body", msg.Body}
	for k, v := range msg.Fields {
		args = append(args, k, v)
	}
	logger.Info("admin notification", args...)
	return nil
}

// Multi fans a message out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }
