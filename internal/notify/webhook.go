// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL string
	// Timeout bounds one POST. Default: 5 seconds
	Timeout time.Duration
	// MaxRetries bounds redelivery of 5xx and network failures. Default: 3
	MaxRetries uint64
	// InitialInterval is the first retry backoff. Default: 200ms
	InitialInterval time.Duration
}

// WebhookNotifier POSTs each message as JSON.
type WebhookNotifier struct {
	client *http.Client
	cfg    WebhookConfig
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return mperr.Wrap(err, mperr.CodeNotifyDeliveryFailure, "encoding notification")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.InitialInterval
	bo.MaxElapsedTime = 0

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("webhook rejected notification with %d", resp.StatusCode))
		}
		return nil
	}

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, w.cfg.MaxRetries), ctx))
	if err != nil {
		return mperr.Wrap(err, mperr.CodeNotifyDeliveryFailure, "delivering webhook notification",
			mperr.Field("subject", msg.Subject))
	}
	return nil
}
