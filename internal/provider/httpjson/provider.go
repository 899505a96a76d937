// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package httpjson is a generic provider adapter for inference backends
// that accept a JSON envelope over HTTP.
package httpjson

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sigil-dev/modelplane/internal/provider"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// TypeName is the provider type under which this adapter registers.
const TypeName = "httpjson"

// maxResponseBytes caps how much of an upstream response is read.
const maxResponseBytes = 16 << 20

func init() {
	provider.RegisterType(TypeName, func(name string, s provider.Settings) (provider.Provider, error) {
		return New(name, ConfigFromSettings(s))
	})
}

// Config configures one HTTP JSON backend.
type Config struct {
	// URL receives a POST per task execution.
	URL string
	// HealthURL receives a GET per health probe. Default: URL
	HealthURL string
	// Timeout bounds a single HTTP call. Default: 30 seconds
	Timeout time.Duration
	// MaxRetries bounds in-adapter retries of 5xx and network errors.
	// Fallback across providers happens in the router. Default: 0
	MaxRetries uint64
	// InitialInterval is the first retry backoff. Default: 100ms
	InitialInterval time.Duration
	Headers         map[string]string
	// ResponsePath is a gjson path selecting the result from the response
	// body. Empty keeps the whole body.
	ResponsePath string
	Breaker      BreakerConfig
}

// ConfigFromSettings reads a Config from a provider settings block.
func ConfigFromSettings(s provider.Settings) Config {
	return Config{
		URL:             s.String("url", ""),
		HealthURL:       s.String("health_url", ""),
		Timeout:         s.Duration("timeout", 0),
		MaxRetries:      uint64(max(s.Int("max_retries", 0), 0)),
		InitialInterval: s.Duration("initial_interval", 0),
		Headers:         s.StringMap("headers"),
		ResponsePath:    s.String("response_path", ""),
		Breaker: BreakerConfig{
			Timeout:     s.Duration("breaker_timeout", 0),
			MinRequests: uint32(max(s.Int("breaker_min_requests", 0), 0)),
		},
	}
}

// Provider executes tasks against an HTTP JSON endpoint.
type Provider struct {
	name    string
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

var _ provider.Provider = (*Provider)(nil)

// New creates an HTTP JSON provider. Returns an error if no URL is set.
func New(name string, cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		return nil, mperr.New(mperr.CodeConfigValidateInvalidValue, "httpjson provider requires a url",
			mperr.FieldProvider(name))
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = cfg.URL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	return &Provider{
		name:    name,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker(name, cfg.Breaker),
	}, nil
}

func (p *Provider) Name() string { return p.name }

// BreakerState reports the circuit breaker state.
func (p *Provider) BreakerState() gobreaker.State { return p.breaker.State() }

// Execute POSTs the task envelope and returns the selected response.
// 5xx and network failures are retried up to MaxRetries; 4xx responses and
// an open breaker fail immediately.
func (p *Provider) Execute(ctx context.Context, req provider.Request) (provider.Result, error) {
	body, err := envelope(req)
	if err != nil {
		return provider.Result{}, mperr.Wrap(err, mperr.CodeProviderRequestInvalid, "encoding request",
			mperr.FieldProvider(p.name))
	}

	var (
		respBody    []byte
		contentType string
	)
	operation := func() error {
		out, err := p.breaker.Execute(func() ([]byte, error) {
			b, ct, err := p.post(ctx, body)
			if err == nil {
				contentType = ct
			}
			return b, err
		})
		if err != nil {
			var re *requestError
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				return backoff.Permanent(mperr.New(mperr.CodeProviderCircuitOpen, "circuit breaker is open",
					mperr.FieldProvider(p.name)))
			case errors.As(err, &re):
				return backoff.Permanent(mperr.Wrap(err, mperr.CodeProviderRequestInvalid, "request rejected",
					mperr.FieldProvider(p.name), mperr.Field("status", re.status)))
			case ctx.Err() != nil:
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		respBody = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialInterval
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, p.cfg.MaxRetries), ctx)); err != nil {
		if mperr.CodeOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return provider.Result{}, err
		}
		return provider.Result{}, mperr.Wrap(err, mperr.CodeProviderUpstreamFailure, "calling provider",
			mperr.FieldProvider(p.name))
	}

	payload := respBody
	if p.cfg.ResponsePath != "" {
		if !gjson.ValidBytes(respBody) {
			return provider.Result{}, mperr.New(mperr.CodeProviderResponseInvalid, "response is not JSON",
				mperr.FieldProvider(p.name))
		}
		r := gjson.GetBytes(respBody, p.cfg.ResponsePath)
		if !r.Exists() {
			return provider.Result{}, mperr.New(mperr.CodeProviderResponseInvalid, "response path not found",
				mperr.FieldProvider(p.name), mperr.Field("path", p.cfg.ResponsePath))
		}
		payload = []byte(r.Raw)
		contentType = "application/json"
	}

	return provider.Result{
		Payload:     payload,
		ContentType: contentType,
		Metadata:    map[string]string{"provider": p.name},
	}, nil
}

// CheckHealth reports whether the health URL answers 2xx.
func (p *Provider) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.HealthURL, nil)
	if err != nil {
		return false
	}
	p.setHeaders(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) post(ctx context.Context, body []byte) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, "", &requestError{status: 0, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", err
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("upstream returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, "", &requestError{status: resp.StatusCode, err: fmt.Errorf("upstream rejected request with %d", resp.StatusCode)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (p *Provider) setHeaders(req *http.Request) {
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
}

// envelope wraps the task in the JSON document sent upstream. A JSON
// payload is embedded as-is; anything else is sent as a string.
func envelope(req provider.Request) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err == nil {
			doc, err = sjson.SetBytes(doc, path, value)
		}
	}
	set("id", req.ID)
	set("task_type", req.TaskType)
	if req.ModelRef != "" {
		set("model", req.ModelRef)
	}
	if req.Version != "" {
		set("version", req.Version)
	}
	if req.Deployment != "" {
		set("deployment", req.Deployment)
	}
	if len(req.Params) > 0 {
		set("params", req.Params)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case len(req.Payload) == 0:
		return doc, nil
	case gjson.ValidBytes(req.Payload):
		return sjson.SetRawBytes(doc, "payload", req.Payload)
	default:
		return sjson.SetBytes(doc, "payload", string(req.Payload))
	}
}

// requestError marks a failure caused by the request itself.
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }
