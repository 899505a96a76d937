// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sigil-dev/modelplane/internal/provider"
)

// mockProvider is a reusable provider.Provider for tests. Override
// executeFunc to script responses.
type mockProvider struct {
	name        string
	healthy     atomic.Bool
	probeDelay  time.Duration
	probes      atomic.Int32
	closed      atomic.Bool
	closeErr    error
	executeFunc func(context.Context, provider.Request) (provider.Result, error)
}

func newMockProvider(name string, healthy bool) *mockProvider {
	m := &mockProvider{name: name}
	m.healthy.Store(healthy)
	return m
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Execute(ctx context.Context, req provider.Request) (provider.Result, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, req)
	}
	return provider.Result{Payload: []byte(`{"ok":true}`), ContentType: "application/json"}, nil
}

func (m *mockProvider) CheckHealth(ctx context.Context) bool {
	m.probes.Add(1)
	if m.probeDelay > 0 {
		select {
		case <-time.After(m.probeDelay):
		case <-ctx.Done():
			return false
		}
	}
	return m.healthy.Load()
}

func (m *mockProvider) Close() error {
	m.closed.Store(true)
	return m.closeErr
}
