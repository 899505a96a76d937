// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/modelplane/internal/config"
	"github.com/sigil-dev/modelplane/internal/notify"
	"github.com/sigil-dev/modelplane/internal/router"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

func loadTestConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modelplane.yaml")
	full := "data_dir: " + filepath.Join(t.TempDir(), "data") + "\nsamples:\n  persist: false\n" + body
	require.NoError(t, os.WriteFile(path, []byte(full), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestWirePlane_RoutesThroughHTTPProvider(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":"cat"}`))
	}))
	t.Cleanup(upstream.Close)

	cfg := loadTestConfig(t, `
providers:
  echo:
    type: httpjson
    settings:
      url: `+upstream.URL+`
routing:
  rules:
    infer: [echo]
`)

	plane, err := WirePlane(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = plane.Close() })

	require.Len(t, plane.Registry.Handles(), 1)
	assert.Equal(t, []string{"echo"}, plane.Registry.Rule("infer"))

	out, err := plane.Router.ExecuteWithFallback(context.Background(), router.Task{
		TaskType: "infer",
		Payload:  []byte(`{"text":"meow"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "echo", out.Provider)
	assert.JSONEq(t, `{"label":"cat"}`, string(out.Result.Payload))

	rec := httptest.NewRecorder()
	plane.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"echo"`)

	metrics := plane.Prober.ProbeOnce(context.Background())
	require.Len(t, metrics, 1)
	assert.True(t, metrics[0].Healthy)
}

func TestWirePlane_UnknownProviderType(t *testing.T) {
	cfg := loadTestConfig(t, `
providers:
  mystery:
    type: carrier-pigeon
`)
	_, err := WirePlane(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeProviderTypeUnsupported))
}

func TestWireCore_PersistenceBackends(t *testing.T) {
	cfg := loadTestConfig(t, "")
	cfg.Samples.Persist = true
	cfg.Samples.Backend = "memory"

	core, err := WireCore(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.NotNil(t, core.Sink)
	require.NoError(t, core.Close())

	cfg.Samples.Backend = "etcd"
	_, err = WireCore(context.Background(), cfg, false)
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeStoreBackendUnsupported))
}

func TestNewNotifier(t *testing.T) {
	n, async := newNotifier(config.NotifyConfig{})
	assert.IsType(t, notify.LogNotifier{}, n)
	assert.Nil(t, async)

	n, async = newNotifier(config.NotifyConfig{WebhookURL: "http://127.0.0.1:1/hook", QueueSize: 4})
	require.NotNil(t, async)
	t.Cleanup(func() { _ = async.Close() })
	multi, ok := n.(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}
