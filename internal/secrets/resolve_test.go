// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/sigil-dev/modelplane/internal/secrets"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		value   string
		isRef   bool
		want    secrets.Ref
		wantErr bool
	}{
		{value: "plain", isRef: false},
		{value: "keyring://modelplane/openai", isRef: true, want: secrets.Ref{Service: "modelplane", Key: "openai"}},
		{value: "keyring://svc/a/b", isRef: true, want: secrets.Ref{Service: "svc", Key: "a/b"}},
		{value: "keyring://svc", isRef: true, wantErr: true},
		{value: "keyring:///key", isRef: true, wantErr: true},
		{value: "keyring://svc/", isRef: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			ref, isRef, err := secrets.ParseRef(tt.value)
			assert.Equal(t, tt.isRef, isRef)
			if tt.wantErr {
				assert.True(t, mperr.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
			if isRef {
				assert.Equal(t, tt.value, ref.String())
			}
		})
	}
}

func TestResolveViper_ReplacesNestedRefs(t *testing.T) {
	keyring.MockInit()
	store := secrets.NewKeyringStore()
	require.NoError(t, store.Set("modelplane", "openai", "Bearer sk-live"))
	require.NoError(t, store.Set("modelplane", "hook", "https://hooks.example/abc"))

	v := viper.New()
	v.Set("providers", map[string]any{
		"openai": map[string]any{
			"type": "httpjson",
			"settings": map[string]any{
				"headers": map[string]any{"Authorization": "keyring://modelplane/openai"},
				"timeout": "5s",
			},
		},
	})
	v.Set("notify.webhook.url", "keyring://modelplane/hook")
	v.Set("samples.window", 100)

	assert.True(t, secrets.HasRefs(v))
	require.NoError(t, secrets.ResolveViper(v, store))

	assert.Equal(t, "Bearer sk-live", v.GetString("providers.openai.settings.headers.authorization"))
	assert.Equal(t, "https://hooks.example/abc", v.GetString("notify.webhook.url"))
	assert.Equal(t, "5s", v.GetString("providers.openai.settings.timeout"))
	assert.Equal(t, 100, v.GetInt("samples.window"))
	assert.False(t, secrets.HasRefs(v))
}

func TestResolveViper_ReportsEveryFailure(t *testing.T) {
	keyring.MockInit()
	store := secrets.NewKeyringStore()

	v := viper.New()
	v.Set("notify.webhook.url", "keyring://modelplane/missing")
	v.Set("providers.a.settings.token", "keyring://broken")

	err := secrets.ResolveViper(v, store)
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeSecretResolveFailure))
	assert.Contains(t, err.Error(), "notify.webhook.url")
	assert.Contains(t, err.Error(), "keyring://modelplane/missing")
	assert.Contains(t, err.Error(), "providers.a.settings.token")
}

func TestResolveViper_NoRefs(t *testing.T) {
	v := viper.New()
	v.Set("server.listen", ":8080")
	assert.False(t, secrets.HasRefs(v))
	require.NoError(t, secrets.ResolveViper(v, nil))
	assert.Equal(t, ":8080", v.GetString("server.listen"))
}
