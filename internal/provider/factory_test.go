// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sigil-dev/modelplane/internal/provider"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_RegisterAndNew(t *testing.T) {
	provider.RegisterType("test-mock", func(name string, s provider.Settings) (provider.Provider, error) {
		if s.String("fail", "") != "" {
			return nil, errors.New("bad settings")
		}
		return newMockProvider(name, true), nil
	})
	assert.Contains(t, provider.Types(), "test-mock")

	p, err := provider.New("test-mock", "primary", nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name())

	_, err = provider.New("test-mock", "primary", provider.Settings{"fail": "yes"})
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeProviderTypeUnsupported))

	_, err = provider.New("nope", "x", nil)
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeProviderTypeUnsupported))
	assert.Equal(t, "nope", mperr.FieldsOf(err)["type"])
}

func TestSettings_Coercion(t *testing.T) {
	s := provider.Settings{
		"url":     "http://localhost:9000",
		"retries": "3",
		"port":    8080,
		"timeout": "2s",
		"bogus":   "not-a-number",
		"headers": map[string]any{"X-Api-Key": "k", "X-Num": 7},
	}

	assert.Equal(t, "http://localhost:9000", s.String("url", ""))
	assert.Equal(t, "8080", s.String("port", ""))
	assert.Equal(t, "fallback", s.String("missing", "fallback"))
	assert.Equal(t, 3, s.Int("retries", 0))
	assert.Equal(t, 9, s.Int("bogus", 9))
	assert.Equal(t, 2*time.Second, s.Duration("timeout", 0))
	assert.Equal(t, time.Minute, s.Duration("missing", time.Minute))
	assert.Equal(t, map[string]string{"X-Api-Key": "k", "X-Num": "7"}, s.StringMap("headers"))
	assert.Nil(t, s.StringMap("missing"))
}
