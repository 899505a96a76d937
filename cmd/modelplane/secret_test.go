// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

func TestSecretCommands(t *testing.T) {
	keyring.MockInit()
	env := newTestEnv(t, "")

	out := env.mustRun(t, "secret", "list")
	assert.Contains(t, out, "no secrets stored under modelplane")

	out = env.mustRun(t, "secret", "set", "openai", "--value", "sk-test")
	assert.Equal(t, "stored keyring://modelplane/openai\n", out)

	out = env.mustRun(t, "secret", "list", "-o", "json")
	assert.JSONEq(t, `["keyring://modelplane/openai"]`, out)

	out = env.mustRun(t, "secret", "delete", "openai")
	assert.Contains(t, out, "deleted keyring://modelplane/openai")

	_, err := env.run(t, "secret", "delete", "openai")
	assert.True(t, mperr.HasCode(err, mperr.CodeSecretNotFound))
}

func TestSecretSet_FromStdin(t *testing.T) {
	keyring.MockInit()
	env := newTestEnv(t, "")

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader("from-stdin\n"))
	root.SetArgs([]string{"--config", env.configPath, "secret", "set", "hook", "--service", "ops"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "keyring://ops/hook")

	got, err := keyring.Get("ops", "hook")
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", got)

	root = NewRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(""))
	root.SetArgs([]string{"--config", env.configPath, "secret", "set", "empty"})
	err = root.Execute()
	assert.True(t, mperr.HasCode(err, mperr.CodeCLIInputInvalid))
}

func TestConfigResolvesKeyringRefs(t *testing.T) {
	keyring.MockInit()
	env := newTestEnv(t, "notify:\n  webhook_url: keyring://modelplane/hook\n")

	// A dangling reference fails config load for normal commands but not
	// for the secret commands that would fix it.
	_, err := env.run(t, "version", "list")
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeSecretResolveFailure))
	assert.Contains(t, err.Error(), "notify.webhook_url")

	env.mustRun(t, "secret", "set", "hook", "--value", "http://127.0.0.1:1/hook")
	env.mustRun(t, "version", "list")
}
