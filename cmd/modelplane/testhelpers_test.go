// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv is an isolated data directory with a config file pointing at it.
type testEnv struct {
	dataDir    string
	configPath string
}

// newTestEnv writes a config with the given extra YAML appended.
// Persistence is off unless extra turns it on.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	env := &testEnv{
		dataDir:    filepath.Join(dir, "data"),
		configPath: filepath.Join(dir, "modelplane.yaml"),
	}
	body := "data_dir: " + env.dataDir + "\nlogging:\n  level: error\n"
	if !strings.Contains(extra, "samples:") {
		body += "samples:\n  persist: false\n"
	}
	body += extra
	require.NoError(t, os.WriteFile(env.configPath, []byte(body), 0o600))
	return env
}

// run executes the CLI with the env's config and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--config", e.configPath}, args...)...)
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, "modelplane %s", strings.Join(args, " "))
	return out
}

// stage stages one small artifact per tag for hf/demo.
func (e *testEnv) stage(t *testing.T, tags ...string) {
	t.Helper()
	for _, tag := range tags {
		src := filepath.Join(t.TempDir(), "weights.bin")
		require.NoError(t, os.WriteFile(src, []byte("w-"+tag), 0o644))
		e.mustRun(t, "version", "stage", "hf", "demo", tag, "--source", src)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
