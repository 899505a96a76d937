// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

//go:embed modelplane.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/modelplane/modelplane.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", mperr.Wrap(err, mperr.CodeConfigLoadReadFailure, "resolving home directory")
	}
	return filepath.Join(home, ".config", "modelplane", "modelplane.yaml"), nil
}

// BootstrapConfig writes the default commented config to path if it does
// not already exist. Returns true when the file was written. Failures are
// logged at debug level and skipped.
func BootstrapConfig(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return false
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return false
	}

	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", path, "error", err)
		return false
	}

	slog.Info("created default config", "path", path)
	return true
}
