// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// groupOrOtherRead covers the group and world read bits.
const groupOrOtherRead fs.FileMode = 0o044

// InsecurePermissions reports whether the file at path is readable by
// group or other users.
func InsecurePermissions(path string) (fs.FileMode, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false, err
	}
	mode := info.Mode()
	return mode, mode.Perm()&groupOrOtherRead != 0, nil
}

// WarnInsecurePermissions logs a warning when the config file is group- or
// world-readable. Provider settings and webhook URLs often carry
// credentials. It never fails startup.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}

	mode, insecure, err := InsecurePermissions(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return
	}
	if insecure {
		slog.Warn("config file has insecure permissions; provider credentials may be exposed",
			"path", path,
			"mode", mode,
			"recommended", "0600",
		)
	}
}
