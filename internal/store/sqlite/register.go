// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"path/filepath"

	"github.com/sigil-dev/modelplane/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newSampleStore)
}

func newSampleStore(dataPath string) (store.SampleStore, error) {
	return NewSampleStore(filepath.Join(dataPath, "samples.db"))
}
