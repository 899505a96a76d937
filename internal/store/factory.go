// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"sort"
	"sync"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// SampleStoreFactory creates a sample store rooted at a data directory.
type SampleStoreFactory func(dataPath string) (SampleStore, error)

var (
	sampleFactories = map[string]SampleStoreFactory{}
	factoriesMu     sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f SampleStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	sampleFactories[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(sampleFactories))
	for name := range sampleFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg == nil || cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// NewSampleStore creates the sample store for the configured backend.
func NewSampleStore(cfg *StorageConfig, dataPath string) (SampleStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := sampleFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, mperr.New(mperr.CodeStoreBackendUnsupported, "unsupported storage backend",
			mperr.Field("backend", backend))
	}

	s, err := factory(dataPath)
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeStoreDatabaseFailure, "opening sample store",
			mperr.Field("backend", backend), mperr.FieldPath(dataPath))
	}
	return s, nil
}
