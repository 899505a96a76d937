// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/spf13/cast"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// Settings is the free-form configuration block of one provider entry.
// Values arrive from YAML or environment variables, so accessors coerce.
type Settings map[string]any

// String returns the setting as a string, or def when unset.
func (s Settings) String(key, def string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	return cast.ToString(v)
}

// Int returns the setting as an int, or def when unset or not numeric.
func (s Settings) Int(key string, def int) int {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

// Duration returns the setting as a duration. Bare numbers are read as
// nanoseconds by cast, so configs should use strings like "2s".
func (s Settings) Duration(key string, def time.Duration) time.Duration {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}

// StringMap returns a nested string map such as request headers.
func (s Settings) StringMap(key string) map[string]string {
	v, ok := s[key]
	if !ok || v == nil {
		return nil
	}
	return cast.ToStringMapString(v)
}

// Factory builds a provider from its configured name and settings.
type Factory func(name string, settings Settings) (Provider, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterType registers a factory for a provider type. Adapter packages
// call this from init(). This function is goroutine-safe.
func RegisterType(typeName string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[typeName] = f
}

// Types returns the registered provider type names, sorted.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a provider of the given type.
func New(typeName, name string, settings Settings) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[typeName]
	factoriesMu.RUnlock()
	if !ok {
		return nil, mperr.New(mperr.CodeProviderTypeUnsupported, "unsupported provider type: "+typeName,
			mperr.FieldProvider(name), mperr.Field("type", typeName))
	}

	p, err := f(name, settings)
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeProviderTypeUnsupported, "creating provider",
			mperr.FieldProvider(name), mperr.Field("type", typeName))
	}
	return p, nil
}
