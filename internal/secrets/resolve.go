// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// RefScheme prefixes config values that name a keyring entry.
const RefScheme = "keyring://"

// Ref points at one secret: keyring://<service>/<key>.
type Ref struct {
	Service string
	Key     string
}

func (r Ref) String() string {
	return RefScheme + r.Service + "/" + r.Key
}

// ParseRef reports whether value is a keyring reference and, if so, splits
// it. A value carrying the scheme but no service or key is an error.
func ParseRef(value string) (Ref, bool, error) {
	rest, ok := strings.CutPrefix(value, RefScheme)
	if !ok {
		return Ref{}, false, nil
	}
	service, key, found := strings.Cut(rest, "/")
	if !found || service == "" || key == "" {
		return Ref{}, true, mperr.New(mperr.CodeSecretInvalidInput,
			"keyring reference must be keyring://service/key", mperr.Field("ref", value))
	}
	return Ref{Service: service, Key: key}, true, nil
}

// HasRefs reports whether any string value in v is a keyring reference.
func HasRefs(v *viper.Viper) bool {
	for _, key := range v.AllKeys() {
		if s, ok := v.Get(key).(string); ok && strings.HasPrefix(s, RefScheme) {
			return true
		}
	}
	return false
}

// ResolveViper replaces every keyring reference in v with the secret it
// names. Non-string values are left alone. All failing keys are reported
// together, each naming the config key and the reference.
func ResolveViper(v *viper.Viper, store Store) error {
	keys := v.AllKeys()
	sort.Strings(keys)

	var failures []string
	for _, key := range keys {
		raw, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		ref, isRef, err := ParseRef(raw)
		if !isRef {
			continue
		}
		if err == nil {
			var secret string
			if secret, err = store.Get(ref.Service, ref.Key); err == nil {
				v.Set(key, secret)
				continue
			}
		}
		failures = append(failures, fmt.Sprintf("%s (%s): %v", key, raw, err))
	}
	if len(failures) > 0 {
		return mperr.Errorf(mperr.CodeSecretResolveFailure,
			"resolving config secrets: %s", strings.Join(failures, "; "))
	}
	return nil
}
