// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/zalando/go-keyring"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// indexSuffix names the entry holding a service's key list. go-keyring
// cannot enumerate entries, so KeyringStore maintains the list itself.
const indexSuffix = "::index"

// KeyringStore keeps secrets in the OS keyring: Keychain on macOS,
// secret-service on Linux, Credential Manager on Windows.
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Set(service, key, value string) error {
	if err := checkName("set", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return mperr.Wrap(err, mperr.CodeSecretStoreFailure, "storing secret", secretField(service, key))
	}
	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Get(service, key string) (string, error) {
	if err := checkName("get", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", mperr.New(mperr.CodeSecretNotFound, "secret not found", secretField(service, key))
	case err != nil:
		return "", mperr.Wrap(err, mperr.CodeSecretStoreFailure, "reading secret", secretField(service, key))
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkName("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return mperr.New(mperr.CodeSecretNotFound, "secret not found", secretField(service, key))
	case err != nil:
		return mperr.Wrap(err, mperr.CodeSecretDeleteFailure, "deleting secret", secretField(service, key))
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeSecretListFailure, "reading key index", mperr.Field("service", service))
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, mperr.Wrap(err, mperr.CodeSecretListFailure, "decoding key index", mperr.Field("service", service))
	}
	return keys, nil
}

func (s *KeyringStore) updateIndex(service string, edit func([]string) []string) error {
	keys, err := s.List(service)
	if err != nil {
		return err
	}
	keys = edit(keys)

	indexKey := service + indexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return mperr.Wrap(err, mperr.CodeSecretListFailure, "encoding key index", mperr.Field("service", service))
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return mperr.Wrap(err, mperr.CodeSecretListFailure, "writing key index", mperr.Field("service", service))
	}
	return nil
}

func checkName(op, service, key string) error {
	if service == "" || key == "" {
		return mperr.Errorf(mperr.CodeSecretInvalidInput, "secret %s: service and key must not be empty", op)
	}
	return nil
}

func secretField(service, key string) mperr.Attr {
	return mperr.Field("secret", service+"/"+key)
}
