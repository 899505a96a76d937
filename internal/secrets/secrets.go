// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps provider credentials and webhook tokens out of the
// config file. Config values of the form keyring://service/key are replaced
// with the secret stored under that name before the config is decoded.
package secrets

// DefaultService is the keyring service modelplane stores its own secrets
// under.
const DefaultService = "modelplane"

// Store is a named secret backend.
type Store interface {
	Set(service, key, value string) error
	// Get fails with CodeSecretNotFound when the key does not exist.
	Get(service, key string) (string, error)
	// Delete fails with CodeSecretNotFound when the key does not exist.
	Delete(service, key string) error
	// List returns the key names stored under service, in insertion order.
	List(service string) ([]string, error)
}
