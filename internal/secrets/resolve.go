// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package secrets

import (
	"strings"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
// Returns an error if the URI is malformed.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", snerr.Errorf(snerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	path := strings.TrimPrefix(uri, keyringScheme)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", snerr.Errorf(snerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}

	return parts[0], parts[1], nil
}

// ResolveKeyringURI resolves a single keyring:// URI to its secret value.
// Returns the original value unchanged if it is not a keyring URI.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", snerr.Wrapf(err, snerr.CodeSecretResolveFailure,
			"resolving keyring URI %q", value)
	}

	return secret, nil
}

// ResolveAll resolves every keyring:// URI among the named config
// values in place. Non-keyring values are left untouched. This is a
// post-load resolution step; the map key is the config path used in
// error messages.
func ResolveAll(store Store, values map[string]*string) error {
	for configKey, value := range values {
		if value == nil || !IsKeyringURI(*value) {
			continue
		}

		resolved, err := ResolveKeyringURI(store, *value)
		if err != nil {
			return snerr.Wrapf(err, snerr.CodeSecretResolveFailure,
				"resolving %s from %q", configKey, *value)
		}
		*value = resolved
	}
	return nil
}
