// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package secrets_test

import (
	"testing"

	"github.com/saveninja/saveninja/internal/secrets"
	snerr "github.com/saveninja/saveninja/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKeyringURI(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"valid URI", "keyring://saveninja/rapidapi-key", true},
		{"valid URI with dashes", "keyring://my-svc/my-key", true},
		{"env var reference", "${RAPIDAPI_KEY}", false},
		{"literal value", "sk-abc123", false},
		{"empty string", "", false},
		{"just scheme", "keyring://", true},
		{"other scheme", "vault://secret/key", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := secrets.IsKeyringURI(tt.value)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKeyringURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		wantService string
		wantKey     string
		wantErr     bool
	}{
		{"valid", "keyring://saveninja/api-key", "saveninja", "api-key", false},
		{"dashes", "keyring://my-service/my-key-name", "my-service", "my-key-name", false},
		{"slashes in key", "keyring://saveninja/path/to/key", "saveninja", "path/to/key", false},
		{"not a keyring URI", "vault://secret/key", "", "", true},
		{"missing key", "keyring://saveninja/", "", "", true},
		{"missing service", "keyring:///key", "", "", true},
		{"missing both", "keyring://", "", "", true},
		{"no path", "keyring://saveninja", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, key, err := secrets.ParseKeyringURI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, snerr.HasCode(err, snerr.CodeSecretInvalidInput))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantService, svc)
				assert.Equal(t, tt.wantKey, key)
			}
		})
	}
}

func TestResolveKeyringURI(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("saveninja", "test-key", "resolved-secret"))

	t.Run("resolves keyring URI", func(t *testing.T) {
		val, err := secrets.ResolveKeyringURI(ks, "keyring://saveninja/test-key")
		require.NoError(t, err)
		assert.Equal(t, "resolved-secret", val)
	})

	t.Run("passes through non-keyring values", func(t *testing.T) {
		val, err := secrets.ResolveKeyringURI(ks, "literal-value")
		require.NoError(t, err)
		assert.Equal(t, "literal-value", val)
	})

	t.Run("passes through env var references", func(t *testing.T) {
		val, err := secrets.ResolveKeyringURI(ks, "${ENV_VAR}")
		require.NoError(t, err)
		assert.Equal(t, "${ENV_VAR}", val)
	})

	t.Run("error on missing secret", func(t *testing.T) {
		_, err := secrets.ResolveKeyringURI(ks, "keyring://saveninja/nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolving keyring URI")
	})

	t.Run("error on malformed URI", func(t *testing.T) {
		_, err := secrets.ResolveKeyringURI(ks, "keyring://bad")
		require.Error(t, err)
	})
}

func TestResolveAll(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("saveninja", "telegram-token", "123456:bot-secret"))
	require.NoError(t, ks.Store("saveninja", "rapidapi-key", "ra-secret"))

	botToken := "keyring://saveninja/telegram-token"
	apiKey := "keyring://saveninja/rapidapi-key"
	listen := "127.0.0.1:8750" // non-keyring value

	err := secrets.ResolveAll(ks, map[string]*string{
		"telegram.token":              &botToken,
		"providers.rapidapi.api_key":  &apiKey,
		"server.listen":               &listen,
		"providers.youtube.proxy_url": nil,
	})
	require.NoError(t, err)

	assert.Equal(t, "123456:bot-secret", botToken)
	assert.Equal(t, "ra-secret", apiKey)
	assert.Equal(t, "127.0.0.1:8750", listen)
}

func TestResolveAll_MissingSecretReturnsError(t *testing.T) {
	ks := secrets.NewKeyringStore()

	apiKey := "keyring://saveninja/nonexistent-key"
	err := secrets.ResolveAll(ks, map[string]*string{
		"providers.rapidapi.api_key": &apiKey,
	})

	// Should return an error with a clear message identifying the unresolved key.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.rapidapi.api_key")
	assert.Contains(t, err.Error(), "keyring://saveninja/nonexistent-key")
	assert.Equal(t, "keyring://saveninja/nonexistent-key", apiKey, "original value kept")
}
