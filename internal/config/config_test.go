// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultml/vault/internal/secrets"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /var/lib/vault
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Identity.UserID)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/vault", cfg.Storage.Path)
	assert.Equal(t, "vault", cfg.Storage.Database)
	assert.Equal(t, "100ms", cfg.Ledger.WaitTime.String())
	assert.Equal(t, "1m0s", cfg.Ledger.Timeout.String())
	assert.Equal(t, int64(10000), cfg.Vectors.RebuildThreshold)
	assert.True(t, cfg.Recovery.OnStart)
	assert.Equal(t, "127.0.0.1:18790", cfg.Server.Listen)
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
identity:
  user_id: alice
  session_name: analysis
storage:
  backend: memory
  database: scratch
ledger:
  wait_time: 5ms
  timeout: 2s
vectors:
  description_dim: 384
  rebuild_threshold: 500
recovery:
  interval: 1m
  on_start: false
server:
  listen: 0.0.0.0:9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Identity.UserID)
	assert.Equal(t, "analysis", cfg.Identity.SessionName)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "scratch", cfg.Storage.Database)
	assert.Equal(t, 384, cfg.Vectors.DescriptionDim)
	assert.Equal(t, int64(500), cfg.Vectors.RebuildThreshold)
	assert.False(t, cfg.Recovery.OnStart)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeConfigValidateInvalidValue))
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VAULT_STORAGE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: postgres
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Identity: IdentityConfig{UserID: ""},
		Storage:  StorageConfig{Backend: "postgres", Database: ""},
		Ledger:   LedgerConfig{WaitTime: 0, Timeout: 0},
		Vectors:  VectorsConfig{DescriptionDim: -1, RebuildThreshold: 0},
		Server:   ServerConfig{Listen: "not-an-address"},
	}

	errs := cfg.Validate()
	assert.GreaterOrEqual(t, len(errs), 7)
}

func TestValidate_Listen(t *testing.T) {
	base := func() *Config {
		return &Config{
			Identity: IdentityConfig{UserID: "u"},
			Storage:  StorageConfig{Backend: "memory", Database: "vault"},
			Ledger:   LedgerConfig{WaitTime: 1, Timeout: 2},
			Vectors:  VectorsConfig{RebuildThreshold: 1},
		}
	}

	tests := []struct {
		name   string
		listen string
		valid  bool
	}{
		{"valid loopback", "127.0.0.1:18790", true},
		{"valid wildcard", ":8080", true},
		{"empty", "", false},
		{"no port", "localhost", false},
		{"port not a number", "localhost:http", false},
		{"port out of range", "localhost:70000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			cfg.Server.Listen = tt.listen
			errs := cfg.Validate()
			if tt.valid {
				assert.Empty(t, errs)
			} else {
				assert.NotEmpty(t, errs)
			}
		})
	}
}

// mapSecrets is an in-memory secrets.Store for resolution tests.
type mapSecrets map[string]string

func (m mapSecrets) Store(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}

func (m mapSecrets) Retrieve(service, key string) (string, error) {
	v, ok := m[service+"/"+key]
	if !ok {
		return "", vaulterr.Errorf(vaulterr.CodeSecretNotFound, "secret not found: %s/%s", service, key)
	}
	return v, nil
}

func (m mapSecrets) Delete(service, key string) error {
	delete(m, service+"/"+key)
	return nil
}

func (m mapSecrets) List(service string) ([]string, error) { return nil, nil }

var _ secrets.Store = mapSecrets{}

func TestLoadWithSecrets_ResolvesKeyringURIs(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
  credentials_ref: keyring://vault/store-credentials
`)

	ks := mapSecrets{"vault/store-credentials": "s3cret"}
	cfg, err := LoadWithSecrets(path, ks)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Storage.CredentialsRef)
}

func TestLoadWithSecrets_MissingSecret(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
  credentials_ref: keyring://vault/absent
`)

	_, err := LoadWithSecrets(path, mapSecrets{})
	require.Error(t, err)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeSecretResolveFailure))
}
