// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vaultml/vault/internal/secrets"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Config is the top-level Vault configuration.
type Config struct {
	Identity IdentityConfig `mapstructure:"identity"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Vectors  VectorsConfig  `mapstructure:"vectors"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Server   ServerConfig   `mapstructure:"server"`
}

// IdentityConfig names the principal and session this process acts as.
type IdentityConfig struct {
	UserID      string `mapstructure:"user_id"`
	SessionName string `mapstructure:"session_name"`
}

// StorageConfig selects and locates the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	// Database names the logical database inside the backend path.
	Database string `mapstructure:"database"`
	// CredentialsRef resolves through the secrets layer for backends that
	// need them; the sqlite backend ignores it.
	CredentialsRef string `mapstructure:"credentials_ref"`
}

// LedgerConfig tunes the timestamp ledger's retry behaviour and the
// committed-operation log.
type LedgerConfig struct {
	WaitTime time.Duration `mapstructure:"wait_time"`
	Timeout  time.Duration `mapstructure:"timeout"`
	LogFile  string        `mapstructure:"log_file"`
}

// VectorsConfig tunes embedding handling.
type VectorsConfig struct {
	// DescriptionDim is the embedding size descriptions are produced with.
	DescriptionDim int `mapstructure:"description_dim"`
	// RebuildThreshold is the insert deficit that triggers an index rebuild.
	RebuildThreshold int64 `mapstructure:"rebuild_threshold"`
}

// RecoveryConfig controls the startup recovery pass.
type RecoveryConfig struct {
	// Interval is the minimum wall-time age before an in-flight operation is
	// considered abandoned.
	Interval time.Duration `mapstructure:"interval"`
	// OnStart runs one recovery pass during startup.
	OnStart bool `mapstructure:"on_start"`
}

// ServerConfig controls the read-only query API.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix VAULT_).
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithSecrets is Load plus a post-read pass that resolves keyring://
// references through the given secret store.
func LoadWithSecrets(path string, ks secrets.Store) (*Config, error) {
	return load(path, ks)
}

func load(path string, ks secrets.Store) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("identity.user_id", "default")
	v.SetDefault("identity.session_name", "")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.database", "vault")
	v.SetDefault("ledger.wait_time", "100ms")
	v.SetDefault("ledger.timeout", "60s")
	v.SetDefault("vectors.description_dim", 0)
	v.SetDefault("vectors.rebuild_threshold", 10000)
	v.SetDefault("recovery.interval", "5m")
	v.SetDefault("recovery.on_start", true)
	v.SetDefault("server.listen", "127.0.0.1:18790")

	// Environment
	v.SetEnvPrefix("VAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue, "reading config %s: %w", path, err)
		}
	}

	if ks != nil {
		if err := secrets.ResolveViperSecrets(v, ks); err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeSecretResolveFailure, "resolving config secrets")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns a slice of
// all validation errors found, collecting all issues rather than stopping at
// the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateIdentity()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateLedger()...)
	errs = append(errs, c.validateVectors()...)
	errs = append(errs, c.validateServer()...)

	return errs
}

func (c *Config) validateIdentity() []error {
	var errs []error

	if c.Identity.UserID == "" {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: identity.user_id must not be empty"))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	if c.Storage.Database == "" {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: storage.database must not be empty"))
	}

	return errs
}

func (c *Config) validateLedger() []error {
	var errs []error

	if c.Ledger.WaitTime <= 0 {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: ledger.wait_time must be greater than 0, got %s",
			c.Ledger.WaitTime,
		))
	}

	if c.Ledger.Timeout <= c.Ledger.WaitTime {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: ledger.timeout must be greater than ledger.wait_time, got %s",
			c.Ledger.Timeout,
		))
	}

	return errs
}

func (c *Config) validateVectors() []error {
	var errs []error

	if c.Vectors.DescriptionDim < 0 {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: vectors.description_dim must not be negative, got %d",
			c.Vectors.DescriptionDim,
		))
	}

	if c.Vectors.RebuildThreshold <= 0 {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: vectors.rebuild_threshold must be greater than 0, got %d",
			c.Vectors.RebuildThreshold,
		))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q",
			portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, vaulterr.Errorf(vaulterr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d",
			port,
		))
	}

	return errs
}
