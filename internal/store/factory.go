// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package store

import (
	"fmt"
	"sync"
)

// Config selects and configures a storage backend.
type Config struct {
	Backend  string // "sqlite" (default) or "memory"
	Path     string // data directory for file-backed backends
	Database string // logical database name, used to derive file paths
}

// Factory creates a Store from a backend config.
type Factory func(cfg Config) (Store, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory function for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg Config) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates a Store for the configured backend.
func Open(cfg Config) (Store, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %q", backend)
	}

	return factory(cfg)
}
