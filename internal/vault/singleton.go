// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package vault

import (
	"context"
	"sync"

	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// identity is the singleton key. One process serves exactly one
// (user, session, database, endpoint) combination at a time.
type identity struct {
	user     string
	session  string
	database string
	endpoint string
}

var (
	singletonMu sync.Mutex
	singleton   *Vault
	singletonID identity
)

func identityOf(opts Options) identity {
	return identity{
		user:     opts.UserID,
		session:  opts.SessionName,
		database: opts.Store.Database,
		endpoint: opts.Store.Path,
	}
}

// Open constructs the process-wide Vault. A second call with the same
// identity returns the existing instance; a different identity fails.
func Open(ctx context.Context, opts Options) (*Vault, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	id := identityOf(opts)
	if singleton != nil {
		if singletonID == id {
			return singleton, nil
		}
		return nil, vaulterr.New(vaulterr.CodeVaultAlreadyInitialised, "vault already initialised with a different identity",
			vaulterr.Field("user", singletonID.user),
			vaulterr.Field("session", singletonID.session),
			vaulterr.Field("database", singletonID.database))
	}

	v, err := open(ctx, opts)
	if err != nil {
		return nil, err
	}
	singleton = v
	singletonID = id
	return v, nil
}

// release frees the singleton slot when its instance closes.
func release(v *Vault) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == v {
		singleton = nil
		singletonID = identity{}
	}
}
