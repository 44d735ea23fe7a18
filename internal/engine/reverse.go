// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"

	"github.com/vaultml/vault/internal/ledger"
)

// reverseFn compensates one operation given its ledger entry. The same
// registry drives the in-operation failure path and the recovery driver, so
// every reverse is idempotent and verifies ownership by timestamp before
// touching anything. Delete and the session resume kinds register their
// forward-completion here instead of a rollback.
type reverseFn func(ctx context.Context, e *Engine, entry ledger.Entry) error
