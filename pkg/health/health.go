// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package health

import "time"

// Snapshot exposes the current state of a vault for monitoring and
// operator visibility. All fields are point-in-time values safe
// to serialize to JSON.
type Snapshot struct {
	Status           string     `json:"status"`
	Backend          string     `json:"backend"`
	ActiveOperations int        `json:"active_operations"`
	OldestActiveAt   *time.Time `json:"oldest_active_at,omitempty"`
}
