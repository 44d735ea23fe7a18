// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"
	"slices"
	"time"

	"github.com/vaultml/vault/internal/ledger"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// RecoveryReport summarizes one recovery pass.
type RecoveryReport struct {
	Examined  int
	Recovered []uint64
	Failed    []uint64
}

// Recover scans ledger entries older than interval and dispatches each to its
// registered reverse or resume routine. Recovery takes its own supervisory
// timestamp so concurrent passes observe each other; passing interval 0
// recovers everything currently in flight. A non-empty only list restricts
// the pass to those timestamps.
func (e *Engine) Recover(ctx context.Context, interval time.Duration, only ...uint64) (*RecoveryReport, error) {
	superTS, err := e.led.Acquire(ctx, []string{opRecovery})
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{}
	var firstErr error

	entries, err := e.led.Stale(ctx, interval)
	if err != nil {
		if cerr := e.led.Commit(ctx, superTS, ledger.StatusFailed); cerr != nil {
			e.logger.Error("committing recovery timestamp", "timestamp", superTS, "error", cerr)
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.TS == superTS {
			continue
		}
		if len(only) > 0 && !slices.Contains(only, entry.TS) {
			continue
		}
		report.Examined++

		if err := e.recoverOne(ctx, entry); err != nil {
			report.Failed = append(report.Failed, entry.TS)
			e.logger.Error("recovering operation", "timestamp", entry.TS,
				"kind", entry.Kind(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		report.Recovered = append(report.Recovered, entry.TS)
	}

	if err := e.led.Commit(ctx, superTS, ledger.StatusSuccess); err != nil {
		return report, err
	}
	if firstErr != nil {
		return report, vaulterr.Wrap(firstErr, vaulterr.CodeEngineRecoveryFailure, "recovery pass completed with failures")
	}
	return report, nil
}

// recoverOne dispatches a single stale entry. The commit status depends on
// the kind: rollbacks record the original operation as failed (appends as
// reverse_failed, the historical status for a rolled-back append), while
// resumed operations complete and commit as success.
func (e *Engine) recoverOne(ctx context.Context, entry ledger.Entry) error {
	kind := entry.Kind()

	status := ledger.StatusSuccess
	switch kind {
	case OpCreateItemList, OpAddDescription:
		status = ledger.StatusFailed
	case OpAppendItem:
		status = ledger.StatusReverseFailed
	case OpDeleteItemList, OpSessionCodeEnd, OpSessionResume:
		// Forward-completed below; commits as success.
	case OpSessionStopPause, opRecovery:
		// The request itself is idempotent (or supervisory): nothing to
		// undo, just release the entry.
		return e.led.Commit(ctx, entry.TS, ledger.StatusSuccess)
	default:
		e.logger.Warn("ledger entry with unknown kind left in place",
			"timestamp", entry.TS, "kind", kind)
		return nil
	}

	rev, ok := e.reverses[kind]
	if !ok {
		return vaulterr.New(vaulterr.CodeEngineRecoveryFailure, "no reverse registered",
			vaulterr.FieldTimestamp(entry.TS), vaulterr.FieldOperation(kind))
	}
	if err := rev(ctx, e, entry); err != nil {
		return err
	}
	return e.led.Commit(ctx, entry.TS, status)
}
