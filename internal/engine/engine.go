// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

// Package engine composes the ledger, name registry, soft lock, and edge
// manager into compound operations, each wrapped with its compensation. A
// failed step never leaves partial state behind: the registered reverse runs
// under the same timestamp, and the recovery driver replays the same reverse
// for operations that crashed mid-flight.
package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Operation kinds recorded as the first op arg in the ledger.
const (
	OpCreateItemList   = "create_item_list"
	OpAppendItem       = "append_item"
	OpAddDescription   = "add_description_inner"
	OpDeleteItemList   = "delete_item_list"
	OpSessionCodeEnd   = "session_add_code_end"
	OpSessionResume    = "session_resume_request"
	OpSessionStopPause = "session_stop_pause_request"
	opRecovery         = "recovery"
)

// SessionRef identifies the session cell an operation runs inside. The
// controller provides it so new items and elements get session-parent edges.
type SessionRef struct {
	Name      string
	CellIndex int
}

// Options tunes the engine.
type Options struct {
	// VectorRebuildThreshold is the insert deficit that triggers an index
	// rebuild (default 10 000).
	VectorRebuildThreshold int64
	NLists                 int
	DefaultNProbe          int
	TrainingIterations     int
}

// Engine is the write-path operation engine.
type Engine struct {
	st     store.Store
	led    *ledger.Ledger
	logger *slog.Logger

	vec *vectorIndexManager

	sessionRef func() (SessionRef, bool)
	signalCont func(pid int) error

	reverses map[string]reverseFn
}

// New creates an engine over the store and ledger.
func New(st store.Store, led *ledger.Ledger, opts Options) *Engine {
	e := &Engine{
		st:     st,
		led:    led,
		logger: slog.Default(),
	}
	e.vec = newVectorIndexManager(st, led, opts)
	e.reverses = map[string]reverseFn{
		OpCreateItemList: reverseCreateItemList,
		OpAppendItem:     reverseAppendItem,
		OpAddDescription: reverseAddDescription,
		OpDeleteItemList: resumeDeleteItemList,
		OpSessionCodeEnd: resumeSessionCodeEnd,
		OpSessionResume:  resumeSessionResume,
	}
	return e
}

// SetSessionProvider wires the current-cell lookup. fn must be safe for
// concurrent use.
func (e *Engine) SetSessionProvider(fn func() (SessionRef, bool)) {
	e.sessionRef = fn
}

// SetContSignaller wires SIGCONT delivery for resume recovery.
func (e *Engine) SetContSignaller(fn func(pid int) error) {
	e.signalCont = fn
}

// Store exposes the underlying store to read-side collaborators.
func (e *Engine) Store() store.Store { return e.st }

// Ledger exposes the timestamp ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.led }

func (e *Engine) currentSession() (SessionRef, bool) {
	if e.sessionRef == nil {
		return SessionRef{}, false
	}
	return e.sessionRef()
}

// run executes one compound operation: acquire the timestamp with the
// recorded args, run fn, and on failure invoke the kind's reverse under the
// same timestamp before committing it as failed.
func (e *Engine) run(ctx context.Context, args []string, fn func(ts uint64) error) error {
	ts, err := e.led.Acquire(ctx, args)
	if err != nil {
		return err
	}

	if err := fn(ts); err != nil {
		e.compensate(ctx, ts, args[0], err)
		if cerr := e.led.Commit(ctx, ts, ledger.StatusFailed); cerr != nil {
			e.logger.Error("committing failed operation", "timestamp", ts, "error", cerr)
		}
		return err
	}

	return e.led.Commit(ctx, ts, ledger.StatusSuccess)
}

func (e *Engine) compensate(ctx context.Context, ts uint64, kind string, cause error) {
	rev, ok := e.reverses[kind]
	if !ok {
		return
	}
	entry, err := e.led.Get(ctx, ts)
	if err != nil {
		e.logger.Error("loading ledger entry for reverse", "timestamp", ts, "error", err)
		return
	}
	if err := rev(ctx, e, *entry); err != nil {
		e.logger.Error("reverse failed", "timestamp", ts, "kind", kind,
			"cause", cause, "error", err)
	}
}

// readItem loads and decodes an item descriptor.
func (e *Engine) readItem(ctx context.Context, name string) (*store.Item, string, error) {
	doc, err := e.st.Documents().Get(ctx, store.CollItems, name)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, "", vaulterr.New(vaulterr.CodeStoreItemNotFound, "item does not exist",
				vaulterr.FieldItem(name))
		}
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading item descriptor",
			vaulterr.FieldItem(name))
	}
	var item store.Item
	if err := store.DecodeDoc(doc.Data, &item); err != nil {
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding item descriptor",
			vaulterr.FieldItem(name))
	}
	return &item, doc.Rev, nil
}

// readHead loads and decodes a list head.
func (e *Engine) readHead(ctx context.Context, listColl, name string) (*store.ListHead, string, error) {
	doc, err := e.st.Documents().Get(ctx, listColl, name)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, "", vaulterr.New(vaulterr.CodeStoreItemNotFound, "list head does not exist",
				vaulterr.FieldItem(name), vaulterr.FieldCollection(listColl))
		}
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading list head",
			vaulterr.FieldItem(name))
	}
	var head store.ListHead
	if err := store.DecodeDoc(doc.Data, &head); err != nil {
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding list head",
			vaulterr.FieldItem(name))
	}
	return &head, doc.Rev, nil
}

// patchHead merges patch into the list head under a revision CAS retry loop.
// Interrupt requests may bump the revision concurrently even while the soft
// lock is held, so conflicts are re-read rather than failed.
func (e *Engine) patchHead(ctx context.Context, listColl, name string, patch map[string]any) error {
	deadline := time.Now().Add(e.led.Timeout())
	for {
		doc, err := e.st.Documents().Get(ctx, listColl, name)
		if err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading list head",
				vaulterr.FieldItem(name))
		}
		_, err = e.st.Documents().Update(ctx, listColl, name, patch, doc.Rev, true)
		if err == nil {
			return nil
		}
		if !store.IsConflict(err) {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "updating list head",
				vaulterr.FieldItem(name))
		}
		if time.Now().Add(e.led.WaitTime()).After(deadline) {
			return vaulterr.New(vaulterr.CodeStoreUpdateConflict, "list head CAS retries exhausted",
				vaulterr.FieldItem(name))
		}
		select {
		case <-ctx.Done():
			return vaulterr.Wrap(ctx.Err(), vaulterr.CodeStoreUpdateConflict, "cancelled updating list head")
		case <-time.After(e.led.WaitTime()):
		}
	}
}

// bumpVersion advances the descriptor's mutation counter.
func (e *Engine) bumpVersion(ctx context.Context, name string) error {
	patch := map[string]any{"version": time.Now().UnixNano()}
	_, err := e.st.Documents().Update(ctx, store.CollItems, name, patch, "", true)
	if err != nil && !store.IsNotFound(err) {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "bumping item version",
			vaulterr.FieldItem(name))
	}
	return nil
}

func tsKey(ts uint64) string { return strconv.FormatUint(ts, 10) }
