// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

// Package ledger allocates strictly increasing operation timestamps and
// tracks in-flight operations in the global metadata document. Writers record
// their kind and arguments before any side effect, so a crash always leaves
// an entry the recovery driver can act on.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Statuses recorded on commit.
const (
	StatusSuccess       = "success"
	StatusFailed        = "failed"
	StatusReverseFailed = "reverse_failed"
)

// Options tunes the CAS retry behaviour.
type Options struct {
	WaitTime time.Duration // sleep between CAS retries (default 100ms)
	Timeout  time.Duration // total budget per acquire/commit (default 60s)
	LogFile  string        // committed-operation log, JSON lines
}

// Ledger is the timestamp ledger over the single metadata document.
type Ledger struct {
	docs     store.DocumentStore
	waitTime time.Duration
	timeout  time.Duration
	logFile  string
	logger   *slog.Logger
}

// Entry is one in-flight operation.
type Entry struct {
	TS   uint64
	Wall time.Time
	Args []string
}

// Kind returns the operation kind (first op arg).
func (e Entry) Kind() string {
	if len(e.Args) == 0 {
		return ""
	}
	return e.Args[0]
}

// New creates a ledger over the store and ensures the metadata document
// exists.
func New(ctx context.Context, st store.Store, opts Options) (*Ledger, error) {
	if opts.WaitTime <= 0 {
		opts.WaitTime = 100 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	l := &Ledger{
		docs:     st.Documents(),
		waitTime: opts.WaitTime,
		timeout:  opts.Timeout,
		logFile:  opts.LogFile,
		logger:   slog.Default(),
	}
	if err := l.ensureMetadata(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) ensureMetadata(ctx context.Context) error {
	ok, err := l.docs.Has(ctx, store.CollMetadata, store.MetadataKey)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "checking metadata document")
	}
	if ok {
		return nil
	}

	meta := store.Metadata{
		NewTimestamp:     1,
		ActiveTimestamps: map[string]store.ActiveOp{},
		LogFile:          l.logFile,
		VectorIndices:    map[string]store.VectorIndexStat{},
	}
	data, err := store.EncodeDoc(meta)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "encoding metadata document")
	}
	_, err = l.docs.Insert(ctx, store.CollMetadata, &store.Document{Key: store.MetadataKey, Data: data})
	if err != nil && !store.IsDuplicate(err) {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "creating metadata document")
	}
	return nil
}

// Meta reads the metadata document.
func (l *Ledger) Meta(ctx context.Context) (*store.Metadata, string, error) {
	doc, err := l.docs.Get(ctx, store.CollMetadata, store.MetadataKey)
	if err != nil {
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading metadata document")
	}
	var meta store.Metadata
	if err := store.DecodeDoc(doc.Data, &meta); err != nil {
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding metadata document")
	}
	if meta.ActiveTimestamps == nil {
		meta.ActiveTimestamps = map[string]store.ActiveOp{}
	}
	if meta.VectorIndices == nil {
		meta.VectorIndices = map[string]store.VectorIndexStat{}
	}
	return &meta, doc.Rev, nil
}

// Mutate applies fn to the metadata document under a CAS retry loop. It is
// the single write path for every metadata field outside acquire/commit
// (vector index counters in particular).
func (l *Ledger) Mutate(ctx context.Context, fn func(*store.Metadata) error) error {
	deadline := time.Now().Add(l.timeout)
	for {
		meta, rev, err := l.Meta(ctx)
		if err != nil {
			return err
		}
		if err := fn(meta); err != nil {
			return err
		}
		patch, err := store.EncodeDoc(meta)
		if err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "encoding metadata document")
		}
		_, err = l.docs.Update(ctx, store.CollMetadata, store.MetadataKey, patch, rev, true)
		if err == nil {
			return nil
		}
		if !store.IsConflict(err) {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "updating metadata document")
		}
		if err := l.backoff(ctx, deadline); err != nil {
			return err
		}
	}
}

// Acquire assigns the next operation timestamp and records the operation's
// kind and arguments as in-flight.
func (l *Ledger) Acquire(ctx context.Context, opArgs []string) (uint64, error) {
	deadline := time.Now().Add(l.timeout)
	for {
		meta, rev, err := l.Meta(ctx)
		if err != nil {
			return 0, err
		}

		ts := meta.NewTimestamp
		meta.ActiveTimestamps[strconv.FormatUint(ts, 10)] = store.ActiveOp{
			Wall: time.Now().UTC(),
			Args: opArgs,
		}
		meta.NewTimestamp = ts + 1

		patch, err := store.EncodeDoc(meta)
		if err != nil {
			return 0, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "encoding metadata document")
		}
		_, err = l.docs.Update(ctx, store.CollMetadata, store.MetadataKey, patch, rev, true)
		if err == nil {
			return ts, nil
		}
		if !store.IsConflict(err) {
			return 0, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "updating metadata document")
		}
		if err := l.backoff(ctx, deadline); err != nil {
			return 0, err
		}
	}
}

// Commit removes the ledger entry for ts and, on success, appends the
// operation record to the log file. Committing an absent entry is a no-op so
// reverse paths stay idempotent.
func (l *Ledger) Commit(ctx context.Context, ts uint64, status string) error {
	key := strconv.FormatUint(ts, 10)
	var committed *store.ActiveOp

	err := l.Mutate(ctx, func(meta *store.Metadata) error {
		if op, ok := meta.ActiveTimestamps[key]; ok {
			committed = &op
			delete(meta.ActiveTimestamps, key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if committed != nil && status == StatusSuccess {
		if err := l.appendLog(ts, status, committed.Args); err != nil {
			return err
		}
	}
	return nil
}

// UpdateArgs replaces the recorded op args for an in-flight entry. Operations
// that learn their compensation inputs after acquiring (prior list-head
// counters, element keys) persist them here before any side effect.
func (l *Ledger) UpdateArgs(ctx context.Context, ts uint64, args []string) error {
	key := strconv.FormatUint(ts, 10)
	return l.Mutate(ctx, func(meta *store.Metadata) error {
		op, ok := meta.ActiveTimestamps[key]
		if !ok {
			return vaulterr.New(vaulterr.CodeLedgerEntryNotFound, "no active entry",
				vaulterr.FieldTimestamp(ts))
		}
		op.Args = args
		meta.ActiveTimestamps[key] = op
		return nil
	})
}

// IsActive reports whether ts still has a ledger entry.
func (l *Ledger) IsActive(ctx context.Context, ts uint64) (bool, error) {
	meta, _, err := l.Meta(ctx)
	if err != nil {
		return false, err
	}
	_, ok := meta.ActiveTimestamps[strconv.FormatUint(ts, 10)]
	return ok, nil
}

// Active lists all in-flight entries ordered by timestamp.
func (l *Ledger) Active(ctx context.Context) ([]Entry, error) {
	return l.list(ctx, 0)
}

// Stale lists in-flight entries whose wall-time age exceeds age.
func (l *Ledger) Stale(ctx context.Context, age time.Duration) ([]Entry, error) {
	return l.list(ctx, age)
}

func (l *Ledger) list(ctx context.Context, age time.Duration) ([]Entry, error) {
	meta, _, err := l.Meta(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-age)
	var out []Entry
	for key, op := range meta.ActiveTimestamps {
		ts, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			l.logger.Warn("skipping malformed ledger key", "key", key)
			continue
		}
		if age > 0 && op.Wall.After(cutoff) {
			continue
		}
		out = append(out, Entry{TS: ts, Wall: op.Wall, Args: op.Args})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out, nil
}

// Get returns one in-flight entry.
func (l *Ledger) Get(ctx context.Context, ts uint64) (*Entry, error) {
	meta, _, err := l.Meta(ctx)
	if err != nil {
		return nil, err
	}
	op, ok := meta.ActiveTimestamps[strconv.FormatUint(ts, 10)]
	if !ok {
		return nil, vaulterr.New(vaulterr.CodeLedgerEntryNotFound, "no active entry",
			vaulterr.FieldTimestamp(ts))
	}
	return &Entry{TS: ts, Wall: op.Wall, Args: op.Args}, nil
}

type logRecord struct {
	ID        string    `json:"id"`
	Timestamp uint64    `json:"timestamp"`
	Status    string    `json:"status"`
	Args      []string  `json:"op_args"`
	At        time.Time `json:"at"`
}

func (l *Ledger) appendLog(ts uint64, status string, args []string) error {
	if l.logFile == "" {
		return nil
	}

	rec := logRecord{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Status:    status,
		Args:      args,
		At:        time.Now().UTC(),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeLedgerLogFailure, "encoding log record")
	}

	f, err := os.OpenFile(l.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeLedgerLogFailure, "opening log file")
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeLedgerLogFailure, "appending log record")
	}
	return nil
}

// WaitTime exposes the configured retry sleep for callers sharing the same
// backoff policy (soft lock, head CAS).
func (l *Ledger) WaitTime() time.Duration { return l.waitTime }

// Timeout exposes the configured total retry budget.
func (l *Ledger) Timeout() time.Duration { return l.timeout }

func (l *Ledger) backoff(ctx context.Context, deadline time.Time) error {
	if time.Now().Add(l.waitTime).After(deadline) {
		return vaulterr.New(vaulterr.CodeLedgerAcquireTimeout, "metadata CAS retries exhausted")
	}
	select {
	case <-ctx.Done():
		return vaulterr.Wrap(ctx.Err(), vaulterr.CodeLedgerAcquireTimeout, "context cancelled during retry")
	case <-time.After(l.waitTime):
		return nil
	}
}
