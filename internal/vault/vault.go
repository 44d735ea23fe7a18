// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

// Package vault is the public facade: one object owning the store, the
// ledger, the operation engine, the query model, the retrieval planner, and
// the session controller, constructed once per process identity.
package vault

import (
	"context"
	"time"

	"github.com/vaultml/vault/internal/engine"
	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/lineage"
	"github.com/vaultml/vault/internal/retrieval"
	"github.com/vaultml/vault/internal/session"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Options configures a Vault.
type Options struct {
	UserID      string
	SessionName string

	Store store.Config

	// DescriptionDim is the embedding size descriptions are produced with;
	// zero disables the check.
	DescriptionDim int

	LogFile string

	// Ledger retry tuning; zero values take the defaults.
	WaitTime time.Duration
	Timeout  time.Duration

	// Vector index tuning.
	VectorRebuildThreshold int64

	// Signaller overrides signal delivery, for tests.
	Signaller session.Signaller

	// SkipSession leaves the session controller unbound; writes then carry
	// no session-parent edges. Used by the read-only server and the CLI.
	SkipSession bool
}

// Vault is the assembled system.
type Vault struct {
	opts Options

	st      store.Store
	led     *ledger.Ledger
	eng     *engine.Engine
	query   *lineage.Query
	planner *retrieval.Planner
	ctl     *session.Controller

	closed bool
}

func open(ctx context.Context, opts Options) (*Vault, error) {
	st, err := store.Open(opts.Store)
	if err != nil {
		return nil, err
	}

	led, err := ledger.New(ctx, st, ledger.Options{
		WaitTime: opts.WaitTime,
		Timeout:  opts.Timeout,
		LogFile:  opts.LogFile,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	eng := engine.New(st, led, engine.Options{
		VectorRebuildThreshold: opts.VectorRebuildThreshold,
	})

	v := &Vault{
		opts:    opts,
		st:      st,
		led:     led,
		eng:     eng,
		query:   lineage.New(st),
		planner: retrieval.New(st),
	}

	if !opts.SkipSession && opts.SessionName != "" {
		ctl, err := session.New(ctx, eng, opts.SessionName, opts.Signaller)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		v.ctl = ctl
	}
	return v, nil
}

// Close releases the store and the singleton slot.
func (v *Vault) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	release(v)
	return v.st.Close()
}

func (v *Vault) guard() error {
	if v.closed {
		return vaulterr.New(vaulterr.CodeVaultClosed, "vault is closed")
	}
	return nil
}

// Engine exposes the operation engine, mainly for the server wiring.
func (v *Vault) Engine() *engine.Engine { return v.eng }

// Store exposes the underlying store.
func (v *Vault) Store() store.Store { return v.st }

// ---------------------------------------------------------------------------
// Write API
// ---------------------------------------------------------------------------

// CreateFileList registers a new file list.
func (v *Vault) CreateFileList(ctx context.Context, name string) error {
	if err := v.guard(); err != nil {
		return err
	}
	return v.eng.CreateItemList(ctx, engine.CreateListInput{Name: name, Kind: store.KindFile})
}

// AppendFile appends one file location. Index and start default to the next
// slot.
func (v *Vault) AppendFile(ctx context.Context, name, location string, deps ...engine.Dependency) (*engine.AppendResult, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.eng.AppendItem(ctx, engine.AppendInput{Name: name, Location: location, Dependencies: deps})
}

// CreateDocumentList registers a new document list.
func (v *Vault) CreateDocumentList(ctx context.Context, name string) error {
	if err := v.guard(); err != nil {
		return err
	}
	return v.eng.CreateItemList(ctx, engine.CreateListInput{Name: name, Kind: store.KindDocument})
}

// AppendDocument appends text at the document's end, or back-fills at an
// explicit index and start position.
func (v *Vault) AppendDocument(ctx context.Context, name, text string, index, start *int, deps ...engine.Dependency) (*engine.AppendResult, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.eng.AppendItem(ctx, engine.AppendInput{
		Name: name, Text: text, Index: index, Start: start, Dependencies: deps,
	})
}

// CreateEmbeddingList registers a new embedding list pinned to one dimension.
func (v *Vault) CreateEmbeddingList(ctx context.Context, name string, ndim int) error {
	if err := v.guard(); err != nil {
		return err
	}
	return v.eng.CreateItemList(ctx, engine.CreateListInput{Name: name, Kind: store.KindEmbedding, NDim: ndim})
}

// AppendEmbedding appends one vector.
func (v *Vault) AppendEmbedding(ctx context.Context, name string, vector []float32, deps ...engine.Dependency) (*engine.AppendResult, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.eng.AppendItem(ctx, engine.AppendInput{Name: name, Vector: vector, Dependencies: deps})
}

// CreateRecordList registers a new record list with fixed column names.
func (v *Vault) CreateRecordList(ctx context.Context, name string, columns []string) error {
	if err := v.guard(); err != nil {
		return err
	}
	return v.eng.CreateItemList(ctx, engine.CreateListInput{Name: name, Kind: store.KindRecord, ColumnNames: columns})
}

// AppendRecord appends one column-typed record. dataText, when non-empty, is
// the record's searchable text projection.
func (v *Vault) AppendRecord(ctx context.Context, name string, record map[string]any, dataText string, deps ...engine.Dependency) (*engine.AppendResult, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.eng.AppendItem(ctx, engine.AppendInput{Name: name, Record: record, DataText: dataText, Dependencies: deps})
}

// CreateDescription attaches a text+embedding annotation to an item.
func (v *Vault) CreateDescription(ctx context.Context, item, text string, vector []float32) error {
	if err := v.guard(); err != nil {
		return err
	}
	if v.opts.DescriptionDim > 0 && len(vector) > 0 && len(vector) != v.opts.DescriptionDim {
		return vaulterr.New(vaulterr.CodeEngineDimMismatch, "description embedding size does not match configuration",
			vaulterr.FieldItem(item),
			vaulterr.Field("want", v.opts.DescriptionDim), vaulterr.Field("got", len(vector)))
	}
	return v.eng.AddDescription(ctx, engine.DescriptionInput{Item: item, Text: text, Vector: vector})
}

// DeleteList removes an item and everything attached to it.
func (v *Vault) DeleteList(ctx context.Context, name string) error {
	if err := v.guard(); err != nil {
		return err
	}
	return v.eng.DeleteItemList(ctx, name)
}

// VaultCleanup runs the recovery driver over ledger entries older than
// interval.
func (v *Vault) VaultCleanup(ctx context.Context, interval time.Duration) (*engine.RecoveryReport, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.eng.Recover(ctx, interval)
}

// ---------------------------------------------------------------------------
// Query API
// ---------------------------------------------------------------------------

// QueryItemContent returns an item's elements intersecting the half-open
// range, ordered by start position.
func (v *Vault) QueryItemContent(ctx context.Context, name string, start, end *int) ([]lineage.Element, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.query.ListContent(ctx, name, lineage.Range{Start: start, End: end})
}

// QueryItemIndex fetches one element by index.
func (v *Vault) QueryItemIndex(ctx context.Context, name string, index int) (*lineage.Element, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.query.IndexLookup(ctx, name, index)
}

// QueryItemList returns an item's list head.
func (v *Vault) QueryItemList(ctx context.Context, name string) (*store.ListHead, store.Kind, error) {
	if err := v.guard(); err != nil {
		return nil, "", err
	}
	return v.query.Head(ctx, name)
}

// QueryItemParent returns the producer elements feeding the item in range.
func (v *Vault) QueryItemParent(ctx context.Context, name string, start, end *int) ([]lineage.DependencyRef, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.query.Inputs(ctx, name, lineage.Range{Start: start, End: end})
}

// QueryItemChild returns the consumer elements fed by the item in range.
func (v *Vault) QueryItemChild(ctx context.Context, name string, start, end *int) ([]lineage.DependencyRef, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.query.Outputs(ctx, name, lineage.Range{Start: start, End: end})
}

// QueryItemDescription returns the item's descriptions.
func (v *Vault) QueryItemDescription(ctx context.Context, name string) ([]lineage.DescriptionRef, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.query.Descriptions(ctx, name)
}

// QueryItemCreationSession returns the session cell that created the item.
func (v *Vault) QueryItemCreationSession(ctx context.Context, name string) (*lineage.SessionRef, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.query.CreationSession(ctx, name)
}

// QueryItemSession returns the session cells that appended elements of the
// item in range.
func (v *Vault) QueryItemSession(ctx context.Context, name string, start, end *int) ([]lineage.SessionRef, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.query.CoveringSessions(ctx, name, lineage.Range{Start: start, End: end})
}

// QuerySessionItem aggregates the positional span a session touched per
// downstream item.
func (v *Vault) QuerySessionItem(ctx context.Context, session string) ([]lineage.ItemSpan, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.query.SessionItems(ctx, session)
}

// QueryCollection runs the hybrid retrieval planner.
func (v *Vault) QueryCollection(ctx context.Context, f retrieval.Filters) ([]retrieval.Row, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.planner.Query(ctx, f)
}

// HasVectorIndex reports whether the index for the dimension has been built.
func (v *Vault) HasVectorIndex(ctx context.Context, dim int) (bool, error) {
	if err := v.guard(); err != nil {
		return false, err
	}
	return v.eng.HasVectorIndex(ctx, dim)
}

// GetCurrentOperations lists the in-flight ledger entries.
func (v *Vault) GetCurrentOperations(ctx context.Context) ([]ledger.Entry, error) {
	if err := v.guard(); err != nil {
		return nil, err
	}
	return v.led.Active(ctx)
}

// ---------------------------------------------------------------------------
// Session API
// ---------------------------------------------------------------------------

func (v *Vault) controller() (*session.Controller, error) {
	if v.ctl == nil {
		return nil, vaulterr.New(vaulterr.CodeSessionNotFound, "no session bound to this vault")
	}
	return v.ctl, nil
}

// CheckpointExecution honours a pending pause or stop request against this
// session.
func (v *Vault) CheckpointExecution(ctx context.Context) error {
	if err := v.guard(); err != nil {
		return err
	}
	ctl, err := v.controller()
	if err != nil {
		return err
	}
	return ctl.Checkpoint(ctx)
}

// PauseExecution asks the target session to pause at its next checkpoint.
func (v *Vault) PauseExecution(ctx context.Context, target string) error {
	if err := v.guard(); err != nil {
		return err
	}
	ctl, err := v.controller()
	if err != nil {
		return err
	}
	return ctl.Pause(ctx, target)
}

// StopExecution asks the target session to stop at its next checkpoint.
func (v *Vault) StopExecution(ctx context.Context, target string) error {
	if err := v.guard(); err != nil {
		return err
	}
	ctl, err := v.controller()
	if err != nil {
		return err
	}
	return ctl.Stop(ctx, target)
}

// ResumeExecution continues a paused target session.
func (v *Vault) ResumeExecution(ctx context.Context, target string) error {
	if err := v.guard(); err != nil {
		return err
	}
	ctl, err := v.controller()
	if err != nil {
		return err
	}
	return ctl.Resume(ctx, target)
}

// Controller exposes the session controller for host-environment binding.
func (v *Vault) Controller() *session.Controller { return v.ctl }
