// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"

	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// CreateListInput names a new item list. NDim is required for embedding
// lists, ColumnNames for record lists; both are rejected elsewhere.
type CreateListInput struct {
	Name        string
	Kind        store.Kind
	NDim        int
	ColumnNames []string
}

func (in CreateListInput) validate() error {
	if in.Name == "" {
		return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "item name must not be empty")
	}
	switch in.Kind {
	case store.KindEmbedding:
		if in.NDim <= 0 {
			return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "embedding list requires a positive dimension",
				vaulterr.FieldItem(in.Name))
		}
	case store.KindRecord:
		if len(in.ColumnNames) == 0 {
			return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "record list requires column names",
				vaulterr.FieldItem(in.Name))
		}
	default:
		if in.NDim != 0 || len(in.ColumnNames) != 0 {
			return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "dimension and columns only apply to embedding and record lists",
				vaulterr.FieldItem(in.Name))
		}
	}
	return nil
}

// CreateItemList registers a new named list: descriptor, empty list head, and
// a session-parent edge when created inside a session cell.
func (e *Engine) CreateItemList(ctx context.Context, in CreateListInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	listColl := in.Kind.ListCollection()

	args := []string{OpCreateItemList, in.Name, string(in.Kind)}
	return e.run(ctx, args, func(ts uint64) error {
		if _, err := e.claimName(ctx, in.Name, listColl, ts); err != nil {
			return err
		}

		head := store.ListHead{
			NDim:        in.NDim,
			ColumnNames: in.ColumnNames,
		}
		data, err := store.EncodeDoc(head)
		if err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "encoding list head")
		}
		if _, err := e.st.Documents().Insert(ctx, listColl, &store.Document{Key: in.Name, Data: data}); err != nil {
			if !store.IsDuplicate(err) {
				return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "creating list head",
					vaulterr.FieldItem(in.Name))
			}
		}

		if sess, ok := e.currentSession(); ok && sess.Name != in.Name {
			if err := e.insertSessionParentEdge(ctx, ts, sess, store.NodeID(listColl, in.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// reverseCreateItemList undoes a create: descriptor, list head, and the
// session-parent edge keyed by the timestamp. Ownership is verified on the
// descriptor first so a re-registered name is left alone.
func reverseCreateItemList(ctx context.Context, e *Engine, entry ledger.Entry) error {
	if len(entry.Args) < 3 {
		return vaulterr.New(vaulterr.CodeEngineReverseFailure, "malformed create op args",
			vaulterr.FieldTimestamp(entry.TS))
	}
	name := entry.Args[1]
	kind, err := store.ParseKind(entry.Args[2])
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeEngineReverseFailure, "malformed create op args",
			vaulterr.FieldTimestamp(entry.TS))
	}

	item, _, err := e.readItem(ctx, name)
	if err != nil {
		if vaulterr.IsNotFound(err) {
			return e.deleteEdge(ctx, store.EdgeSessionParent, tsKey(entry.TS))
		}
		return err
	}
	if item.Timestamp != entry.TS {
		return nil
	}

	if err := e.st.Documents().Delete(ctx, kind.ListCollection(), name, true); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "removing list head",
			vaulterr.FieldItem(name))
	}
	if err := e.st.Documents().Delete(ctx, store.CollItems, name, true); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "removing item descriptor",
			vaulterr.FieldItem(name))
	}
	return e.deleteEdge(ctx, store.EdgeSessionParent, tsKey(entry.TS))
}
