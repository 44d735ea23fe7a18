// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"

	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// DeleteItemList removes a list and everything attached to it: elements,
// parent, session-parent, dependency, and description edges, descriptions,
// the list head, and finally the descriptor. Its compensation is a resume, so
// a half-finished delete completes forward; every step tolerates absence.
func (e *Engine) DeleteItemList(ctx context.Context, name string) error {
	if name == "" {
		return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "item name must not be empty")
	}

	args := []string{OpDeleteItemList, name}
	return e.run(ctx, args, func(ts uint64) error {
		item, _, err := e.readItem(ctx, name)
		if err != nil {
			return err
		}
		if err := e.lockItem(ctx, name, ts); err != nil {
			return err
		}
		return e.deleteListForward(ctx, name, item.Collection)
	})
}

func (e *Engine) deleteListForward(ctx context.Context, name, listColl string) error {
	kind, err := store.KindOfListCollection(listColl)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "descriptor has no list collection",
			vaulterr.FieldItem(name))
	}
	elemColl := kind.ElementCollection()
	headNode := store.NodeID(listColl, name)

	// Elements reachable through parent edges plus those addressable by
	// index, so a resumed delete finds elements whose edges are already gone.
	elemKeys := map[string]bool{}
	parents, err := e.st.Edges().From(ctx, store.EdgeParent, headNode)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning parent edges",
			vaulterr.FieldItem(name))
	}
	for _, edge := range parents {
		_, key := store.SplitNodeID(edge.To)
		elemKeys[key] = true
	}
	if head, _, err := e.readHead(ctx, listColl, name); err == nil {
		for i := 0; i < head.NItems; i++ {
			elemKeys[store.ElementKey(name, i)] = true
		}
	} else if !vaulterr.IsNotFound(err) {
		return err
	}

	for key := range elemKeys {
		node := store.NodeID(elemColl, key)
		for _, scan := range []func(context.Context, string, string) ([]store.Edge, error){
			e.st.Edges().From, e.st.Edges().To,
		} {
			deps, err := scan(ctx, store.EdgeDependency, node)
			if err != nil {
				return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning dependency edges",
					vaulterr.FieldKey(key))
			}
			for _, dep := range deps {
				if err := e.deleteEdge(ctx, store.EdgeDependency, dep.Key); err != nil {
					return err
				}
			}
		}
		inbound, err := e.st.Edges().To(ctx, store.EdgeSessionParent, node)
		if err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning session-parent edges",
				vaulterr.FieldKey(key))
		}
		for _, edge := range inbound {
			if err := e.deleteEdge(ctx, store.EdgeSessionParent, edge.Key); err != nil {
				return err
			}
		}
		if err := e.st.Documents().Delete(ctx, elemColl, key, true); err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "removing element",
				vaulterr.FieldKey(key))
		}
	}
	for _, edge := range parents {
		if err := e.deleteEdge(ctx, store.EdgeParent, edge.Key); err != nil {
			return err
		}
	}

	// Session-parent edges in both directions: outgoing when the item is a
	// session, incoming for the cell that created it.
	for _, scan := range []func(context.Context, string, string) ([]store.Edge, error){
		e.st.Edges().From, e.st.Edges().To,
	} {
		edges, err := scan(ctx, store.EdgeSessionParent, headNode)
		if err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning session-parent edges",
				vaulterr.FieldItem(name))
		}
		for _, edge := range edges {
			if err := e.deleteEdge(ctx, store.EdgeSessionParent, edge.Key); err != nil {
				return err
			}
		}
	}

	descs, err := e.st.Edges().From(ctx, store.EdgeDescription, headNode)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning description edges",
			vaulterr.FieldItem(name))
	}
	for _, edge := range descs {
		_, descKey := store.SplitNodeID(edge.To)
		if err := e.st.Documents().Delete(ctx, store.CollDescription, descKey, true); err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "removing description",
				vaulterr.FieldKey(descKey))
		}
		if err := e.deleteEdge(ctx, store.EdgeDescription, edge.Key); err != nil {
			return err
		}
	}

	if err := e.st.Documents().Delete(ctx, listColl, name, true); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "removing list head",
			vaulterr.FieldItem(name))
	}
	if err := e.st.Documents().Delete(ctx, store.CollItems, name, true); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "removing item descriptor",
			vaulterr.FieldItem(name))
	}
	return nil
}

// resumeDeleteItemList completes a half-finished delete forward.
func resumeDeleteItemList(ctx context.Context, e *Engine, entry ledger.Entry) error {
	if len(entry.Args) < 2 {
		return vaulterr.New(vaulterr.CodeEngineReverseFailure, "malformed delete op args",
			vaulterr.FieldTimestamp(entry.TS))
	}
	name := entry.Args[1]

	item, _, err := e.readItem(ctx, name)
	if err != nil {
		if vaulterr.IsNotFound(err) {
			// Descriptor already gone: the delete had reached its last step.
			return nil
		}
		return err
	}
	if item.Timestamp != entry.TS {
		return nil
	}
	return e.deleteListForward(ctx, name, item.Collection)
}
