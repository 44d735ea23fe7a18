// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Edge keys derive from the operation timestamp so a reverse can find and
// delete them given nothing but the ledger entry. Parent, session-parent, and
// description edges use str(ts); dependency edges additionally carry the
// producer element key because one append may declare several inputs.

func dependencyEdgeKey(ts uint64, producerKey string) string {
	return fmt.Sprintf("%d_%s", ts, producerKey)
}

// insertEdge inserts one lineage edge, treating a duplicate key as already
// present so forward retries and resumed deletes stay idempotent.
func (e *Engine) insertEdge(ctx context.Context, coll string, edge store.Edge) error {
	err := e.st.Edges().Insert(ctx, coll, edge)
	if err != nil && !store.IsDuplicate(err) {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "inserting lineage edge",
			vaulterr.FieldCollection(coll), vaulterr.FieldKey(edge.Key))
	}
	return nil
}

func (e *Engine) insertParentEdge(ctx context.Context, ts uint64, listColl, name, elemColl, elemKey string, start, end int) error {
	return e.insertEdge(ctx, store.EdgeParent, store.Edge{
		Key:  tsKey(ts),
		From: store.NodeID(listColl, name),
		To:   store.NodeID(elemColl, elemKey),
		Attrs: map[string]any{
			"start_position": start,
			"end_position":   end,
			"timestamp":      ts,
		},
	})
}

// insertSessionParentEdge links the current session's list head to a node
// created during one of its cells.
func (e *Engine) insertSessionParentEdge(ctx context.Context, ts uint64, sess SessionRef, toNode string) error {
	return e.insertEdge(ctx, store.EdgeSessionParent, store.Edge{
		Key:  tsKey(ts),
		From: store.NodeID(store.KindSession.ListCollection(), sess.Name),
		To:   toNode,
		Attrs: map[string]any{
			"index":     sess.CellIndex,
			"timestamp": ts,
		},
	})
}

// insertDependencyEdge records that the producer element fed the consumer
// element, carrying the producer-side range.
func (e *Engine) insertDependencyEdge(ctx context.Context, ts uint64, producerColl, producerKey string, start, end int, consumerNode string) error {
	return e.insertEdge(ctx, store.EdgeDependency, store.Edge{
		Key:  dependencyEdgeKey(ts, producerKey),
		From: store.NodeID(producerColl, producerKey),
		To:   consumerNode,
		Attrs: map[string]any{
			"start_position": start,
			"end_position":   end,
			"timestamp":      ts,
		},
	})
}

func (e *Engine) insertDescriptionEdge(ctx context.Context, ts uint64, listColl, name, descKey string) error {
	return e.insertEdge(ctx, store.EdgeDescription, store.Edge{
		Key:  tsKey(ts),
		From: store.NodeID(listColl, name),
		To:   store.NodeID(store.CollDescription, descKey),
		Attrs: map[string]any{
			"timestamp": ts,
		},
	})
}

// deleteEdge removes one edge, tolerating absence.
func (e *Engine) deleteEdge(ctx context.Context, coll, key string) error {
	if err := e.st.Edges().Delete(ctx, coll, key, true); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "deleting lineage edge",
			vaulterr.FieldCollection(coll), vaulterr.FieldKey(key))
	}
	return nil
}

// deleteDependencyEdgesTo removes dependency edges inbound on node that were
// created by ts.
func (e *Engine) deleteDependencyEdgesTo(ctx context.Context, ts uint64, node string) error {
	edges, err := e.st.Edges().To(ctx, store.EdgeDependency, node)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning dependency edges")
	}
	for _, edge := range edges {
		if attrTimestamp(edge.Attrs) != ts {
			continue
		}
		if err := e.deleteEdge(ctx, store.EdgeDependency, edge.Key); err != nil {
			return err
		}
	}
	return nil
}

// attrTimestamp reads the owning timestamp out of edge attrs. JSON round-trips
// hand numbers back as float64.
func attrTimestamp(attrs map[string]any) uint64 {
	switch v := attrs["timestamp"].(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	case string:
		ts, err := strconv.ParseUint(v, 10, 64)
		if err == nil {
			return ts
		}
	}
	return 0
}

// attrInt reads an integer edge attribute.
func attrInt(attrs map[string]any, field string) int {
	switch v := attrs[field].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
