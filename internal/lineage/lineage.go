// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

// Package lineage is the read side of the provenance graph: ordered element
// contents, ancestry and descendants through dependency edges, description
// joins, and session coverage. Queries never touch the ledger or locks.
package lineage

import (
	"context"
	"sort"
	"strings"

	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Range is an optional half-open positional filter. A nil bound is
// unconstrained.
type Range struct {
	Start *int
	End   *int
}

// Contains reports whether an element spanning [s,e) intersects the range:
// (qe=nil or s<qe) and (qs=nil or e>qs).
func (r Range) Contains(s, e int) bool {
	if r.End != nil && s >= *r.End {
		return false
	}
	if r.Start != nil && e <= *r.Start {
		return false
	}
	return true
}

// Element is one element with its payload and, for embeddings, the raw
// vector.
type Element struct {
	store.Element
	Key    string
	Vector []float32
}

// Query executes lineage traversals over the store.
type Query struct {
	st store.Store
}

// New creates a lineage query model.
func New(st store.Store) *Query {
	return &Query{st: st}
}

// Item resolves a name to its descriptor and kind.
func (q *Query) Item(ctx context.Context, name string) (*store.Item, store.Kind, error) {
	doc, err := q.st.Documents().Get(ctx, store.CollItems, name)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, "", vaulterr.New(vaulterr.CodeQueryItemNotFound, "item does not exist",
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
	kind, err := store.KindOfListCollection(item.Collection)
	if err != nil {
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "descriptor has no list collection",
			vaulterr.FieldItem(name))
	}
	return &item, kind, nil
}

// Head returns an item's list head.
func (q *Query) Head(ctx context.Context, name string) (*store.ListHead, store.Kind, error) {
	item, kind, err := q.Item(ctx, name)
	if err != nil {
		return nil, "", err
	}
	doc, err := q.st.Documents().Get(ctx, item.Collection, name)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, "", vaulterr.New(vaulterr.CodeQueryItemNotFound, "list head does not exist",
				vaulterr.FieldItem(name))
		}
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading list head",
			vaulterr.FieldItem(name))
	}
	var head store.ListHead
	if err := store.DecodeDoc(doc.Data, &head); err != nil {
		return nil, "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding list head",
			vaulterr.FieldItem(name))
	}
	return &head, kind, nil
}

// ListContent returns the item's elements intersecting r, ordered by start
// position.
func (q *Query) ListContent(ctx context.Context, name string, r Range) ([]Element, error) {
	if err := validRange(r, name); err != nil {
		return nil, err
	}
	item, kind, err := q.Item(ctx, name)
	if err != nil {
		return nil, err
	}

	edges, err := q.st.Edges().From(ctx, store.EdgeParent, store.NodeID(item.Collection, name))
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning parent edges",
			vaulterr.FieldItem(name))
	}

	var out []Element
	for _, edge := range edges {
		s, e := edgeRange(edge)
		if !r.Contains(s, e) {
			continue
		}
		_, key := store.SplitNodeID(edge.To)
		elem, err := q.element(ctx, kind, key)
		if err != nil {
			if vaulterr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, *elem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// IndexLookup fetches one element by its index.
func (q *Query) IndexLookup(ctx context.Context, name string, index int) (*Element, error) {
	_, kind, err := q.Item(ctx, name)
	if err != nil {
		return nil, err
	}
	return q.element(ctx, kind, store.ElementKey(name, index))
}

func (q *Query) element(ctx context.Context, kind store.Kind, key string) (*Element, error) {
	doc, err := q.st.Documents().Get(ctx, kind.ElementCollection(), key)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, vaulterr.New(vaulterr.CodeQueryItemNotFound, "element does not exist",
				vaulterr.FieldKey(key))
		}
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading element",
			vaulterr.FieldKey(key))
	}

	elem := Element{Key: key}
	if err := store.DecodeDoc(doc.Data, &elem.Element); err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding element",
			vaulterr.FieldKey(key))
	}
	for field, v := range doc.Data {
		if !strings.HasPrefix(field, "embedding_") {
			continue
		}
		if vec, ok := store.Float32Slice(v); ok {
			elem.Vector = vec
		}
	}
	return &elem, nil
}

func validRange(r Range, name string) error {
	if r.Start != nil && r.End != nil && *r.Start >= *r.End {
		return vaulterr.New(vaulterr.CodeQueryInvalidRange, "query range is empty or inverted",
			vaulterr.FieldItem(name))
	}
	return nil
}

func edgeRange(edge store.Edge) (int, int) {
	return intAttr(edge.Attrs, "start_position"), intAttr(edge.Attrs, "end_position")
}

func intAttr(attrs map[string]any, field string) int {
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
