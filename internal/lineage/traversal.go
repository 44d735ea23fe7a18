// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package lineage

import (
	"context"
	"sort"
	"strings"

	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// DependencyRef is one endpoint of a dependency edge with the producer-side
// range the edge carries.
type DependencyRef struct {
	Item  string
	Index int
	Start int
	End   int
}

// DescriptionRef is one description attached to an item.
type DescriptionRef struct {
	Key   string
	Text  string
	Start int
	End   int
}

// SessionRef locates the session cell that produced a node.
type SessionRef struct {
	Session string
	Cell    int
}

// ItemSpan aggregates the positional extent a session touched in one
// downstream item.
type ItemSpan struct {
	Item  string
	Start int
	End   int
}

// Inputs returns, for every element of name intersecting r, the producer
// elements feeding it through inbound dependency edges.
func (q *Query) Inputs(ctx context.Context, name string, r Range) ([]DependencyRef, error) {
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

	var out []DependencyRef
	for _, edge := range edges {
		s, e := edgeRange(edge)
		if !r.Contains(s, e) {
			continue
		}
		_, elemKey := store.SplitNodeID(edge.To)
		deps, err := q.st.Edges().To(ctx, store.EdgeDependency, store.NodeID(kind.ElementCollection(), elemKey))
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning dependency edges",
				vaulterr.FieldKey(elemKey))
		}
		for _, dep := range deps {
			_, prodKey := store.SplitNodeID(dep.From)
			prodName, prodIndex := splitElementKey(prodKey)
			ds, de := edgeRange(dep)
			out = append(out, DependencyRef{Item: prodName, Index: prodIndex, Start: ds, End: de})
		}
	}
	return out, nil
}

// Outputs returns the consumer elements fed by name's elements through
// outbound dependency edges whose producer-side range intersects r.
func (q *Query) Outputs(ctx context.Context, name string, r Range) ([]DependencyRef, error) {
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

	var out []DependencyRef
	for _, edge := range edges {
		_, elemKey := store.SplitNodeID(edge.To)
		deps, err := q.st.Edges().From(ctx, store.EdgeDependency, store.NodeID(kind.ElementCollection(), elemKey))
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning dependency edges",
				vaulterr.FieldKey(elemKey))
		}
		for _, dep := range deps {
			ds, de := edgeRange(dep)
			if !r.Contains(ds, de) {
				continue
			}
			_, consKey := store.SplitNodeID(dep.To)
			consName, consIndex := splitElementKey(consKey)
			out = append(out, DependencyRef{Item: consName, Index: consIndex, Start: ds, End: de})
		}
	}
	return out, nil
}

// Descriptions returns the item's attached descriptions.
func (q *Query) Descriptions(ctx context.Context, name string) ([]DescriptionRef, error) {
	item, _, err := q.Item(ctx, name)
	if err != nil {
		return nil, err
	}

	edges, err := q.st.Edges().From(ctx, store.EdgeDescription, store.NodeID(item.Collection, name))
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning description edges",
			vaulterr.FieldItem(name))
	}

	var out []DescriptionRef
	for _, edge := range edges {
		_, descKey := store.SplitNodeID(edge.To)
		doc, err := q.st.Documents().Get(ctx, store.CollDescription, descKey)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading description",
				vaulterr.FieldKey(descKey))
		}
		var desc store.Description
		if err := store.DecodeDoc(doc.Data, &desc); err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding description",
				vaulterr.FieldKey(descKey))
		}
		out = append(out, DescriptionRef{Key: descKey, Text: desc.Text, Start: desc.Start, End: desc.End})
	}
	return out, nil
}

// CreationSession returns the session cell that created the item, if any.
func (q *Query) CreationSession(ctx context.Context, name string) (*SessionRef, error) {
	item, _, err := q.Item(ctx, name)
	if err != nil {
		return nil, err
	}
	edges, err := q.st.Edges().To(ctx, store.EdgeSessionParent, store.NodeID(item.Collection, name))
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning session-parent edges",
			vaulterr.FieldItem(name))
	}
	if len(edges) == 0 {
		return nil, nil
	}
	return sessionRefOf(edges[0]), nil
}

// CoveringSessions returns the session cells that appended elements of name
// intersecting r.
func (q *Query) CoveringSessions(ctx context.Context, name string, r Range) ([]SessionRef, error) {
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

	seen := map[SessionRef]bool{}
	var out []SessionRef
	for _, edge := range edges {
		s, e := edgeRange(edge)
		if !r.Contains(s, e) {
			continue
		}
		_, elemKey := store.SplitNodeID(edge.To)
		inbound, err := q.st.Edges().To(ctx, store.EdgeSessionParent, store.NodeID(kind.ElementCollection(), elemKey))
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning session-parent edges",
				vaulterr.FieldKey(elemKey))
		}
		for _, se := range inbound {
			ref := sessionRefOf(se)
			if !seen[*ref] {
				seen[*ref] = true
				out = append(out, *ref)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Session != out[j].Session {
			return out[i].Session < out[j].Session
		}
		return out[i].Cell < out[j].Cell
	})
	return out, nil
}

// SessionItems aggregates, per downstream item the session touched, the
// minimum start and maximum end across the nodes it created.
func (q *Query) SessionItems(ctx context.Context, session string) ([]ItemSpan, error) {
	_, kind, err := q.Item(ctx, session)
	if err != nil {
		return nil, err
	}
	if kind != store.KindSession {
		return nil, vaulterr.New(vaulterr.CodeQueryItemNotFound, "item is not a session",
			vaulterr.FieldItem(session))
	}

	edges, err := q.st.Edges().From(ctx, store.EdgeSessionParent,
		store.NodeID(store.KindSession.ListCollection(), session))
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning session-parent edges",
			vaulterr.FieldItem(session))
	}

	spans := map[string]*ItemSpan{}
	for _, edge := range edges {
		coll, key := store.SplitNodeID(edge.To)
		name, s, e, ok, err := q.resolveSpan(ctx, coll, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		span, exists := spans[name]
		if !exists {
			spans[name] = &ItemSpan{Item: name, Start: s, End: e}
			continue
		}
		if s < span.Start {
			span.Start = s
		}
		if e > span.End {
			span.End = e
		}
	}

	out := make([]ItemSpan, 0, len(spans))
	for _, span := range spans {
		out = append(out, *span)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out, nil
}

// resolveSpan maps one session-parent edge target to its item name and
// positional extent. Targets are elements, freshly created list heads, or
// descriptions.
func (q *Query) resolveSpan(ctx context.Context, coll, key string) (string, int, int, bool, error) {
	if coll == store.CollDescription {
		doc, err := q.st.Documents().Get(ctx, coll, key)
		if err != nil {
			if store.IsNotFound(err) {
				return "", 0, 0, false, nil
			}
			return "", 0, 0, false, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading description",
				vaulterr.FieldKey(key))
		}
		var desc store.Description
		if err := store.DecodeDoc(doc.Data, &desc); err != nil {
			return "", 0, 0, false, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding description",
				vaulterr.FieldKey(key))
		}
		return desc.ItemName, desc.Start, desc.End, true, nil
	}

	if _, err := store.KindOfListCollection(coll); err == nil {
		// Freshly created, still-empty list: contributes its name only.
		return key, 0, 0, true, nil
	}

	kind, err := store.ParseKind(coll)
	if err != nil {
		return "", 0, 0, false, nil
	}
	elem, err := q.element(ctx, kind, key)
	if err != nil {
		if vaulterr.IsNotFound(err) {
			return "", 0, 0, false, nil
		}
		return "", 0, 0, false, err
	}
	name, _ := splitElementKey(key)
	return name, elem.Start, elem.End, true, nil
}

func sessionRefOf(edge store.Edge) *SessionRef {
	_, session := store.SplitNodeID(edge.From)
	return &SessionRef{Session: session, Cell: intAttr(edge.Attrs, "index")}
}

// splitElementKey recovers the list name and index from "{name}_{index}".
func splitElementKey(key string) (string, int) {
	i := strings.LastIndexByte(key, '_')
	if i < 0 {
		return key, 0
	}
	index := 0
	for _, r := range key[i+1:] {
		if r < '0' || r > '9' {
			return key, 0
		}
		index = index*10 + int(r-'0')
	}
	return key[:i], index
}
