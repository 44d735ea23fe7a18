// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

// Package retrieval combines text, dense-vector, and lineage-graph
// constraints into one query over items of a single kind. Modalities AND at
// the row level; the two description modalities OR into one candidate set
// before joining.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// DefaultTopK caps each modality's candidate set.
const DefaultTopK = 500

// Filters is one hybrid query. Kind is required; every other field is an
// optional constraint. An unset modality does not restrict the result.
type Filters struct {
	Kind store.Kind

	// Text matches the kind's own payload field with token-AND semantics.
	Text string
	// Vector ranks embedding elements by cosine similarity.
	Vector []float32

	DescriptionText   string
	DescriptionVector []float32

	// SessionCode matches the code text of the session cell that produced
	// the element.
	SessionCode string

	// Names restricts the result to these items.
	Names []string

	// TopK overrides the per-modality candidate cap.
	TopK int
}

// SessionCell identifies one matched producing cell.
type SessionCell struct {
	Session string
	Cell    int
}

// Row is one result element with the evidence that matched it.
type Row struct {
	Name  string
	Index int

	MatchedDescriptions []string
	MatchedSessions     []SessionCell
}

// Planner executes hybrid queries.
type Planner struct {
	st   store.Store
	topK int
}

// New creates a planner with the default candidate cap.
func New(st store.Store) *Planner {
	return &Planner{st: st, topK: DefaultTopK}
}

type candidate struct {
	name  string
	index int
	key   string
}

// Query runs the planner: per-modality candidate sets, OR within the
// description modalities, AND across everything else.
func (p *Planner) Query(ctx context.Context, f Filters) ([]Row, error) {
	if _, err := store.ParseKind(string(f.Kind)); err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeRetrievalKindInvalid, "unknown item kind")
	}
	topK := f.TopK
	if topK <= 0 {
		topK = p.topK
	}

	names, err := p.itemsOfKind(ctx, f.Kind, f.Names)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	cands, err := p.elementCandidates(ctx, f, names, topK)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(cands))
	for _, c := range cands {
		rows = append(rows, Row{Name: c.name, Index: c.index})
	}

	if f.DescriptionText != "" || len(f.DescriptionVector) > 0 {
		rows, err = p.joinDescriptions(ctx, f, rows, topK)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
	}

	if f.SessionCode != "" {
		rows, err = p.joinSessions(ctx, f, cands, rows, topK)
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// itemsOfKind resolves the names of every item of the kind, intersected with
// the whitelist when present.
func (p *Planner) itemsOfKind(ctx context.Context, kind store.Kind, whitelist []string) (map[string]bool, error) {
	allow := map[string]bool{}
	for _, name := range whitelist {
		allow[name] = true
	}

	keys, err := p.st.Documents().Keys(ctx, store.CollItems)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "listing items")
	}

	out := map[string]bool{}
	for _, name := range keys {
		if len(allow) > 0 && !allow[name] {
			continue
		}
		doc, err := p.st.Documents().Get(ctx, store.CollItems, name)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading item descriptor",
				vaulterr.FieldItem(name))
		}
		var item store.Item
		if err := store.DecodeDoc(doc.Data, &item); err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding item descriptor",
				vaulterr.FieldItem(name))
		}
		if item.Collection == kind.ListCollection() {
			out[name] = true
		}
	}
	return out, nil
}

// elementCandidates builds the element-level base set: text and vector hits
// intersected when both are given, every element of the kind's items
// otherwise.
func (p *Planner) elementCandidates(ctx context.Context, f Filters, names map[string]bool, topK int) ([]candidate, error) {
	elemColl := f.Kind.ElementCollection()

	var textSet, vecSet map[string]candidate
	if f.Text != "" {
		field := kindTextField(f.Kind)
		if field == "" {
			return nil, vaulterr.New(vaulterr.CodeRetrievalKindInvalid, "kind has no searchable text field",
				vaulterr.Field("kind", string(f.Kind)))
		}
		tokens := p.st.Search().Tokens(f.Text)
		hits, err := p.st.Search().Search(ctx, elemColl, field, tokens, topK)
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "searching element text")
		}
		textSet = candidatesOf(hits, names)
	}
	if len(f.Vector) > 0 {
		hits, err := p.st.Vectors().Search(ctx, elemColl, store.EmbeddingField(len(f.Vector)), f.Vector, topK)
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "searching element vectors")
		}
		vecSet = candidatesOf(hits, names)
	}

	switch {
	case textSet != nil && vecSet != nil:
		var out []candidate
		for key, c := range textSet {
			if _, ok := vecSet[key]; ok {
				out = append(out, c)
			}
		}
		sortCandidates(out)
		return out, nil
	case textSet != nil:
		return sortedCandidates(textSet), nil
	case vecSet != nil:
		return sortedCandidates(vecSet), nil
	}

	// No element-level modality: every element of the surviving items.
	var out []candidate
	for name := range names {
		doc, err := p.st.Documents().Get(ctx, f.Kind.ListCollection(), name)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading list head",
				vaulterr.FieldItem(name))
		}
		var head store.ListHead
		if err := store.DecodeDoc(doc.Data, &head); err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding list head",
				vaulterr.FieldItem(name))
		}
		for i := 0; i < head.NItems; i++ {
			out = append(out, candidate{name: name, index: i, key: store.ElementKey(name, i)})
		}
	}
	sortCandidates(out)
	return out, nil
}

// kindTextField maps a kind to the element field its text filter searches.
func kindTextField(kind store.Kind) string {
	switch kind {
	case store.KindFile:
		return "location"
	case store.KindDocument, store.KindSession:
		return "text"
	case store.KindRecord:
		return "data_text"
	}
	return ""
}

func candidatesOf(hits []store.Scored, names map[string]bool) map[string]candidate {
	out := map[string]candidate{}
	for _, hit := range hits {
		name, index := splitElementKey(hit.Key)
		if !names[name] {
			continue
		}
		out[hit.Key] = candidate{name: name, index: index, key: hit.Key}
	}
	return out
}

func sortedCandidates(set map[string]candidate) []candidate {
	out := make([]candidate, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].name != cands[j].name {
			return cands[i].name < cands[j].name
		}
		return cands[i].index < cands[j].index
	})
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
