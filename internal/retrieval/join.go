// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package retrieval

import (
	"context"
	"sort"
	"strconv"

	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// joinDescriptions keeps rows whose item carries at least one description
// matched by text or by vector. The two description modalities union before
// the join.
func (p *Planner) joinDescriptions(ctx context.Context, f Filters, rows []Row, topK int) ([]Row, error) {
	matched := map[string][]string{} // item name -> matched description keys
	seen := map[string]bool{}

	add := func(hits []store.Scored) {
		for _, hit := range hits {
			if seen[hit.Key] {
				continue
			}
			var desc store.Description
			if err := store.DecodeDoc(hit.Doc, &desc); err != nil {
				continue
			}
			if desc.Collection != f.Kind.ListCollection() {
				continue
			}
			seen[hit.Key] = true
			matched[desc.ItemName] = append(matched[desc.ItemName], hit.Key)
		}
	}

	if f.DescriptionText != "" {
		tokens := p.st.Search().Tokens(f.DescriptionText)
		hits, err := p.st.Search().Search(ctx, store.CollDescription, "text", tokens, topK)
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "searching description text")
		}
		add(hits)
	}
	if len(f.DescriptionVector) > 0 {
		field := store.EmbeddingField(len(f.DescriptionVector))
		hits, err := p.st.Vectors().Search(ctx, store.CollDescription, field, f.DescriptionVector, topK)
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "searching description vectors")
		}
		add(hits)
	}

	var out []Row
	for _, row := range rows {
		keys, ok := matched[row.Name]
		if !ok {
			continue
		}
		row.MatchedDescriptions = append([]string(nil), keys...)
		sort.Strings(row.MatchedDescriptions)
		out = append(out, row)
	}
	return out, nil
}

// joinSessions keeps rows whose element was produced by a session cell whose
// code text matches, attaching the matched cells.
func (p *Planner) joinSessions(ctx context.Context, f Filters, cands []candidate, rows []Row, topK int) ([]Row, error) {
	tokens := p.st.Search().Tokens(f.SessionCode)
	hits, err := p.st.Search().Search(ctx, store.KindSession.ElementCollection(), "text", tokens, topK)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "searching session code")
	}

	matchedCells := map[SessionCell]bool{}
	for _, hit := range hits {
		session, index := splitElementKey(hit.Key)
		matchedCells[SessionCell{Session: session, Cell: index}] = true
	}
	if len(matchedCells) == 0 {
		return nil, nil
	}

	keyOf := map[string]string{}
	for _, c := range cands {
		keyOf[c.name+"\x00"+strconv.Itoa(c.index)] = c.key
	}

	elemColl := f.Kind.ElementCollection()
	var out []Row
	for _, row := range rows {
		elemKey, ok := keyOf[row.Name+"\x00"+strconv.Itoa(row.Index)]
		if !ok {
			elemKey = store.ElementKey(row.Name, row.Index)
		}
		inbound, err := p.st.Edges().To(ctx, store.EdgeSessionParent, store.NodeID(elemColl, elemKey))
		if err != nil {
			return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "scanning session-parent edges",
				vaulterr.FieldKey(elemKey))
		}

		var cells []SessionCell
		for _, edge := range inbound {
			_, session := store.SplitNodeID(edge.From)
			cell := SessionCell{Session: session, Cell: edgeCellIndex(edge)}
			if matchedCells[cell] {
				cells = append(cells, cell)
			}
		}
		if len(cells) == 0 {
			continue
		}
		sort.Slice(cells, func(i, j int) bool {
			if cells[i].Session != cells[j].Session {
				return cells[i].Session < cells[j].Session
			}
			return cells[i].Cell < cells[j].Cell
		})
		row.MatchedSessions = cells
		out = append(out, row)
	}
	return out, nil
}

func edgeCellIndex(edge store.Edge) int {
	switch v := edge.Attrs["index"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

