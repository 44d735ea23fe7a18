// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/vaultml/vault/internal/store"
)

// Compile-time interface check.
var _ store.SearchStore = (*search)(nil)

type search struct {
	db *sql.DB
}

func (s *search) Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Search runs a token-AND FTS5 query over one field's view, ranked by BM25.
func (s *search) Search(ctx context.Context, coll, field string, tokens []string, limit int) ([]store.Scored, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	match := ftsMatch(tokens)
	const q = `SELECT sd.key, bm25(docs_fts) AS rank, d.data
FROM docs_fts
JOIN search_docs sd ON sd.id = docs_fts.rowid
JOIN documents d ON d.collection = sd.collection AND d.key = sd.key
WHERE docs_fts MATCH ? AND sd.collection = ? AND sd.field = ?
ORDER BY rank
LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, match, coll, field, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", errors.Join(store.ErrDatabase, err))
	}
	defer rows.Close()

	var hits []store.Scored
	for rows.Next() {
		var (
			key  string
			rank float64
			data string
		)
		if err := rows.Scan(&key, &rank, &data); err != nil {
			return nil, fmt.Errorf("scanning text hit: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("decoding text hit %s: %w", key, err)
		}
		hits = append(hits, store.Scored{
			Collection: coll,
			Key:        key,
			Score:      -rank, // bm25() ranks ascending; flip so higher is better
			Doc:        m,
		})
	}
	return hits, rows.Err()
}

// ftsMatch builds an AND query of quoted tokens, stripping characters FTS5
// treats as syntax.
func ftsMatch(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " AND ")
}
