// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

// Package memstore is the in-memory reference backend. It implements the full
// capability surface (revision CAS, edge scans, token search, exact cosine)
// with a single mutex, and doubles as the test substrate for the engine.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/vaultml/vault/internal/store"
)

func init() {
	store.RegisterBackend("memory", func(store.Config) (store.Store, error) {
		return New(), nil
	})
}

// Store is an in-memory store.Store.
type Store struct {
	mu      sync.Mutex
	revSeq  int64
	docs    map[string]map[string]*memDoc // collection -> key -> doc
	edges   map[string]map[string]store.Edge
	indexes map[string]store.IndexParams
}

type memDoc struct {
	rev  string
	data map[string]any
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		docs:    map[string]map[string]*memDoc{},
		edges:   map[string]map[string]store.Edge{},
		indexes: map[string]store.IndexParams{},
	}
}

func (s *Store) Documents() store.DocumentStore { return (*documents)(s) }
func (s *Store) Edges() store.EdgeStore         { return (*edgeSet)(s) }
func (s *Store) Search() store.SearchStore      { return (*search)(s) }
func (s *Store) Vectors() store.VectorStore     { return (*vectors)(s) }
func (s *Store) Close() error                   { return nil }

func (s *Store) nextRev() string {
	s.revSeq++
	return strconv.FormatInt(s.revSeq, 10)
}

func (s *Store) coll(name string) map[string]*memDoc {
	c, ok := s.docs[name]
	if !ok {
		c = map[string]*memDoc{}
		s.docs[name] = c
	}
	return c
}

func (s *Store) edgeColl(name string) map[string]store.Edge {
	c, ok := s.edges[name]
	if !ok {
		c = map[string]store.Edge{}
		s.edges[name] = c
	}
	return c
}

// deepCopy clones JSON-compatible values so callers never alias stored state.
// []float32 embeddings are preserved as-is semantically (copied slice).
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []float32:
		out := make([]float32, len(t))
		copy(out, t)
		return out
	case []float64:
		out := make([]float64, len(t))
		copy(out, t)
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func copyData(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return deepCopy(m).(map[string]any)
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

type documents Store

func (d *documents) Get(_ context.Context, coll, key string) (*store.Document, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.coll(coll)[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", coll, key, store.ErrNotFound)
	}
	return &store.Document{Key: key, Rev: doc.rev, Data: copyData(doc.data)}, nil
}

func (d *documents) Insert(_ context.Context, coll string, doc *store.Document) (string, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(coll)
	if _, exists := c[doc.Key]; exists {
		return "", fmt.Errorf("%s/%s: %w", coll, doc.Key, store.ErrDuplicate)
	}
	rev := s.nextRev()
	c[doc.Key] = &memDoc{rev: rev, data: copyData(doc.Data)}
	return rev, nil
}

func (d *documents) Update(_ context.Context, coll, key string, patch map[string]any, ifMatch string, merge bool) (string, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.coll(coll)[key]
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", coll, key, store.ErrNotFound)
	}
	if ifMatch != "" && doc.rev != ifMatch {
		return "", fmt.Errorf("%s/%s rev %s != %s: %w", coll, key, doc.rev, ifMatch, store.ErrConflict)
	}

	if merge {
		for k, v := range patch {
			doc.data[k] = deepCopy(v)
		}
	} else {
		doc.data = copyData(patch)
	}
	doc.rev = s.nextRev()
	return doc.rev, nil
}

func (d *documents) Delete(_ context.Context, coll, key string, ignoreMissing bool) error {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(coll)
	if _, ok := c[key]; !ok {
		if ignoreMissing {
			return nil
		}
		return fmt.Errorf("%s/%s: %w", coll, key, store.ErrNotFound)
	}
	delete(c, key)
	return nil
}

func (d *documents) Has(_ context.Context, coll, key string) (bool, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.coll(coll)[key]
	return ok, nil
}

func (d *documents) Keys(_ context.Context, coll string) ([]string, error) {
	s := (*Store)(d)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(coll)
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

type edgeSet Store

func (e *edgeSet) Insert(_ context.Context, coll string, edge store.Edge) error {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.edgeColl(coll)
	if _, exists := c[edge.Key]; exists {
		return fmt.Errorf("%s/%s: %w", coll, edge.Key, store.ErrDuplicate)
	}
	edge.Attrs = copyData(edge.Attrs)
	c[edge.Key] = edge
	return nil
}

func (e *edgeSet) Delete(_ context.Context, coll, key string, ignoreMissing bool) error {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.edgeColl(coll)
	if _, ok := c[key]; !ok {
		if ignoreMissing {
			return nil
		}
		return fmt.Errorf("%s/%s: %w", coll, key, store.ErrNotFound)
	}
	delete(c, key)
	return nil
}

func (e *edgeSet) From(_ context.Context, coll, fromID string) ([]store.Edge, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scanEdges(coll, func(ed store.Edge) bool { return ed.From == fromID }), nil
}

func (e *edgeSet) To(_ context.Context, coll, toID string) ([]store.Edge, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scanEdges(coll, func(ed store.Edge) bool { return ed.To == toID }), nil
}

func (s *Store) scanEdges(coll string, match func(store.Edge) bool) []store.Edge {
	var out []store.Edge
	for _, ed := range s.edgeColl(coll) {
		if match(ed) {
			ed.Attrs = copyData(ed.Attrs)
			out = append(out, ed)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

type search Store

func (q *search) Tokens(text string) []string {
	return tokenize(text)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Search scores documents by total term frequency over the requested field,
// requiring every query token to be present.
func (q *search) Search(_ context.Context, coll, field string, tokens []string, limit int) ([]store.Scored, error) {
	s := (*Store)(q)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tokens) == 0 {
		return nil, nil
	}

	var hits []store.Scored
	for key, doc := range s.coll(coll) {
		text, ok := doc.data[field].(string)
		if !ok {
			continue
		}
		docTokens := tokenize(text)
		counts := make(map[string]int, len(docTokens))
		for _, t := range docTokens {
			counts[t]++
		}

		score := 0.0
		matched := true
		for _, t := range tokens {
			n := counts[strings.ToLower(t)]
			if n == 0 {
				matched = false
				break
			}
			score += float64(n)
		}
		if !matched {
			continue
		}
		hits = append(hits, store.Scored{
			Collection: coll,
			Key:        key,
			Score:      score,
			Doc:        copyData(doc.data),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ---------------------------------------------------------------------------
// Vectors
// ---------------------------------------------------------------------------

type vectors Store

// Search is an exact cosine scan over documents carrying the field.
func (v *vectors) Search(_ context.Context, coll, field string, query []float32, k int) ([]store.Scored, error) {
	s := (*Store)(v)
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []store.Scored
	for key, doc := range s.coll(coll) {
		raw, ok := doc.data[field]
		if !ok {
			continue
		}
		vec, ok := store.Float32Slice(raw)
		if !ok || len(vec) != len(query) {
			continue
		}
		hits = append(hits, store.Scored{
			Collection: coll,
			Key:        key,
			Score:      cosine(query, vec),
			Doc:        copyData(doc.data),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (v *vectors) EnsureIndex(_ context.Context, field string, p store.IndexParams) error {
	s := (*Store)(v)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.indexes[field] = p
	return nil
}

func (v *vectors) HasIndex(_ context.Context, field string) (bool, error) {
	s := (*Store)(v)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.indexes[field]
	return ok, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
