// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package store

import "context"

// Store is the capability surface the engine requires from the underlying
// document+graph database. Backends provide atomic single-document
// compare-and-swap, edge scans, token search views, and vector indexes;
// everything else (ordering, compensation, traversal) is layered on top.
type Store interface {
	Documents() DocumentStore
	Edges() EdgeStore
	Search() SearchStore
	Vectors() VectorStore
	Close() error
}

// DocumentStore is revision-checked document CRUD.
type DocumentStore interface {
	Get(ctx context.Context, coll, key string) (*Document, error)
	Insert(ctx context.Context, coll string, doc *Document) (rev string, err error)

	// Update patches a document. A non-empty ifMatch is an if-match-revision
	// precondition; mismatch returns ErrConflict. With merge the patch is
	// shallow-merged into the existing data, otherwise it replaces it.
	Update(ctx context.Context, coll, key string, patch map[string]any, ifMatch string, merge bool) (rev string, err error)

	Delete(ctx context.Context, coll, key string, ignoreMissing bool) error
	Has(ctx context.Context, coll, key string) (bool, error)

	// Keys lists every key in the collection in lexical order.
	Keys(ctx context.Context, coll string) ([]string, error)
}

// EdgeStore manages directed edges between documents. Node ids are
// "collection/key" strings.
type EdgeStore interface {
	Insert(ctx context.Context, coll string, edge Edge) error
	Delete(ctx context.Context, coll, key string, ignoreMissing bool) error
	From(ctx context.Context, coll, fromID string) ([]Edge, error)
	To(ctx context.Context, coll, toID string) ([]Edge, error)
}

// SearchStore is the full-text view surface. Search requires every token to
// match (AND semantics) and returns results scored descending.
type SearchStore interface {
	Tokens(text string) []string
	Search(ctx context.Context, coll, field string, tokens []string, limit int) ([]Scored, error)
}

// VectorStore is the dense-vector surface. Search is cosine similarity,
// highest first. EnsureIndex (re)builds the index for one embedding field;
// backends without a separate index structure may treat it as a no-op
// registration.
type VectorStore interface {
	Search(ctx context.Context, coll, field string, query []float32, k int) ([]Scored, error)
	EnsureIndex(ctx context.Context, field string, p IndexParams) error
	HasIndex(ctx context.Context, field string) (bool, error)
}
