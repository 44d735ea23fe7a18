// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultml/vault/internal/engine"
	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/retrieval"
	"github.com/vaultml/vault/internal/store"
	"github.com/vaultml/vault/internal/store/memstore"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// seedCorpus builds two documents, an embedding list, descriptions, and a
// session whose cell 1 produced every alpha element. beta has no session
// provenance.
func seedCorpus(t *testing.T) *retrieval.Planner {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { _ = st.Close() })

	led, err := ledger.New(context.Background(), st, ledger.Options{
		WaitTime: 2 * time.Millisecond,
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)
	e := engine.New(st, led, engine.Options{})
	ctx := context.Background()

	require.NoError(t, e.CreateItemList(ctx, engine.CreateListInput{Name: "sess", Kind: store.KindSession}))
	_, err = e.AddCodeStart(ctx, "sess", "embed corpus data")
	require.NoError(t, err)
	cell, err := e.AddCodeStart(ctx, "sess", "write summary text")
	require.NoError(t, err)
	require.Equal(t, 1, cell)

	e.SetSessionProvider(func() (engine.SessionRef, bool) {
		return engine.SessionRef{Name: "sess", CellIndex: cell}, true
	})
	require.NoError(t, e.CreateItemList(ctx, engine.CreateListInput{Name: "alpha", Kind: store.KindDocument}))
	_, err = e.AppendItem(ctx, engine.AppendInput{Name: "alpha", Text: "machine learning notes"})
	require.NoError(t, err)
	_, err = e.AppendItem(ctx, engine.AppendInput{Name: "alpha", Text: "cooking recipes"})
	require.NoError(t, err)

	e.SetSessionProvider(func() (engine.SessionRef, bool) { return engine.SessionRef{}, false })
	require.NoError(t, e.CreateItemList(ctx, engine.CreateListInput{Name: "beta", Kind: store.KindDocument}))
	_, err = e.AppendItem(ctx, engine.AppendInput{Name: "beta", Text: "machine learning pipelines"})
	require.NoError(t, err)

	require.NoError(t, e.CreateItemList(ctx, engine.CreateListInput{Name: "vecs", Kind: store.KindEmbedding, NDim: 3}))
	_, err = e.AppendItem(ctx, engine.AppendInput{Name: "vecs", Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, err = e.AppendItem(ctx, engine.AppendInput{Name: "vecs", Vector: []float32{0, 1, 0}})
	require.NoError(t, err)

	require.NoError(t, e.AddDescription(ctx, engine.DescriptionInput{
		Item: "alpha", Text: "research notes", Vector: []float32{1, 0, 0},
	}))
	require.NoError(t, e.AddDescription(ctx, engine.DescriptionInput{
		Item: "beta", Text: "pipeline docs", Vector: []float32{0, 1, 0},
	}))

	return retrieval.New(st)
}

func rowAt(rows []retrieval.Row, name string, index int) *retrieval.Row {
	for i := range rows {
		if rows[i].Name == name && rows[i].Index == index {
			return &rows[i]
		}
	}
	return nil
}

func TestQuery_InvalidKind(t *testing.T) {
	p := seedCorpus(t)

	_, err := p.Query(context.Background(), retrieval.Filters{Kind: "notebook"})
	require.Error(t, err)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeRetrievalKindInvalid))
}

func TestQuery_TextTokensAnd(t *testing.T) {
	p := seedCorpus(t)
	ctx := context.Background()

	rows, err := p.Query(ctx, retrieval.Filters{Kind: store.KindDocument, Text: "machine learning"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.NotNil(t, rowAt(rows, "alpha", 0))
	assert.NotNil(t, rowAt(rows, "beta", 0))

	// Every token must match; "machine cooking" hits nothing.
	rows, err = p.Query(ctx, retrieval.Filters{Kind: store.KindDocument, Text: "machine cooking"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQuery_NamesWhitelist(t *testing.T) {
	p := seedCorpus(t)

	rows, err := p.Query(context.Background(), retrieval.Filters{
		Kind: store.KindDocument, Text: "machine learning", Names: []string{"beta"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "beta", rows[0].Name)
}

func TestQuery_NoModalityReturnsAllElements(t *testing.T) {
	p := seedCorpus(t)

	rows, err := p.Query(context.Background(), retrieval.Filters{Kind: store.KindDocument})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Ordered by name then index.
	assert.Equal(t, retrieval.Row{Name: "alpha", Index: 0}, rows[0])
	assert.Equal(t, retrieval.Row{Name: "alpha", Index: 1}, rows[1])
	assert.Equal(t, retrieval.Row{Name: "beta", Index: 0}, rows[2])
}

func TestQuery_VectorRanking(t *testing.T) {
	p := seedCorpus(t)

	rows, err := p.Query(context.Background(), retrieval.Filters{
		Kind: store.KindEmbedding, Vector: []float32{0.9, 0.1, 0}, TopK: 1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, retrieval.Row{Name: "vecs", Index: 0}, rows[0])
}

func TestQuery_TextOnEmbeddingKind(t *testing.T) {
	p := seedCorpus(t)

	_, err := p.Query(context.Background(), retrieval.Filters{
		Kind: store.KindEmbedding, Text: "anything",
	})
	require.Error(t, err)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeRetrievalKindInvalid))
}

func TestQuery_TextAndVectorIntersect(t *testing.T) {
	p := seedCorpus(t)

	// Document elements carry no embedding field, so requiring both
	// modalities empties the intersection.
	rows, err := p.Query(context.Background(), retrieval.Filters{
		Kind: store.KindDocument, Text: "machine learning", Vector: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQuery_DescriptionTextJoin(t *testing.T) {
	p := seedCorpus(t)

	rows, err := p.Query(context.Background(), retrieval.Filters{
		Kind: store.KindDocument, DescriptionText: "research",
	})
	require.NoError(t, err)
	// Only alpha carries a matching description; both its elements survive.
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "alpha", row.Name)
		assert.Len(t, row.MatchedDescriptions, 1)
	}
}

func TestQuery_DescriptionModalitiesUnion(t *testing.T) {
	p := seedCorpus(t)

	// Text matches alpha's description; the vector's single best hit is
	// beta's. The union keeps rows from both items.
	rows, err := p.Query(context.Background(), retrieval.Filters{
		Kind:              store.KindDocument,
		DescriptionText:   "research",
		DescriptionVector: []float32{0, 1, 0},
		TopK:              1,
	})
	require.NoError(t, err)
	assert.NotNil(t, rowAt(rows, "alpha", 0))
	assert.NotNil(t, rowAt(rows, "beta", 0))
}

func TestQuery_SessionCodeJoin(t *testing.T) {
	p := seedCorpus(t)
	ctx := context.Background()

	rows, err := p.Query(ctx, retrieval.Filters{
		Kind: store.KindDocument, SessionCode: "summary",
	})
	require.NoError(t, err)
	// beta has no session provenance and is filtered out.
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "alpha", row.Name)
		assert.Equal(t, []retrieval.SessionCell{{Session: "sess", Cell: 1}}, row.MatchedSessions)
	}

	rows, err = p.Query(ctx, retrieval.Filters{
		Kind: store.KindDocument, SessionCode: "nonexistent code",
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQuery_TopKCapsCandidates(t *testing.T) {
	p := seedCorpus(t)

	rows, err := p.Query(context.Background(), retrieval.Filters{
		Kind: store.KindDocument, Text: "machine learning", TopK: 1,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
