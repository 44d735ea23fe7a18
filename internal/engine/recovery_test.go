// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultml/vault/internal/engine"
	"github.com/vaultml/vault/internal/store"
)

// reviveEntry re-inserts a committed timestamp into the active set with
// crafted op args, simulating a process that crashed mid-operation after its
// side effects landed.
func reviveEntry(t *testing.T, e *engine.Engine, ts uint64, args []string) {
	t.Helper()
	err := e.Ledger().Mutate(context.Background(), func(meta *store.Metadata) error {
		meta.ActiveTimestamps[strconv.FormatUint(ts, 10)] = store.ActiveOp{
			Wall: time.Now().Add(-time.Hour),
			Args: args,
		}
		return nil
	})
	require.NoError(t, err)
}

func itemTimestamp(t *testing.T, st store.Store, name string) uint64 {
	t.Helper()
	doc, err := st.Documents().Get(context.Background(), store.CollItems, name)
	require.NoError(t, err)
	var item store.Item
	require.NoError(t, store.DecodeDoc(doc.Data, &item))
	return item.Timestamp
}

func TestRecover_Empty(t *testing.T) {
	e, _ := newEngine(t, engine.Options{})

	report, err := e.Recover(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, report.Examined)
	assert.Empty(t, report.Recovered)
	assert.Empty(t, report.Failed)
}

func TestRecover_CreateRollback(t *testing.T) {
	e, st := newEngine(t, engine.Options{})
	ctx := context.Background()

	require.NoError(t, e.CreateItemList(ctx, engine.CreateListInput{Name: "doc", Kind: store.KindDocument}))
	ts := itemTimestamp(t, st, "doc")

	reviveEntry(t, e, ts, []string{engine.OpCreateItemList, "doc", string(store.KindDocument)})

	report, err := e.Recover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, []uint64{ts}, report.Recovered)

	// The interrupted registration was rolled back entirely.
	ok, err := st.Documents().Has(ctx, store.CollItems, "doc")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = st.Documents().Has(ctx, store.KindDocument.ListCollection(), "doc")
	require.NoError(t, err)
	assert.False(t, ok)
	requireNoActiveOps(t, e)
}

func TestRecover_AppendRollback(t *testing.T) {
	e, st := newEngine(t, engine.Options{})
	ctx := context.Background()

	require.NoError(t, e.CreateItemList(ctx, engine.CreateListInput{Name: "doc", Kind: store.KindDocument}))
	_, err := e.AppendItem(ctx, engine.AppendInput{Name: "doc", Text: "hello"})
	require.NoError(t, err)

	elemKey := store.ElementKey("doc", 0)
	elem := readElement(t, st, store.KindDocument, elemKey)

	reviveEntry(t, e, elem.Timestamp, []string{
		engine.OpAppendItem, "doc", store.KindDocument.ListCollection(), elemKey,
		"0", "0", "1", "5",
	})

	report, err := e.Recover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{elem.Timestamp}, report.Recovered)

	// The orphan element is gone and the counters rolled back.
	ok, err := st.Documents().Has(ctx, store.KindDocument.ElementCollection(), elemKey)
	require.NoError(t, err)
	assert.False(t, ok)

	head := readHead(t, st, store.KindDocument, "doc")
	assert.Zero(t, head.NItems)
	assert.Zero(t, head.Length)
	requireNoActiveOps(t, e)
}

func TestRecover_AppendRollback_SkipsForeignElement(t *testing.T) {
	e, st := newEngine(t, engine.Options{})
	ctx := context.Background()

	require.NoError(t, e.CreateItemList(ctx, engine.CreateListInput{Name: "doc", Kind: store.KindDocument}))
	_, err := e.AppendItem(ctx, engine.AppendInput{Name: "doc", Text: "hello"})
	require.NoError(t, err)

	// An entry whose timestamp does not own the element must leave it alone.
	elemKey := store.ElementKey("doc", 0)
	reviveEntry(t, e, 9999, []string{
		engine.OpAppendItem, "doc", store.KindDocument.ListCollection(), elemKey,
		"0", "0", "1", "5",
	})

	_, err = e.Recover(ctx, 0)
	require.NoError(t, err)

	elem := readElement(t, st, store.KindDocument, elemKey)
	assert.Equal(t, "hello", elem.Text)
	// The counters still matched the crafted advance, so they were rolled
	// back; only the element's ownership check held.
	head := readHead(t, st, store.KindDocument, "doc")
	assert.Zero(t, head.NItems)
}

func TestRecover_DeleteResumesForward(t *testing.T) {
	e, st := newEngine(t, engine.Options{})
	ctx := context.Background()

	require.NoError(t, e.CreateItemList(ctx, engine.CreateListInput{Name: "doc", Kind: store.KindDocument}))
	_, err := e.AppendItem(ctx, engine.AppendInput{Name: "doc", Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, e.AddDescription(ctx, engine.DescriptionInput{Item: "doc", Text: "notes"}))

	// A crashed delete holds the soft lock and an active entry.
	ts, err := e.Ledger().Acquire(ctx, []string{engine.OpDeleteItemList, "doc"})
	require.NoError(t, err)
	_, err = st.Documents().Update(ctx, store.CollItems, "doc",
		map[string]any{"timestamp": ts}, "", true)
	require.NoError(t, err)

	report, err := e.Recover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{ts}, report.Recovered)

	for _, check := range []struct{ coll, key string }{
		{store.CollItems, "doc"},
		{store.KindDocument.ListCollection(), "doc"},
		{store.KindDocument.ElementCollection(), store.ElementKey("doc", 0)},
	} {
		ok, err := st.Documents().Has(ctx, check.coll, check.key)
		require.NoError(t, err)
		assert.False(t, ok, "%s/%s must be gone", check.coll, check.key)
	}
	requireNoActiveOps(t, e)
}

func TestRecover_StopPauseRequestReleased(t *testing.T) {
	e, _ := newEngine(t, engine.Options{})
	ctx := context.Background()

	ts, err := e.Ledger().Acquire(ctx, []string{engine.OpSessionStopPause, "sess", "peer", "pause"})
	require.NoError(t, err)

	report, err := e.Recover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{ts}, report.Recovered)

	active, err := e.Ledger().IsActive(ctx, ts)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRecover_UnknownKindLeftInPlace(t *testing.T) {
	e, _ := newEngine(t, engine.Options{})
	ctx := context.Background()

	ts, err := e.Ledger().Acquire(ctx, []string{"someday_op", "x"})
	require.NoError(t, err)

	report, err := e.Recover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)

	active, err := e.Ledger().IsActive(ctx, ts)
	require.NoError(t, err)
	assert.True(t, active, "unknown kinds are never released")
}

func TestRecover_OnlyFilter(t *testing.T) {
	e, _ := newEngine(t, engine.Options{})
	ctx := context.Background()

	ts1, err := e.Ledger().Acquire(ctx, []string{engine.OpSessionStopPause, "a", "peer", "pause"})
	require.NoError(t, err)
	ts2, err := e.Ledger().Acquire(ctx, []string{engine.OpSessionStopPause, "b", "peer", "pause"})
	require.NoError(t, err)

	report, err := e.Recover(ctx, 0, ts1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, []uint64{ts1}, report.Recovered)

	active, err := e.Ledger().IsActive(ctx, ts2)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRecover_FreshEntriesOutsideInterval(t *testing.T) {
	e, _ := newEngine(t, engine.Options{})
	ctx := context.Background()

	_, err := e.Ledger().Acquire(ctx, []string{engine.OpSessionStopPause, "a", "peer", "pause"})
	require.NoError(t, err)

	report, err := e.Recover(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.Examined, "entries younger than the interval are not abandoned")
}
