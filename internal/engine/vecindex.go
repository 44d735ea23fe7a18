// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"
	"log/slog"

	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Vector index rebuild defaults.
const (
	defaultRebuildThreshold = 10_000
	defaultNLists           = 100
	defaultNProbe           = 8
	defaultTrainIterations  = 25
)

// vectorIndexManager batches embedding inserts per field and rebuilds the
// cosine index when the insert deficit crosses the threshold. Counters live
// in the metadata document; concurrent triggerings are harmless because the
// last rebuild wins.
type vectorIndexManager struct {
	st        store.Store
	led       *ledger.Ledger
	threshold int64
	params    store.IndexParams
	logger    *slog.Logger
}

func newVectorIndexManager(st store.Store, led *ledger.Ledger, opts Options) *vectorIndexManager {
	m := &vectorIndexManager{
		st:        st,
		led:       led,
		threshold: opts.VectorRebuildThreshold,
		params: store.IndexParams{
			NLists:             opts.NLists,
			DefaultNProbe:      opts.DefaultNProbe,
			TrainingIterations: opts.TrainingIterations,
		},
		logger: slog.Default(),
	}
	if m.threshold <= 0 {
		m.threshold = defaultRebuildThreshold
	}
	if m.params.NLists <= 0 {
		m.params.NLists = defaultNLists
	}
	if m.params.DefaultNProbe <= 0 {
		m.params.DefaultNProbe = defaultNProbe
	}
	if m.params.TrainingIterations <= 0 {
		m.params.TrainingIterations = defaultTrainIterations
	}
	return m
}

// recordInsert bumps the field's total counter and rebuilds the index when
// the deficit exceeds the threshold.
func (m *vectorIndexManager) recordInsert(ctx context.Context, dim int) error {
	field := store.EmbeddingField(dim)

	var total, indexed int64
	err := m.led.Mutate(ctx, func(meta *store.Metadata) error {
		stat := meta.VectorIndices[field]
		stat.TotalCount++
		meta.VectorIndices[field] = stat
		total, indexed = stat.TotalCount, stat.IdxCount
		return nil
	})
	if err != nil {
		return err
	}

	if total-indexed <= m.threshold {
		return nil
	}
	return m.rebuild(ctx, dim, total)
}

func (m *vectorIndexManager) rebuild(ctx context.Context, dim int, total int64) error {
	field := store.EmbeddingField(dim)
	params := m.params
	params.Dimension = dim

	m.logger.Info("rebuilding vector index", "field", field, "total", total)
	if err := m.st.Vectors().EnsureIndex(ctx, field, params); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "rebuilding vector index",
			vaulterr.Field("field", field))
	}

	return m.led.Mutate(ctx, func(meta *store.Metadata) error {
		stat := meta.VectorIndices[field]
		if stat.IdxCount < total {
			stat.IdxCount = total
			meta.VectorIndices[field] = stat
		}
		return nil
	})
}

// HasVectorIndex reports whether the field's index has been built at least
// once.
func (e *Engine) HasVectorIndex(ctx context.Context, dim int) (bool, error) {
	return e.st.Vectors().HasIndex(ctx, store.EmbeddingField(dim))
}

// VectorIndexStats returns the per-field counters.
func (e *Engine) VectorIndexStats(ctx context.Context) (map[string]store.VectorIndexStat, error) {
	meta, _, err := e.led.Meta(ctx)
	if err != nil {
		return nil, err
	}
	return meta.VectorIndices, nil
}
