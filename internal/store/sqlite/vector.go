// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/vaultml/vault/internal/store"
)

// Compile-time interface check.
var _ store.VectorStore = (*vectors)(nil)

type vectors struct {
	db *sql.DB
}

// embeddingFieldRe pins vec table names to the "embedding_<dim>" shape so
// field names never carry arbitrary SQL.
var embeddingFieldRe = regexp.MustCompile(`^embedding_[0-9]+$`)

func isEmbeddingField(field string) bool {
	return embeddingFieldRe.MatchString(field)
}

func vecTable(field string) string    { return "vec_" + field }
func vecMapTable(field string) string { return "vecmap_" + field }

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func vecTableExists(ctx context.Context, q execQuerier, field string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, vecTable(field)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking vec table: %w", err)
	}
	return true, nil
}

func indexedVectorFields(ctx context.Context, q execQuerier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT field FROM vector_index_meta`)
	if err != nil {
		return nil, fmt.Errorf("listing vector indexes: %w", err)
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scanning vector index: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// EnsureIndex drops and rebuilds the cosine vec0 table for one embedding
// field, re-ingesting every document that carries it. NLists, NProbe, and
// training iterations are recorded for the index metadata surface; vec0
// itself scans exhaustively.
func (v *vectors) EnsureIndex(ctx context.Context, field string, p store.IndexParams) error {
	if !isEmbeddingField(field) {
		return fmt.Errorf("vector index field %q: %w", field, store.ErrInvalidInput)
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const meta = `INSERT INTO vector_index_meta (field, dimension, n_lists, n_probe, train_iter)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(field) DO UPDATE SET
	dimension = excluded.dimension,
	n_lists = excluded.n_lists,
	n_probe = excluded.n_probe,
	train_iter = excluded.train_iter`
	if _, err := tx.ExecContext(ctx, meta, field, p.Dimension, p.NLists, p.DefaultNProbe, p.TrainingIterations); err != nil {
		return fmt.Errorf("recording vector index meta: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+vecTable(field)); err != nil {
		return fmt.Errorf("dropping vec table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+vecMapTable(field)); err != nil {
		return fmt.Errorf("dropping vec map table: %w", err)
	}

	ddl := fmt.Sprintf(
		`CREATE VIRTUAL TABLE %s USING vec0(embedding float[%d] distance_metric=cosine)`,
		vecTable(field), p.Dimension,
	)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating vec table: %w", err)
	}
	mapDDL := `CREATE TABLE ` + vecMapTable(field) + ` (
	id         INTEGER PRIMARY KEY,
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	UNIQUE (collection, key)
)`
	if _, err := tx.ExecContext(ctx, mapDDL); err != nil {
		return fmt.Errorf("creating vec map table: %w", err)
	}

	if err := reingest(ctx, tx, field, p.Dimension); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing vector index rebuild: %w", err)
	}
	return nil
}

func reingest(ctx context.Context, tx *sql.Tx, field string, dim int) error {
	sel := `SELECT collection, key, json_extract(data, '$.` + field + `')
FROM documents WHERE json_extract(data, '$.` + field + `') IS NOT NULL`
	rows, err := tx.QueryContext(ctx, sel)
	if err != nil {
		return fmt.Errorf("scanning embeddings: %w", err)
	}

	type row struct {
		coll, key string
		vec       []float32
	}
	var pending []row
	for rows.Next() {
		var (
			coll, key, raw string
		)
		if err := rows.Scan(&coll, &key, &raw); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scanning embedding row: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil || len(vec) != dim {
			continue
		}
		pending = append(pending, row{coll: coll, key: key, vec: vec})
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating embeddings: %w", err)
	}

	for _, r := range pending {
		if err := indexVector(ctx, tx, r.coll, r.key, field, r.vec); err != nil {
			return err
		}
	}
	return nil
}

func (v *vectors) HasIndex(ctx context.Context, field string) (bool, error) {
	var one int
	err := v.db.QueryRowContext(ctx,
		`SELECT 1 FROM vector_index_meta WHERE field = ?`, field).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking vector index: %w", errors.Join(store.ErrDatabase, err))
	}
	return true, nil
}

// Search runs a cosine kNN. With a built vec0 table it uses the MATCH
// operator; otherwise it falls back to an exact scan over the collection.
func (v *vectors) Search(ctx context.Context, coll, field string, query []float32, k int) ([]store.Scored, error) {
	if k <= 0 {
		k = 10
	}

	built, err := vecTableExists(ctx, v.db, field)
	if err != nil {
		return nil, err
	}
	if !built {
		return v.exactSearch(ctx, coll, field, query, k)
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serializing query vector: %w", err)
	}

	q := `SELECT m.key, knn.distance, d.data
FROM (SELECT rowid, distance FROM ` + vecTable(field) + ` WHERE embedding MATCH ? AND k = ?) knn
JOIN ` + vecMapTable(field) + ` m ON m.id = knn.rowid
JOIN documents d ON d.collection = m.collection AND d.key = m.key
WHERE m.collection = ?
ORDER BY knn.distance`
	rows, err := v.db.QueryContext(ctx, q, blob, k, coll)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", errors.Join(store.ErrDatabase, err))
	}
	defer rows.Close()

	var hits []store.Scored
	for rows.Next() {
		var (
			key      string
			distance float64
			data     string
		)
		if err := rows.Scan(&key, &distance, &data); err != nil {
			return nil, fmt.Errorf("scanning vector hit: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("decoding vector hit %s: %w", key, err)
		}
		hits = append(hits, store.Scored{
			Collection: coll,
			Key:        key,
			Score:      1 - distance, // cosine distance -> similarity
			Doc:        m,
		})
	}
	return hits, rows.Err()
}

func (v *vectors) exactSearch(ctx context.Context, coll, field string, query []float32, k int) ([]store.Scored, error) {
	sel := `SELECT key, data, json_extract(data, '$.` + field + `')
FROM documents WHERE collection = ? AND json_extract(data, '$.` + field + `') IS NOT NULL`
	rows, err := v.db.QueryContext(ctx, sel, coll)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", errors.Join(store.ErrDatabase, err))
	}
	defer rows.Close()

	var hits []store.Scored
	for rows.Next() {
		var key, data, raw string
		if err := rows.Scan(&key, &data, &raw); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil || len(vec) != len(query) {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("decoding vector row %s: %w", key, err)
		}
		hits = append(hits, store.Scored{
			Collection: coll,
			Key:        key,
			Score:      cosine(query, vec),
			Doc:        m,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
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
