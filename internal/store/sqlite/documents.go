// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vaultml/vault/internal/store"
)

type documents struct {
	db *sql.DB
}

func (d *documents) Get(ctx context.Context, coll, key string) (*store.Document, error) {
	const q = `SELECT rev, data FROM documents WHERE collection = ? AND key = ?`

	var (
		rev  int64
		data string
	)
	err := d.db.QueryRowContext(ctx, q, coll, key).Scan(&rev, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", coll, key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", coll, key, errors.Join(store.ErrDatabase, err))
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", coll, key, err)
	}
	return &store.Document{Key: key, Rev: strconv.FormatInt(rev, 10), Data: m}, nil
}

func (d *documents) Insert(ctx context.Context, coll string, doc *store.Document) (string, error) {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return "", fmt.Errorf("encoding %s/%s: %w", coll, doc.Key, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO documents (collection, key, rev, data) VALUES (?, ?, 1, ?)`
	if _, err := tx.ExecContext(ctx, q, coll, doc.Key, string(raw)); err != nil {
		if isConstraintErr(err) {
			return "", fmt.Errorf("%s/%s: %w", coll, doc.Key, store.ErrDuplicate)
		}
		return "", fmt.Errorf("inserting %s/%s: %w", coll, doc.Key, errors.Join(store.ErrDatabase, err))
	}

	if err := indexDocument(ctx, tx, coll, doc.Key, doc.Data); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing insert: %w", err)
	}
	return "1", nil
}

func (d *documents) Update(ctx context.Context, coll, key string, patch map[string]any, ifMatch string, merge bool) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		rev  int64
		data string
	)
	const sel = `SELECT rev, data FROM documents WHERE collection = ? AND key = ?`
	err = tx.QueryRowContext(ctx, sel, coll, key).Scan(&rev, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s/%s: %w", coll, key, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s/%s: %w", coll, key, errors.Join(store.ErrDatabase, err))
	}

	if ifMatch != "" {
		want, perr := strconv.ParseInt(ifMatch, 10, 64)
		if perr != nil || want != rev {
			return "", fmt.Errorf("%s/%s rev %d != %s: %w", coll, key, rev, ifMatch, store.ErrConflict)
		}
	}

	next := patch
	if merge {
		var existing map[string]any
		if err := json.Unmarshal([]byte(data), &existing); err != nil {
			return "", fmt.Errorf("decoding %s/%s: %w", coll, key, err)
		}
		for k, v := range patch {
			existing[k] = v
		}
		next = existing
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return "", fmt.Errorf("encoding %s/%s: %w", coll, key, err)
	}

	newRev := rev + 1
	const upd = `UPDATE documents SET rev = ?, data = ? WHERE collection = ? AND key = ?`
	if _, err := tx.ExecContext(ctx, upd, newRev, string(raw), coll, key); err != nil {
		return "", fmt.Errorf("updating %s/%s: %w", coll, key, errors.Join(store.ErrDatabase, err))
	}

	if err := deindexDocument(ctx, tx, coll, key); err != nil {
		return "", err
	}
	if err := indexDocument(ctx, tx, coll, key, next); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing update: %w", err)
	}
	return strconv.FormatInt(newRev, 10), nil
}

func (d *documents) Delete(ctx context.Context, coll, key string, ignoreMissing bool) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND key = ?`, coll, key)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", coll, key, errors.Join(store.ErrDatabase, err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if ignoreMissing {
			return nil
		}
		return fmt.Errorf("%s/%s: %w", coll, key, store.ErrNotFound)
	}

	if err := deindexDocument(ctx, tx, coll, key); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

func (d *documents) Has(ctx context.Context, coll, key string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE collection = ? AND key = ?`, coll, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s/%s: %w", coll, key, errors.Join(store.ErrDatabase, err))
	}
	return true, nil
}

func (d *documents) Keys(ctx context.Context, coll string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT key FROM documents WHERE collection = ? ORDER BY key`, coll)
	if err != nil {
		return nil, fmt.Errorf("listing %s keys: %w", coll, errors.Join(store.ErrDatabase, err))
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func isConstraintErr(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}

// indexDocument maintains the FTS rows for string fields and the vec rows for
// embedding fields of a freshly written document.
func indexDocument(ctx context.Context, tx *sql.Tx, coll, key string, data map[string]any) error {
	for field, value := range data {
		if text, ok := value.(string); ok && text != "" {
			if err := indexText(ctx, tx, coll, key, field, text); err != nil {
				return err
			}
			continue
		}
		if !isEmbeddingField(field) {
			continue
		}
		vec, ok := store.Float32Slice(value)
		if !ok {
			continue
		}
		if err := indexVector(ctx, tx, coll, key, field, vec); err != nil {
			return err
		}
	}
	return nil
}

func indexText(ctx context.Context, tx *sql.Tx, coll, key, field, text string) error {
	const ins = `INSERT INTO search_docs (collection, key, field) VALUES (?, ?, ?)
ON CONFLICT(collection, key, field) DO NOTHING`
	if _, err := tx.ExecContext(ctx, ins, coll, key, field); err != nil {
		return fmt.Errorf("registering search row: %w", err)
	}

	var id int64
	const sel = `SELECT id FROM search_docs WHERE collection = ? AND key = ? AND field = ?`
	if err := tx.QueryRowContext(ctx, sel, coll, key, field).Scan(&id); err != nil {
		return fmt.Errorf("resolving search row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM docs_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("clearing fts row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO docs_fts (rowid, body) VALUES (?, ?)`, id, text); err != nil {
		return fmt.Errorf("writing fts row: %w", err)
	}
	return nil
}

// indexVector mirrors the embedding into the field's vec0 table when one has
// been built (EnsureIndex). Before the first rebuild, vector search falls back
// to the exact scan.
func indexVector(ctx context.Context, tx *sql.Tx, coll, key, field string, vec []float32) error {
	ok, err := vecTableExists(ctx, tx, field)
	if err != nil || !ok {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serializing embedding: %w", err)
	}

	mapTable := vecMapTable(field)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+mapTable+` (collection, key) VALUES (?, ?)
ON CONFLICT(collection, key) DO NOTHING`, coll, key); err != nil {
		return fmt.Errorf("registering vector row: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM `+mapTable+` WHERE collection = ? AND key = ?`, coll, key).Scan(&id); err != nil {
		return fmt.Errorf("resolving vector row: %w", err)
	}

	vecTable := vecTable(field)
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+vecTable+` WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("clearing vector row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+vecTable+` (rowid, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return fmt.Errorf("writing vector row: %w", err)
	}
	return nil
}

func deindexDocument(ctx context.Context, tx *sql.Tx, coll, key string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM search_docs WHERE collection = ? AND key = ?`, coll, key)
	if err != nil {
		return fmt.Errorf("listing search rows: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scanning search row: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating search rows: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM docs_fts WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("removing fts row: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM search_docs WHERE collection = ? AND key = ?`, coll, key); err != nil {
		return fmt.Errorf("removing search rows: %w", err)
	}

	fields, err := indexedVectorFields(ctx, tx)
	if err != nil {
		return err
	}
	for _, field := range fields {
		mapTable := vecMapTable(field)
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM `+mapTable+` WHERE collection = ? AND key = ?`, coll, key).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolving vector row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+vecTable(field)+` WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("removing vector row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+mapTable+` WHERE id = ?`, id); err != nil {
			return fmt.Errorf("removing vector map row: %w", err)
		}
	}
	return nil
}
