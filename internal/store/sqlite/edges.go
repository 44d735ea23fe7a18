// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vaultml/vault/internal/store"
)

// Compile-time interface check.
var _ store.EdgeStore = (*edges)(nil)

type edges struct {
	db *sql.DB
}

func (e *edges) Insert(ctx context.Context, coll string, edge store.Edge) error {
	attrs := []byte("{}")
	if len(edge.Attrs) > 0 {
		var err error
		attrs, err = json.Marshal(edge.Attrs)
		if err != nil {
			return fmt.Errorf("encoding edge attrs: %w", err)
		}
	}

	const q = `INSERT INTO edges (collection, key, src, dst, attrs) VALUES (?, ?, ?, ?, ?)`
	if _, err := e.db.ExecContext(ctx, q, coll, edge.Key, edge.From, edge.To, string(attrs)); err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%s/%s: %w", coll, edge.Key, store.ErrDuplicate)
		}
		return fmt.Errorf("inserting edge %s/%s: %w", coll, edge.Key, errors.Join(store.ErrDatabase, err))
	}
	return nil
}

func (e *edges) Delete(ctx context.Context, coll, key string, ignoreMissing bool) error {
	res, err := e.db.ExecContext(ctx,
		`DELETE FROM edges WHERE collection = ? AND key = ?`, coll, key)
	if err != nil {
		return fmt.Errorf("deleting edge %s/%s: %w", coll, key, errors.Join(store.ErrDatabase, err))
	}
	n, _ := res.RowsAffected()
	if n == 0 && !ignoreMissing {
		return fmt.Errorf("%s/%s: %w", coll, key, store.ErrNotFound)
	}
	return nil
}

func (e *edges) From(ctx context.Context, coll, fromID string) ([]store.Edge, error) {
	const q = `SELECT key, src, dst, attrs FROM edges
WHERE collection = ? AND src = ? ORDER BY key`
	return e.scan(ctx, q, coll, fromID)
}

func (e *edges) To(ctx context.Context, coll, toID string) ([]store.Edge, error) {
	const q = `SELECT key, src, dst, attrs FROM edges
WHERE collection = ? AND dst = ? ORDER BY key`
	return e.scan(ctx, q, coll, toID)
}

func (e *edges) scan(ctx context.Context, q, coll, id string) ([]store.Edge, error) {
	rows, err := e.db.QueryContext(ctx, q, coll, id)
	if err != nil {
		return nil, fmt.Errorf("scanning edges: %w", errors.Join(store.ErrDatabase, err))
	}
	defer rows.Close()

	var out []store.Edge
	for rows.Next() {
		var (
			edge  store.Edge
			attrs string
		)
		if err := rows.Scan(&edge.Key, &edge.From, &edge.To, &attrs); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &edge.Attrs); err != nil {
			return nil, fmt.Errorf("decoding edge attrs %s: %w", edge.Key, err)
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}
