// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"
	"time"

	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// claimName registers a globally unique item name by inserting its descriptor.
// The inserting timestamp starts out owning the descriptor's soft lock.
func (e *Engine) claimName(ctx context.Context, name, listColl string, ts uint64) (string, error) {
	item := store.Item{
		Collection: listColl,
		Timestamp:  ts,
		Version:    time.Now().UnixNano(),
	}
	data, err := store.EncodeDoc(item)
	if err != nil {
		return "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "encoding item descriptor")
	}

	rev, err := e.st.Documents().Insert(ctx, store.CollItems, &store.Document{Key: name, Data: data})
	if err != nil {
		if store.IsDuplicate(err) {
			return "", vaulterr.New(vaulterr.CodeStoreItemDuplicate, "item name already registered",
				vaulterr.FieldItem(name))
		}
		return "", vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "registering item name",
			vaulterr.FieldItem(name))
	}
	return rev, nil
}

// lockItem acquires the item's soft lock for ts. The lock is a stale-owner
// lock: a descriptor whose timestamp no longer appears in the active ledger is
// free, regardless of its value. Release is implicit through commit, so there
// is no unlock path here.
func (e *Engine) lockItem(ctx context.Context, name string, ts uint64) error {
	deadline := time.Now().Add(e.led.Timeout())
	for {
		doc, err := e.st.Documents().Get(ctx, store.CollItems, name)
		if err != nil {
			if store.IsNotFound(err) {
				return vaulterr.New(vaulterr.CodeStoreItemNotFound, "item does not exist",
					vaulterr.FieldItem(name))
			}
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading item descriptor",
				vaulterr.FieldItem(name))
		}
		var item store.Item
		if err := store.DecodeDoc(doc.Data, &item); err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding item descriptor",
				vaulterr.FieldItem(name))
		}

		free := item.Timestamp == 0 || item.Timestamp == ts
		if !free {
			active, err := e.led.IsActive(ctx, item.Timestamp)
			if err != nil {
				return err
			}
			free = !active
		}

		if free {
			_, err := e.st.Documents().Update(ctx, store.CollItems, name,
				map[string]any{"timestamp": ts}, doc.Rev, true)
			if err == nil {
				return nil
			}
			if !store.IsConflict(err) {
				return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "taking item lock",
					vaulterr.FieldItem(name))
			}
			// Someone raced us onto a fresh revision; fall through and retry.
		}

		if time.Now().Add(e.led.WaitTime()).After(deadline) {
			return vaulterr.New(vaulterr.CodeEngineLockTimeout, "item lock not acquired within budget",
				vaulterr.FieldItem(name), vaulterr.FieldTimestamp(ts))
		}
		select {
		case <-ctx.Done():
			return vaulterr.Wrap(ctx.Err(), vaulterr.CodeEngineLockTimeout, "cancelled waiting for item lock",
				vaulterr.FieldItem(name))
		case <-time.After(e.led.WaitTime()):
		}
	}
}
