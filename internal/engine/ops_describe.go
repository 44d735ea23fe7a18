// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// DescriptionInput attaches a text+embedding annotation to an item. Start and
// End default to the item's full extent.
type DescriptionInput struct {
	Item   string
	Text   string
	Vector []float32
	Start  *int
	End    *int
}

// AddDescription writes the description document, the description edge, and a
// session-parent edge when running inside a session cell.
func (e *Engine) AddDescription(ctx context.Context, in DescriptionInput) error {
	if in.Item == "" || in.Text == "" {
		return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "description requires an item name and text",
			vaulterr.FieldItem(in.Item))
	}
	if (in.Start == nil) != (in.End == nil) {
		return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "start and end positions must be supplied together",
			vaulterr.FieldItem(in.Item))
	}

	args := []string{OpAddDescription, in.Item}
	return e.run(ctx, args, func(ts uint64) error {
		item, _, err := e.readItem(ctx, in.Item)
		if err != nil {
			return err
		}
		if err := e.lockItem(ctx, in.Item, ts); err != nil {
			return err
		}
		head, _, err := e.readHead(ctx, item.Collection, in.Item)
		if err != nil {
			return err
		}

		start, end := 0, head.Length
		if in.Start != nil {
			start, end = *in.Start, *in.End
		}
		if end < start {
			return vaulterr.New(vaulterr.CodeEngineAppendInvalid, "description range is inverted",
				vaulterr.FieldItem(in.Item))
		}

		descKey := descriptionKey(in.Item)
		if err := e.led.UpdateArgs(ctx, ts, []string{OpAddDescription, in.Item, descKey}); err != nil {
			return err
		}

		desc := store.Description{
			Text:       in.Text,
			ItemName:   in.Item,
			Collection: item.Collection,
			Start:      start,
			End:        end,
			Timestamp:  ts,
		}
		data, err := store.EncodeDoc(desc)
		if err != nil {
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "encoding description")
		}
		if len(in.Vector) > 0 {
			data[store.EmbeddingField(len(in.Vector))] = in.Vector
		}
		if _, err := e.st.Documents().Insert(ctx, store.CollDescription, &store.Document{Key: descKey, Data: data}); err != nil {
			if !store.IsDuplicate(err) {
				return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "inserting description",
					vaulterr.FieldItem(in.Item), vaulterr.FieldKey(descKey))
			}
		}

		if err := e.insertDescriptionEdge(ctx, ts, item.Collection, in.Item, descKey); err != nil {
			return err
		}
		if sess, ok := e.currentSession(); ok {
			if err := e.insertSessionParentEdge(ctx, ts, sess, store.NodeID(store.CollDescription, descKey)); err != nil {
				return err
			}
		}

		if len(in.Vector) > 0 {
			if err := e.vec.recordInsert(ctx, len(in.Vector)); err != nil {
				return err
			}
		}
		return e.bumpVersion(ctx, in.Item)
	})
}

func descriptionKey(item string) string {
	return fmt.Sprintf("%s_%s_DESCRIPT", item, uuid.NewString())
}

// reverseAddDescription removes the description document and both edges keyed
// by the timestamp.
func reverseAddDescription(ctx context.Context, e *Engine, entry ledger.Entry) error {
	// Two args mean the operation failed before choosing a description key;
	// only timestamp-keyed edges could exist.
	if len(entry.Args) >= 3 {
		descKey := entry.Args[2]
		doc, err := e.st.Documents().Get(ctx, store.CollDescription, descKey)
		switch {
		case err == nil:
			var desc store.Description
			if derr := store.DecodeDoc(doc.Data, &desc); derr != nil {
				return vaulterr.Wrap(derr, vaulterr.CodeEngineReverseFailure, "decoding orphan description",
					vaulterr.FieldKey(descKey))
			}
			if desc.Timestamp == entry.TS {
				if derr := e.st.Documents().Delete(ctx, store.CollDescription, descKey, true); derr != nil {
					return vaulterr.Wrap(derr, vaulterr.CodeStoreDatabaseFailure, "removing orphan description",
						vaulterr.FieldKey(descKey))
				}
			}
		case store.IsNotFound(err):
		default:
			return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading orphan description",
				vaulterr.FieldKey(descKey))
		}
	}

	if err := e.deleteEdge(ctx, store.EdgeDescription, tsKey(entry.TS)); err != nil {
		return err
	}
	return e.deleteEdge(ctx, store.EdgeSessionParent, tsKey(entry.TS))
}
