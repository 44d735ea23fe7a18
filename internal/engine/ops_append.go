// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vaultml/vault/internal/ledger"
	"github.com/vaultml/vault/internal/store"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// Session cell statuses.
const (
	CellStatusStart    = "start"
	CellStatusComplete = "complete"
)

// Dependency names a producer element feeding the appended element.
type Dependency struct {
	Item  string
	Index int
}

// AppendInput carries one element append. Exactly one payload group is set
// according to the list's kind. Index and Start default to the list head's
// current counters; supplying one of the pair without the other is rejected.
type AppendInput struct {
	Name  string
	Index *int
	Start *int

	Location string         // file
	Text     string         // document, session
	Status   string         // session cell
	Vector   []float32      // embedding
	Record   map[string]any // record
	DataText string         // record, searchable projection

	Dependencies []Dependency
}

// AppendResult reports where the element landed.
type AppendResult struct {
	Index int
	Start int
	End   int
}

// AppendItem appends one element to a named list: soft lock, payload insert,
// edge wiring, list-head advance, all compensated as a unit.
func (e *Engine) AppendItem(ctx context.Context, in AppendInput) (*AppendResult, error) {
	if in.Name == "" {
		return nil, vaulterr.New(vaulterr.CodeEngineAppendInvalid, "item name must not be empty")
	}
	if (in.Index == nil) != (in.Start == nil) {
		return nil, vaulterr.New(vaulterr.CodeEngineAppendInvalid, "index and start position must be supplied together",
			vaulterr.FieldItem(in.Name))
	}

	var res *AppendResult
	args := []string{OpAppendItem, in.Name}
	err := e.run(ctx, args, func(ts uint64) error {
		var err error
		res, err = e.appendItem(ctx, ts, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) appendItem(ctx context.Context, ts uint64, in AppendInput) (*AppendResult, error) {
	item, _, err := e.readItem(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	kind, err := store.KindOfListCollection(item.Collection)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "descriptor has no list collection",
			vaulterr.FieldItem(in.Name))
	}

	if err := e.lockItem(ctx, in.Name, ts); err != nil {
		return nil, err
	}

	head, _, err := e.readHead(ctx, item.Collection, in.Name)
	if err != nil {
		return nil, err
	}
	extent, err := validateAppend(kind, head, in)
	if err != nil {
		return nil, err
	}

	index, start := head.NItems, head.Length
	if in.Index != nil {
		index, start = *in.Index, *in.Start
	}
	end := start + extent

	elemColl := kind.ElementCollection()
	elemKey := store.ElementKey(in.Name, index)
	advance := index == head.NItems
	newN, newLen := head.NItems, head.Length
	if advance {
		newN = head.NItems + 1
		newLen = end
	}

	// Persist the compensation inputs before any side effect.
	full := []string{OpAppendItem, in.Name, item.Collection, elemKey,
		strconv.Itoa(head.NItems), strconv.Itoa(head.Length),
		strconv.Itoa(newN), strconv.Itoa(newLen)}
	if err := e.led.UpdateArgs(ctx, ts, full); err != nil {
		return nil, err
	}

	elem := store.Element{
		Index:     index,
		Start:     start,
		End:       end,
		Timestamp: ts,
		Location:  in.Location,
		Text:      in.Text,
		Status:    in.Status,
		Data:      in.Record,
		DataText:  in.DataText,
	}
	data, err := store.EncodeDoc(elem)
	if err != nil {
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "encoding element")
	}
	if kind == store.KindEmbedding {
		data[store.EmbeddingField(head.NDim)] = in.Vector
	}
	if _, err := e.st.Documents().Insert(ctx, elemColl, &store.Document{Key: elemKey, Data: data}); err != nil {
		if store.IsDuplicate(err) {
			return nil, vaulterr.New(vaulterr.CodeStoreElementDuplicate, "element index already occupied",
				vaulterr.FieldItem(in.Name), vaulterr.FieldKey(elemKey))
		}
		return nil, vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "inserting element",
			vaulterr.FieldItem(in.Name), vaulterr.FieldKey(elemKey))
	}

	if err := e.insertParentEdge(ctx, ts, item.Collection, in.Name, elemColl, elemKey, start, end); err != nil {
		return nil, err
	}
	if sess, ok := e.currentSession(); ok && kind != store.KindSession {
		if err := e.insertSessionParentEdge(ctx, ts, sess, store.NodeID(elemColl, elemKey)); err != nil {
			return nil, err
		}
	}
	for _, dep := range in.Dependencies {
		if err := e.wireDependency(ctx, ts, dep, store.NodeID(elemColl, elemKey)); err != nil {
			return nil, err
		}
	}

	if advance {
		patch := map[string]any{"n_items": newN, "length": newLen}
		if err := e.patchHead(ctx, item.Collection, in.Name, patch); err != nil {
			return nil, err
		}
	}

	if kind == store.KindEmbedding {
		if err := e.vec.recordInsert(ctx, head.NDim); err != nil {
			return nil, err
		}
	}
	if err := e.bumpVersion(ctx, in.Name); err != nil {
		return nil, err
	}
	return &AppendResult{Index: index, Start: start, End: end}, nil
}

// validateAppend checks the payload against the list's kind and returns the
// element's positional extent.
func validateAppend(kind store.Kind, head *store.ListHead, in AppendInput) (int, error) {
	switch kind {
	case store.KindFile:
		if in.Location == "" {
			return 0, vaulterr.New(vaulterr.CodeEngineAppendInvalid, "file element requires a location",
				vaulterr.FieldItem(in.Name))
		}
		return 1, nil
	case store.KindDocument, store.KindSession:
		if in.Text == "" {
			return 0, vaulterr.New(vaulterr.CodeEngineAppendInvalid, "text element requires non-empty text",
				vaulterr.FieldItem(in.Name))
		}
		return len(in.Text), nil
	case store.KindEmbedding:
		if len(in.Vector) != head.NDim {
			return 0, vaulterr.New(vaulterr.CodeEngineDimMismatch, "vector dimension does not match list",
				vaulterr.FieldItem(in.Name),
				vaulterr.Field("want", head.NDim), vaulterr.Field("got", len(in.Vector)))
		}
		return 1, nil
	case store.KindRecord:
		if err := checkColumns(head.ColumnNames, in.Record); err != nil {
			return 0, vaulterr.Wrap(err, vaulterr.CodeEngineColumnsMismatch, "record columns do not match list",
				vaulterr.FieldItem(in.Name))
		}
		return 1, nil
	}
	return 0, vaulterr.New(vaulterr.CodeEngineAppendInvalid, "unknown list kind",
		vaulterr.FieldItem(in.Name))
}

func checkColumns(want []string, record map[string]any) error {
	if len(record) != len(want) {
		return fmt.Errorf("want %d columns, got %d", len(want), len(record))
	}
	for _, col := range want {
		if _, ok := record[col]; !ok {
			return fmt.Errorf("missing column %q", col)
		}
	}
	return nil
}

// wireDependency resolves the producer element, verifies it exists, and
// inserts the dependency edge carrying the producer-side range.
func (e *Engine) wireDependency(ctx context.Context, ts uint64, dep Dependency, consumerNode string) error {
	producer, _, err := e.readItem(ctx, dep.Item)
	if err != nil {
		return err
	}
	kind, err := store.KindOfListCollection(producer.Collection)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "descriptor has no list collection",
			vaulterr.FieldItem(dep.Item))
	}
	producerKey := store.ElementKey(dep.Item, dep.Index)

	doc, err := e.st.Documents().Get(ctx, kind.ElementCollection(), producerKey)
	if err != nil {
		if store.IsNotFound(err) {
			return vaulterr.New(vaulterr.CodeStoreItemNotFound, "producer element does not exist",
				vaulterr.FieldItem(dep.Item), vaulterr.FieldKey(producerKey))
		}
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading producer element",
			vaulterr.FieldKey(producerKey))
	}
	var prod store.Element
	if err := store.DecodeDoc(doc.Data, &prod); err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "decoding producer element",
			vaulterr.FieldKey(producerKey))
	}

	return e.insertDependencyEdge(ctx, ts, kind.ElementCollection(), producerKey,
		prod.Start, prod.End, consumerNode)
}

// reverseAppendItem undoes a (possibly partial) append: element, edges, and
// the list-head advance, each step verified against the owning timestamp.
func reverseAppendItem(ctx context.Context, e *Engine, entry ledger.Entry) error {
	// Args shorter than the full layout mean the append failed before its
	// first side effect; nothing to undo.
	if len(entry.Args) < 8 {
		return nil
	}
	name, listColl, elemKey := entry.Args[1], entry.Args[2], entry.Args[3]
	prevN, err1 := strconv.Atoi(entry.Args[4])
	prevLen, err2 := strconv.Atoi(entry.Args[5])
	newN, err3 := strconv.Atoi(entry.Args[6])
	newLen, err4 := strconv.Atoi(entry.Args[7])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return vaulterr.New(vaulterr.CodeEngineReverseFailure, "malformed append op args",
			vaulterr.FieldTimestamp(entry.TS))
	}
	kind, err := store.KindOfListCollection(listColl)
	if err != nil {
		return vaulterr.Wrap(err, vaulterr.CodeEngineReverseFailure, "malformed append op args",
			vaulterr.FieldTimestamp(entry.TS))
	}
	elemColl := kind.ElementCollection()
	elemNode := store.NodeID(elemColl, elemKey)

	doc, err := e.st.Documents().Get(ctx, elemColl, elemKey)
	switch {
	case err == nil:
		var elem store.Element
		if derr := store.DecodeDoc(doc.Data, &elem); derr != nil {
			return vaulterr.Wrap(derr, vaulterr.CodeEngineReverseFailure, "decoding orphan element",
				vaulterr.FieldKey(elemKey))
		}
		if elem.Timestamp == entry.TS {
			if derr := e.st.Documents().Delete(ctx, elemColl, elemKey, true); derr != nil {
				return vaulterr.Wrap(derr, vaulterr.CodeStoreDatabaseFailure, "removing orphan element",
					vaulterr.FieldKey(elemKey))
			}
		}
	case store.IsNotFound(err):
		// Crash before the payload insert; edges may still exist.
	default:
		return vaulterr.Wrap(err, vaulterr.CodeStoreDatabaseFailure, "reading orphan element",
			vaulterr.FieldKey(elemKey))
	}

	if err := e.deleteDependencyEdgesTo(ctx, entry.TS, elemNode); err != nil {
		return err
	}
	if err := e.deleteEdge(ctx, store.EdgeParent, tsKey(entry.TS)); err != nil {
		return err
	}
	if err := e.deleteEdge(ctx, store.EdgeSessionParent, tsKey(entry.TS)); err != nil {
		return err
	}

	// Roll the counters back only when they still show this append's advance.
	if newN != prevN || newLen != prevLen {
		head, _, err := e.readHead(ctx, listColl, name)
		if err != nil {
			if vaulterr.IsNotFound(err) {
				return nil
			}
			return err
		}
		if head.NItems == newN && head.Length == newLen {
			patch := map[string]any{"n_items": prevN, "length": prevLen}
			if err := e.patchHead(ctx, listColl, name, patch); err != nil {
				return err
			}
		}
	}
	return nil
}
