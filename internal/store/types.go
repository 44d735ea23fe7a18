// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Collection names. The layout is fixed: one descriptor collection, one
// list-head collection and one element collection per kind, plus the
// description, metadata, and edge collections.
const (
	CollItems       = "items"
	CollMetadata    = "metadata"
	CollDescription = "description"

	EdgeParent        = "parent_edge"
	EdgeDependency    = "dependency_edge"
	EdgeSessionParent = "session_parent_edge"
	EdgeDescription   = "description_edge"

	// MetadataKey is the key of the single global metadata document.
	MetadataKey = "global"
)

// Kind is the logical list kind of an item.
type Kind string

const (
	KindSession   Kind = "session"
	KindFile      Kind = "file"
	KindDocument  Kind = "document"
	KindEmbedding Kind = "embedding"
	KindRecord    Kind = "record"
)

// Kinds lists all item kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindSession, KindFile, KindDocument, KindEmbedding, KindRecord}
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSession, KindFile, KindDocument, KindEmbedding, KindRecord:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown item kind %q", s)
}

// ListCollection returns the list-head collection for the kind
// (e.g. "file_list").
func (k Kind) ListCollection() string { return string(k) + "_list" }

// ElementCollection returns the element collection for the kind (e.g. "file").
func (k Kind) ElementCollection() string { return string(k) }

// KindOfListCollection maps "file_list" back to KindFile.
func KindOfListCollection(coll string) (Kind, error) {
	name, ok := strings.CutSuffix(coll, "_list")
	if !ok {
		return "", fmt.Errorf("not a list collection: %q", coll)
	}
	return ParseKind(name)
}

// Collections lists every document collection the engine uses.
func Collections() []string {
	colls := []string{CollItems, CollMetadata, CollDescription}
	for _, k := range Kinds() {
		colls = append(colls, k.ListCollection(), k.ElementCollection())
	}
	return colls
}

// EdgeCollections lists every edge collection.
func EdgeCollections() []string {
	return []string{EdgeParent, EdgeDependency, EdgeSessionParent, EdgeDescription}
}

// Document is a raw store document: key, revision, and JSON-compatible data.
type Document struct {
	Key  string
	Rev  string
	Data map[string]any
}

// Edge is a directed edge. From and To are "collection/key" node ids.
type Edge struct {
	Key   string
	From  string
	To    string
	Attrs map[string]any
}

// Scored is one search or vector hit.
type Scored struct {
	Collection string
	Key        string
	Score      float64
	Doc        map[string]any
}

// IndexParams configures a cosine vector index rebuild.
type IndexParams struct {
	Dimension          int
	NLists             int
	DefaultNProbe      int
	TrainingIterations int
}

// NodeID joins a collection and key into a node id.
func NodeID(coll, key string) string { return coll + "/" + key }

// SplitNodeID splits a node id into collection and key.
func SplitNodeID(id string) (coll, key string) {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// ElementKey builds the deterministic element key "{list}_{index}".
func ElementKey(listName string, index int) string {
	return fmt.Sprintf("%s_%d", listName, index)
}

// EmbeddingField names the per-dimension embedding field.
func EmbeddingField(dim int) string {
	return fmt.Sprintf("embedding_%d", dim)
}

// Item is the descriptor in the items collection, one per logical list.
// The document key is the item name.
type Item struct {
	Collection string `json:"collection"`
	Timestamp  uint64 `json:"timestamp"`
	Version    int64  `json:"version"`
}

// ListHead is the per-item head document in the kind's list collection.
// Length is the cumulative position extent: characters for documents and
// sessions, element count for files, embeddings, and records.
type ListHead struct {
	NItems int `json:"n_items"`
	Length int `json:"length"`

	// embedding_list only
	NDim int `json:"n_dim,omitempty"`
	// record_list only
	ColumnNames []string `json:"column_names,omitempty"`

	// session_list only
	PID              int    `json:"pid,omitempty"`
	InterruptRequest string `json:"interrupt_request,omitempty"`
	InterruptAction  string `json:"interrupt_action,omitempty"`
}

// Element is one appended unit, keyed "{list}_{index}". Exactly one payload
// field group is set depending on the kind; embeddings live in a raw
// "embedding_<dim>" field handled outside this struct.
type Element struct {
	Index     int    `json:"index"`
	Start     int    `json:"start_position"`
	End       int    `json:"end_position"`
	Timestamp uint64 `json:"timestamp"`

	Location string         `json:"location,omitempty"` // file
	Text     string         `json:"text,omitempty"`     // document, session
	Status   string         `json:"status,omitempty"`   // session cell status
	Error    string         `json:"error,omitempty"`    // session cell error
	Data     map[string]any `json:"data,omitempty"`     // record
	DataText string         `json:"data_text,omitempty"`
}

// Description is a text+embedding annotation attached to an item. The
// embedding lives in a raw "embedding_<dim>" field next to these.
type Description struct {
	Text       string `json:"text"`
	ItemName   string `json:"item_name"`
	Collection string `json:"collection"`
	Start      int    `json:"start_position"`
	End        int    `json:"end_position"`
	Timestamp  uint64 `json:"timestamp"`
}

// ActiveOp is one in-flight ledger entry.
type ActiveOp struct {
	Wall time.Time `json:"wall_time"`
	Args []string  `json:"op_args"`
}

// VectorIndexStat tracks insert/index counters for one embedding field.
type VectorIndexStat struct {
	TotalCount int64 `json:"total_count"`
	IdxCount   int64 `json:"idx_count"`
}

// Metadata is the single global metadata document.
type Metadata struct {
	NewTimestamp     uint64                     `json:"new_timestamp"`
	ActiveTimestamps map[string]ActiveOp        `json:"active_timestamps"`
	LogFile          string                     `json:"log_file"`
	VectorIndices    map[string]VectorIndexStat `json:"vector_indices"`
}

// EncodeDoc converts a typed value into document data via a JSON round-trip.
func EncodeDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeDoc converts document data back into a typed value.
func DecodeDoc(m map[string]any, v any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Float32Slice coerces a decoded JSON value into []float32. Backends hand
// embeddings back as []any or []float64 after round-trips.
func Float32Slice(v any) ([]float32, bool) {
	switch vec := v.(type) {
	case []float32:
		return vec, true
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, true
	case []any:
		out := make([]float32, len(vec))
		for i, e := range vec {
			f, ok := e.(float64)
			if !ok {
				if f32, ok32 := e.(float32); ok32 {
					out[i] = f32
					continue
				}
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	}
	return nil, false
}
