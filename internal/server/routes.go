// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vaultml/vault/internal/lineage"
	"github.com/vaultml/vault/internal/retrieval"
	"github.com/vaultml/vault/internal/store"
	"github.com/vaultml/vault/pkg/health"
)

func (s *Server) registerRoutes() {
	// Item endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{name}",
		Summary:     "Get item head",
		Tags:        []string{"items"},
	}, s.handleGetItem)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-item-content",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{name}/content",
		Summary:     "List item elements in a position range",
		Tags:        []string{"items"},
	}, s.handleGetContent)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-item-element",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{name}/elements/{index}",
		Summary:     "Get one element by index",
		Tags:        []string{"items"},
	}, s.handleGetElement)

	// Lineage endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "get-item-parents",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{name}/parents",
		Summary:     "List producer elements feeding the item",
		Tags:        []string{"lineage"},
	}, s.handleGetParents)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-item-children",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{name}/children",
		Summary:     "List consumer elements fed by the item",
		Tags:        []string{"lineage"},
	}, s.handleGetChildren)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-item-descriptions",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{name}/descriptions",
		Summary:     "List item descriptions",
		Tags:        []string{"lineage"},
	}, s.handleGetDescriptions)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-item-creation-session",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{name}/creation-session",
		Summary:     "Get the session cell that created the item",
		Tags:        []string{"lineage"},
	}, s.handleGetCreationSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-item-sessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{name}/sessions",
		Summary:     "List session cells that wrote into the item",
		Tags:        []string{"lineage"},
	}, s.handleGetItemSessions)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session-items",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{name}/items",
		Summary:     "List item spans a session touched",
		Tags:        []string{"lineage"},
	}, s.handleGetSessionItems)

	// Retrieval endpoint. POST because vector filters do not fit in a URL.
	huma.Register(s.api, huma.Operation{
		OperationID: "search-collection",
		Method:      http.MethodPost,
		Path:        "/api/v1/search",
		Summary:     "Hybrid retrieval over one kind",
		Tags:        []string{"retrieval"},
	}, s.handleSearch)

	// Operational endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-operations",
		Method:      http.MethodGet,
		Path:        "/api/v1/operations",
		Summary:     "List in-flight operations",
		Tags:        []string{"system"},
	}, s.handleListOperations)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-vector-indices",
		Method:      http.MethodGet,
		Path:        "/api/v1/indices",
		Summary:     "List vector index counters",
		Tags:        []string{"system"},
	}, s.handleListIndices)

	huma.Register(s.api, huma.Operation{
		OperationID: "vault-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Vault status",
		Tags:        []string{"system"},
	}, s.handleStatus)
}

// --- Request/Response types for huma ---

type itemNameInput struct {
	Name string `path:"name" doc:"Item name"`
}

type rangeInput struct {
	Name  string `path:"name" doc:"Item name"`
	Start *int   `query:"start" required:"false" doc:"Inclusive start position"`
	End   *int   `query:"end" required:"false" doc:"Exclusive end position"`
}

type itemHead struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind" example:"document"`
	NItems      int      `json:"n_items"`
	Length      int      `json:"length"`
	NDim        int      `json:"n_dim,omitempty"`
	ColumnNames []string `json:"column_names,omitempty"`
}

type getItemOutput struct {
	Body itemHead
}

type elementBody struct {
	Key      string         `json:"key"`
	Index    int            `json:"index"`
	Start    int            `json:"start_position"`
	End      int            `json:"end_position"`
	Location string         `json:"location,omitempty"`
	Text     string         `json:"text,omitempty"`
	Status   string         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	DataText string         `json:"data_text,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
}

type getContentOutput struct {
	Body struct {
		Elements []elementBody `json:"elements"`
	}
}

type getElementInput struct {
	Name  string `path:"name" doc:"Item name"`
	Index int    `path:"index" minimum:"0" doc:"Element index"`
}

type getElementOutput struct {
	Body elementBody
}

type dependencyBody struct {
	Item  string `json:"item"`
	Index int    `json:"index"`
	Start int    `json:"start_position"`
	End   int    `json:"end_position"`
}

type getDependenciesOutput struct {
	Body struct {
		Dependencies []dependencyBody `json:"dependencies"`
	}
}

type descriptionBody struct {
	Key   string `json:"key"`
	Text  string `json:"text"`
	Start int    `json:"start_position"`
	End   int    `json:"end_position"`
}

type getDescriptionsOutput struct {
	Body struct {
		Descriptions []descriptionBody `json:"descriptions"`
	}
}

type sessionRefBody struct {
	Session string `json:"session"`
	Cell    int    `json:"cell"`
}

type getCreationSessionOutput struct {
	Body sessionRefBody
}

type getItemSessionsOutput struct {
	Body struct {
		Sessions []sessionRefBody `json:"sessions"`
	}
}

type itemSpanBody struct {
	Item  string `json:"item"`
	Start int    `json:"start_position"`
	End   int    `json:"end_position"`
}

type getSessionItemsOutput struct {
	Body struct {
		Items []itemSpanBody `json:"items"`
	}
}

type searchInput struct {
	Body struct {
		Kind              string    `json:"kind" enum:"file,document,embedding,record,session" doc:"Item kind to search"`
		Text              string    `json:"text,omitempty" doc:"Token-AND match on the kind's payload field"`
		Vector            []float32 `json:"vector,omitempty" doc:"Similarity match on embedding elements"`
		DescriptionText   string    `json:"description_text,omitempty"`
		DescriptionVector []float32 `json:"description_vector,omitempty"`
		SessionCode       string    `json:"session_code,omitempty" doc:"Match on producing session cell code"`
		Names             []string  `json:"names,omitempty" doc:"Restrict to these item names"`
		TopK              int       `json:"top_k,omitempty" minimum:"0" doc:"Per-modality candidate cap"`
	}
}

type searchRowBody struct {
	Name                string           `json:"name"`
	Index               int              `json:"index"`
	MatchedDescriptions []string         `json:"matched_descriptions,omitempty"`
	MatchedSessions     []sessionRefBody `json:"matched_sessions,omitempty"`
}

type searchOutput struct {
	Body struct {
		Rows []searchRowBody `json:"rows"`
	}
}

type operationBody struct {
	Timestamp uint64    `json:"timestamp"`
	StartedAt time.Time `json:"started_at"`
	Kind      string    `json:"kind"`
	Args      []string  `json:"args"`
}

type listOperationsOutput struct {
	Body struct {
		Operations []operationBody `json:"operations"`
	}
}

type indexStatBody struct {
	Field      string `json:"field"`
	TotalCount int64  `json:"total_count"`
	IdxCount   int64  `json:"idx_count"`
}

type listIndicesOutput struct {
	Body struct {
		Indices []indexStatBody `json:"indices"`
	}
}

type statusOutput struct {
	Body health.Snapshot
}

// --- Handlers ---

func (s *Server) handleGetItem(ctx context.Context, input *itemNameInput) (*getItemOutput, error) {
	head, kind, err := s.vault.QueryItemList(ctx, input.Name)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("getting item %q", input.Name))
	}
	return &getItemOutput{Body: itemHead{
		Name:        input.Name,
		Kind:        string(kind),
		NItems:      head.NItems,
		Length:      head.Length,
		NDim:        head.NDim,
		ColumnNames: head.ColumnNames,
	}}, nil
}

func (s *Server) handleGetContent(ctx context.Context, input *rangeInput) (*getContentOutput, error) {
	elems, err := s.vault.QueryItemContent(ctx, input.Name, input.Start, input.End)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("reading content of %q", input.Name))
	}
	out := &getContentOutput{}
	out.Body.Elements = make([]elementBody, 0, len(elems))
	for _, el := range elems {
		out.Body.Elements = append(out.Body.Elements, toElementBody(el))
	}
	return out, nil
}

func (s *Server) handleGetElement(ctx context.Context, input *getElementInput) (*getElementOutput, error) {
	el, err := s.vault.QueryItemIndex(ctx, input.Name, input.Index)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("reading element %d of %q", input.Index, input.Name))
	}
	return &getElementOutput{Body: toElementBody(*el)}, nil
}

func (s *Server) handleGetParents(ctx context.Context, input *rangeInput) (*getDependenciesOutput, error) {
	refs, err := s.vault.QueryItemParent(ctx, input.Name, input.Start, input.End)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("listing parents of %q", input.Name))
	}
	return dependenciesOutput(refs), nil
}

func (s *Server) handleGetChildren(ctx context.Context, input *rangeInput) (*getDependenciesOutput, error) {
	refs, err := s.vault.QueryItemChild(ctx, input.Name, input.Start, input.End)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("listing children of %q", input.Name))
	}
	return dependenciesOutput(refs), nil
}

func (s *Server) handleGetDescriptions(ctx context.Context, input *itemNameInput) (*getDescriptionsOutput, error) {
	descs, err := s.vault.QueryItemDescription(ctx, input.Name)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("listing descriptions of %q", input.Name))
	}
	out := &getDescriptionsOutput{}
	out.Body.Descriptions = make([]descriptionBody, 0, len(descs))
	for _, d := range descs {
		out.Body.Descriptions = append(out.Body.Descriptions, descriptionBody{
			Key: d.Key, Text: d.Text, Start: d.Start, End: d.End,
		})
	}
	return out, nil
}

func (s *Server) handleGetCreationSession(ctx context.Context, input *itemNameInput) (*getCreationSessionOutput, error) {
	ref, err := s.vault.QueryItemCreationSession(ctx, input.Name)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("resolving creation session of %q", input.Name))
	}
	if ref == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("item %q was not created inside a session", input.Name))
	}
	return &getCreationSessionOutput{Body: sessionRefBody{Session: ref.Session, Cell: ref.Cell}}, nil
}

func (s *Server) handleGetItemSessions(ctx context.Context, input *rangeInput) (*getItemSessionsOutput, error) {
	refs, err := s.vault.QueryItemSession(ctx, input.Name, input.Start, input.End)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("listing sessions of %q", input.Name))
	}
	out := &getItemSessionsOutput{}
	out.Body.Sessions = make([]sessionRefBody, 0, len(refs))
	for _, r := range refs {
		out.Body.Sessions = append(out.Body.Sessions, sessionRefBody{Session: r.Session, Cell: r.Cell})
	}
	return out, nil
}

func (s *Server) handleGetSessionItems(ctx context.Context, input *itemNameInput) (*getSessionItemsOutput, error) {
	spans, err := s.vault.QuerySessionItem(ctx, input.Name)
	if err != nil {
		return nil, apiError(err, fmt.Sprintf("listing items of session %q", input.Name))
	}
	out := &getSessionItemsOutput{}
	out.Body.Items = make([]itemSpanBody, 0, len(spans))
	for _, sp := range spans {
		out.Body.Items = append(out.Body.Items, itemSpanBody{Item: sp.Item, Start: sp.Start, End: sp.End})
	}
	return out, nil
}

func (s *Server) handleSearch(ctx context.Context, input *searchInput) (*searchOutput, error) {
	rows, err := s.vault.QueryCollection(ctx, retrieval.Filters{
		Kind:              store.Kind(input.Body.Kind),
		Text:              input.Body.Text,
		Vector:            input.Body.Vector,
		DescriptionText:   input.Body.DescriptionText,
		DescriptionVector: input.Body.DescriptionVector,
		SessionCode:       input.Body.SessionCode,
		Names:             input.Body.Names,
		TopK:              input.Body.TopK,
	})
	if err != nil {
		return nil, apiError(err, "running retrieval query")
	}
	out := &searchOutput{}
	out.Body.Rows = make([]searchRowBody, 0, len(rows))
	for _, row := range rows {
		body := searchRowBody{
			Name:                row.Name,
			Index:               row.Index,
			MatchedDescriptions: row.MatchedDescriptions,
		}
		for _, c := range row.MatchedSessions {
			body.MatchedSessions = append(body.MatchedSessions, sessionRefBody{Session: c.Session, Cell: c.Cell})
		}
		out.Body.Rows = append(out.Body.Rows, body)
	}
	return out, nil
}

func (s *Server) handleListOperations(ctx context.Context, _ *struct{}) (*listOperationsOutput, error) {
	entries, err := s.vault.GetCurrentOperations(ctx)
	if err != nil {
		return nil, apiError(err, "listing operations")
	}
	out := &listOperationsOutput{}
	out.Body.Operations = make([]operationBody, 0, len(entries))
	for _, e := range entries {
		out.Body.Operations = append(out.Body.Operations, operationBody{
			Timestamp: e.TS,
			StartedAt: e.Wall,
			Kind:      e.Kind(),
			Args:      e.Args,
		})
	}
	return out, nil
}

func (s *Server) handleListIndices(ctx context.Context, _ *struct{}) (*listIndicesOutput, error) {
	stats, err := s.vault.Engine().VectorIndexStats(ctx)
	if err != nil {
		return nil, apiError(err, "listing vector indices")
	}
	out := &listIndicesOutput{}
	out.Body.Indices = make([]indexStatBody, 0, len(stats))
	for field, stat := range stats {
		out.Body.Indices = append(out.Body.Indices, indexStatBody{
			Field: field, TotalCount: stat.TotalCount, IdxCount: stat.IdxCount,
		})
	}
	sort.Slice(out.Body.Indices, func(i, j int) bool {
		return out.Body.Indices[i].Field < out.Body.Indices[j].Field
	})
	return out, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	entries, err := s.vault.GetCurrentOperations(ctx)
	if err != nil {
		return nil, apiError(err, "reading vault status")
	}

	snap := health.Snapshot{
		Status:           "ok",
		Backend:          s.cfg.Backend,
		ActiveOperations: len(entries),
	}
	for _, e := range entries {
		if snap.OldestActiveAt == nil || e.Wall.Before(*snap.OldestActiveAt) {
			t := e.Wall
			snap.OldestActiveAt = &t
		}
	}
	return &statusOutput{Body: snap}, nil
}

// --- Helpers ---

func toElementBody(el lineage.Element) elementBody {
	return elementBody{
		Key:      el.Key,
		Index:    el.Index,
		Start:    el.Start,
		End:      el.End,
		Location: el.Location,
		Text:     el.Text,
		Status:   el.Status,
		Error:    el.Error,
		Data:     el.Data,
		DataText: el.DataText,
		Vector:   el.Vector,
	}
}

func dependenciesOutput(refs []lineage.DependencyRef) *getDependenciesOutput {
	out := &getDependenciesOutput{}
	out.Body.Dependencies = make([]dependencyBody, 0, len(refs))
	for _, r := range refs {
		out.Body.Dependencies = append(out.Body.Dependencies, dependencyBody{
			Item: r.Item, Index: r.Index, Start: r.Start, End: r.End,
		})
	}
	return out
}
