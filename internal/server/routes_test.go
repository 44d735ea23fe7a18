// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultml/vault/internal/engine"
	"github.com/vaultml/vault/internal/server"
	"github.com/vaultml/vault/internal/vault"
)

// seedVault creates a small lineage graph: a file list feeding a document.
func seedVault(t *testing.T, v *vault.Vault) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, v.CreateFileList(ctx, "corpus"))
	_, err := v.AppendFile(ctx, "corpus", "/data/corpus.jsonl")
	require.NoError(t, err)

	require.NoError(t, v.CreateDocumentList(ctx, "report"))
	_, err = v.AppendDocument(ctx, "report", "hello world", nil, nil,
		engine.Dependency{Item: "corpus", Index: 0})
	require.NoError(t, err)
	_, err = v.AppendDocument(ctx, "report", "goodbye", nil, nil)
	require.NoError(t, err)

	require.NoError(t, v.CreateDescription(ctx, "report", "weekly summary", nil))
}

func seededServer(t *testing.T) *server.Server {
	t.Helper()
	v := newTestVault(t)
	seedVault(t, v)
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", Backend: "memory"}, v)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, srv *server.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestRoutes_GetItem(t *testing.T) {
	srv := seededServer(t)

	w := get(t, srv, "/api/v1/items/report")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Name   string `json:"name"`
		Kind   string `json:"kind"`
		NItems int    `json:"n_items"`
		Length int    `json:"length"`
	}
	decode(t, w, &body)
	assert.Equal(t, "report", body.Name)
	assert.Equal(t, "document", body.Kind)
	assert.Equal(t, 2, body.NItems)
	assert.Equal(t, len("hello world")+len("goodbye"), body.Length)
}

func TestRoutes_GetItem_NotFound(t *testing.T) {
	srv := seededServer(t)

	w := get(t, srv, "/api/v1/items/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_GetContent_RangeFilter(t *testing.T) {
	srv := seededServer(t)

	// Full content.
	w := get(t, srv, "/api/v1/items/report/content")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Elements []struct {
			Index int    `json:"index"`
			Text  string `json:"text"`
		} `json:"elements"`
	}
	decode(t, w, &body)
	require.Len(t, body.Elements, 2)
	assert.Equal(t, "hello world", body.Elements[0].Text)
	assert.Equal(t, "goodbye", body.Elements[1].Text)

	// Only the first element intersects [0, 5).
	w = get(t, srv, "/api/v1/items/report/content?start=0&end=5")
	require.Equal(t, http.StatusOK, w.Code)
	body.Elements = nil
	decode(t, w, &body)
	require.Len(t, body.Elements, 1)
	assert.Equal(t, 0, body.Elements[0].Index)
}

func TestRoutes_GetElement(t *testing.T) {
	srv := seededServer(t)

	w := get(t, srv, "/api/v1/items/report/elements/1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	}
	decode(t, w, &body)
	assert.Equal(t, 1, body.Index)
	assert.Equal(t, "goodbye", body.Text)

	w = get(t, srv, "/api/v1/items/report/elements/9")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_Lineage(t *testing.T) {
	srv := seededServer(t)

	var deps struct {
		Dependencies []struct {
			Item  string `json:"item"`
			Index int    `json:"index"`
		} `json:"dependencies"`
	}

	w := get(t, srv, "/api/v1/items/report/parents")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &deps)
	require.Len(t, deps.Dependencies, 1)
	assert.Equal(t, "corpus", deps.Dependencies[0].Item)

	deps.Dependencies = nil
	w = get(t, srv, "/api/v1/items/corpus/children")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &deps)
	require.Len(t, deps.Dependencies, 1)
	assert.Equal(t, "report", deps.Dependencies[0].Item)
}

func TestRoutes_Descriptions(t *testing.T) {
	srv := seededServer(t)

	w := get(t, srv, "/api/v1/items/report/descriptions")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Descriptions []struct {
			Text string `json:"text"`
		} `json:"descriptions"`
	}
	decode(t, w, &body)
	require.Len(t, body.Descriptions, 1)
	assert.Equal(t, "weekly summary", body.Descriptions[0].Text)
}

func TestRoutes_Search(t *testing.T) {
	srv := seededServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search",
		strings.NewReader(`{"kind":"document","text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Rows []struct {
			Name  string `json:"name"`
			Index int    `json:"index"`
		} `json:"rows"`
	}
	decode(t, w, &body)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "report", body.Rows[0].Name)
	assert.Equal(t, 0, body.Rows[0].Index)
}

func TestRoutes_Search_InvalidKind(t *testing.T) {
	srv := seededServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search",
		strings.NewReader(`{"kind":"blob"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	// Rejected either by schema validation or by the planner.
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusUnprocessableEntity}, w.Code)
}

func TestRoutes_Operations_EmptyWhenIdle(t *testing.T) {
	srv := seededServer(t)

	w := get(t, srv, "/api/v1/operations")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Operations []struct {
			Timestamp uint64 `json:"timestamp"`
		} `json:"operations"`
	}
	decode(t, w, &body)
	assert.Empty(t, body.Operations)
}

func TestRoutes_Status(t *testing.T) {
	srv := seededServer(t)

	w := get(t, srv, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Status           string `json:"status"`
		Backend          string `json:"backend"`
		ActiveOperations int    `json:"active_operations"`
	}
	decode(t, w, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "memory", body.Backend)
	assert.Equal(t, 0, body.ActiveOperations)
}
