// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Help(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "vault")
	assert.Contains(t, buf.String(), "serve")
	assert.Contains(t, buf.String(), "status")
	assert.Contains(t, buf.String(), "recover")
	assert.Contains(t, buf.String(), "version")
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"version"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "vault")
}

func TestServeCommand_MissingConfig(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"serve", "--config", "/nonexistent/path.yaml"})

	err := root.Execute()
	assert.Error(t, err)
}

func TestInitCommand_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.yaml")

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"init", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "storage")
}

func TestInitCommand_ExistingConfigNeedsForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity:\n  user_id: keepme\n"), 0o600))

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"init", "--config", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "already exists")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "keepme")

	// --force overwrites.
	root = NewRootCmd()
	buf.Reset()
	root.SetOut(buf)
	root.SetArgs([]string{"init", "--config", path, "--force"})
	require.NoError(t, root.Execute())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "keepme")
}

func TestStatusCommand_ServerRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":            "ok",
			"backend":           "sqlite",
			"active_operations": 2,
		})
	}))
	t.Cleanup(srv.Close)

	addr := strings.TrimPrefix(srv.URL, "http://")

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"status", "--address", addr})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "ok (backend: sqlite)")
	assert.Contains(t, buf.String(), "Active operations: 2")
}

func TestStatusCommand_ServerNotRunning(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	// Port 1 is essentially never listening.
	root.SetArgs([]string{"status", "--address", "127.0.0.1:1"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "not running")
}
