// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package main

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultml/vault/internal/secrets"
	vaulterr "github.com/vaultml/vault/pkg/errors"
)

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	data map[string]string // key -> value (service is always "vault")
}

func newMockSecretStore(keys ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for _, k := range keys {
		m.data[k] = "redacted"
	}
	return m
}

func (m *mockSecretStore) Store(_, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(_, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", vaulterr.Errorf(vaulterr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	if _, ok := m.data[key]; !ok {
		return vaulterr.Errorf(vaulterr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func withMockStore(t *testing.T, mock *mockSecretStore) {
	t.Helper()
	origFactory := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return mock }
	t.Cleanup(func() { secretStoreFactory = origFactory })
}

func runSecretCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"secret"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestSecretSet(t *testing.T) {
	mock := newMockSecretStore()
	withMockStore(t, mock)

	out, err := runSecretCmd(t, "set", "store-credentials", "user:pass")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored secret: store-credentials")
	assert.Contains(t, out, "keyring://vault/store-credentials")
	assert.Equal(t, "user:pass", mock.data["store-credentials"])
}

func TestSecretList(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		wantKeys []string
		wantMsg  string // exact output for empty case
	}{
		{
			name:    "empty store",
			keys:    nil,
			wantMsg: "No secrets stored.\n",
		},
		{
			name:     "single key",
			keys:     []string{"store-credentials"},
			wantKeys: []string{"store-credentials"},
		},
		{
			name:     "multiple keys",
			keys:     []string{"cred-1", "cred-2"},
			wantKeys: []string{"cred-1", "cred-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withMockStore(t, newMockSecretStore(tt.keys...))

			out, err := runSecretCmd(t, "list")
			require.NoError(t, err)

			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, out)
			} else {
				// Sort output lines for deterministic comparison (map iteration order).
				got := strings.Split(strings.TrimSpace(out), "\n")
				sort.Strings(got)
				want := append([]string(nil), tt.wantKeys...)
				sort.Strings(want)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestSecretDelete(t *testing.T) {
	mock := newMockSecretStore("store-credentials")
	withMockStore(t, mock)

	out, err := runSecretCmd(t, "delete", "store-credentials")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted secret: store-credentials")
	assert.Empty(t, mock.data)
}

func TestSecretDelete_NotFound(t *testing.T) {
	withMockStore(t, newMockSecretStore())

	_, err := runSecretCmd(t, "delete", "nope")
	require.Error(t, err)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeSecretNotFound))
}
