// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	vaulterr "github.com/vaultml/vault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := vaulterr.New(
		vaulterr.CodeEngineAppendInvalid,
		"index without start position",
		vaulterr.FieldItem("doc-list-1"),
		vaulterr.Field("index", 4),
	)

	require.Error(t, err)
	assert.Equal(t, vaulterr.CodeEngineAppendInvalid, vaulterr.CodeOf(err))
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeEngineAppendInvalid))

	fields := vaulterr.FieldsOf(err)
	assert.Equal(t, "doc-list-1", fields["item"])
	assert.Equal(t, 4, fields["index"])
}

func TestNewWithNoFields(t *testing.T) {
	err := vaulterr.New(vaulterr.CodeStoreDatabaseFailure, "connection lost")
	require.Error(t, err)
	assert.Equal(t, vaulterr.CodeStoreDatabaseFailure, vaulterr.CodeOf(err))
	assert.Contains(t, err.Error(), "connection lost")
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := vaulterr.Errorf(vaulterr.CodeEngineLockTimeout, "locking %s after %d ms", "emb-list", 60000)
	require.Error(t, err)
	assert.Equal(t, vaulterr.CodeEngineLockTimeout, vaulterr.CodeOf(err))
	assert.Contains(t, err.Error(), "locking emb-list after 60000 ms")
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := vaulterr.Errorf(vaulterr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, vaulterr.CodeStoreDatabaseFailure, vaulterr.CodeOf(err))
}

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("record missing")
	err := vaulterr.Wrap(
		root,
		vaulterr.CodeStoreItemNotFound,
		"loading descriptor",
		vaulterr.FieldItem("F"),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, vaulterr.CodeStoreItemNotFound, vaulterr.CodeOf(err))
	assert.True(t, vaulterr.IsNotFound(err))
	assert.Equal(t, "F", vaulterr.FieldsOf(err)["item"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, vaulterr.Wrap(nil, vaulterr.CodeServerInternalFailure, "ignored"))
}

func TestWrapfNilReturnsNil(t *testing.T) {
	assert.NoError(t, vaulterr.Wrapf(nil, vaulterr.CodeServerInternalFailure, "ignored %s", "arg"))
}

func TestWrapfFormatsAndPreservesChain(t *testing.T) {
	root := stderrors.New("timeout")
	err := vaulterr.Wrapf(root, vaulterr.CodeEngineRecoveryFailure, "reversing op %d kind %s", 17, "append_item")

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, vaulterr.CodeEngineRecoveryFailure, vaulterr.CodeOf(err))
	assert.Contains(t, err.Error(), "reversing op 17 kind append_item")
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	base := vaulterr.New(vaulterr.CodeStoreItemDuplicate, "name taken")
	withCtx := vaulterr.With(base, vaulterr.FieldCollection("file_list"))

	require.Error(t, withCtx)
	assert.Equal(t, vaulterr.CodeStoreItemDuplicate, vaulterr.CodeOf(withCtx))
	assert.Equal(t, "file_list", vaulterr.FieldsOf(withCtx)["collection"])
}

func TestWithNilReturnsNil(t *testing.T) {
	assert.NoError(t, vaulterr.With(nil, vaulterr.FieldItem("x")))
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	plain := stderrors.New("something broke")
	enriched := vaulterr.With(plain, vaulterr.FieldKey("k-1"))

	require.Error(t, enriched)
	assert.Equal(t, vaulterr.CodeServerInternalFailure, vaulterr.CodeOf(enriched))
	assert.Equal(t, "k-1", vaulterr.FieldsOf(enriched)["key"])
}

func TestHasCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code vaulterr.Code
		want bool
	}{
		{
			name: "matching code",
			err:  vaulterr.New(vaulterr.CodeQueryItemNotFound, "gone"),
			code: vaulterr.CodeQueryItemNotFound,
			want: true,
		},
		{
			name: "non-matching code",
			err:  vaulterr.New(vaulterr.CodeQueryItemNotFound, "gone"),
			code: vaulterr.CodeStoreDatabaseFailure,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			code: vaulterr.CodeQueryItemNotFound,
			want: false,
		},
		{
			name: "plain stdlib error has no code",
			err:  stderrors.New("plain"),
			code: vaulterr.CodeServerInternalFailure,
			want: false,
		},
		{
			name: "wrapped coded error returns innermost code",
			err: vaulterr.Wrap(
				vaulterr.New(vaulterr.CodeStoreDatabaseFailure, "inner"),
				vaulterr.CodeServerInternalFailure, "outer",
			),
			code: vaulterr.CodeStoreDatabaseFailure,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, vaulterr.HasCode(tt.err, tt.code))
		})
	}
}

func TestCodeOfNil(t *testing.T) {
	assert.Equal(t, vaulterr.Code(""), vaulterr.CodeOf(nil))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, vaulterr.Code(""), vaulterr.CodeOf(stderrors.New("plain")))
}

func TestCodeOfReturnsInnermostCodedError(t *testing.T) {
	inner := vaulterr.New(vaulterr.CodeStoreDatabaseFailure, "db")
	outer := vaulterr.Wrap(inner, vaulterr.CodeServerInternalFailure, "handler")
	// oops.AsOops walks to the deepest oops error, so CodeOf returns the innermost code.
	assert.Equal(t, vaulterr.CodeStoreDatabaseFailure, vaulterr.CodeOf(outer))
}

func TestFieldsOfNil(t *testing.T) {
	assert.Nil(t, vaulterr.FieldsOf(nil))
}

func TestFieldsOfPlainError(t *testing.T) {
	assert.Nil(t, vaulterr.FieldsOf(stderrors.New("plain")))
}

func TestTypedFieldHelpers(t *testing.T) {
	tests := []struct {
		name string
		attr vaulterr.Attr
		key  string
		val  any
	}{
		{"item", vaulterr.FieldItem("F"), "item", "F"},
		{"collection", vaulterr.FieldCollection("document_list"), "collection", "document_list"},
		{"key", vaulterr.FieldKey("D_3"), "key", "D_3"},
		{"timestamp", vaulterr.FieldTimestamp(42), "timestamp", uint64(42)},
		{"operation", vaulterr.FieldOperation("append_item"), "operation", "append_item"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.val, tt.attr.Value)
		})
	}
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := vaulterr.New(vaulterr.CodeStoreDatabaseFailure, "oops",
		vaulterr.Field("", "should-be-dropped"),
		vaulterr.FieldItem("kept"),
	)
	fields := vaulterr.FieldsOf(err)
	assert.Equal(t, "kept", fields["item"])
	assert.NotContains(t, fields, "")
}

func TestErrorIsWithWrappedChain(t *testing.T) {
	sentinel := stderrors.New("root cause")
	mid := fmt.Errorf("mid: %w", sentinel)
	outer := vaulterr.Wrap(mid, vaulterr.CodeServerInternalFailure, "handler")

	assert.ErrorIs(t, outer, sentinel)
}

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   vaulterr.Code
		status int
		check  func(error) bool
	}{
		{name: "item not found", code: vaulterr.CodeStoreItemNotFound, status: 404, check: vaulterr.IsNotFound},
		{name: "query not found", code: vaulterr.CodeQueryItemNotFound, status: 404, check: vaulterr.IsNotFound},
		{name: "session not found", code: vaulterr.CodeSessionNotFound, status: 404, check: vaulterr.IsNotFound},
		{name: "duplicate item", code: vaulterr.CodeStoreItemDuplicate, status: 409, check: vaulterr.IsDuplicate},
		{name: "duplicate element", code: vaulterr.CodeStoreElementDuplicate, status: 409, check: vaulterr.IsDuplicate},
		{name: "update conflict", code: vaulterr.CodeStoreUpdateConflict, status: 409, check: vaulterr.IsConflict},
		{name: "already initialised", code: vaulterr.CodeVaultAlreadyInitialised, status: 409, check: vaulterr.IsConflict},
		{name: "append invalid", code: vaulterr.CodeEngineAppendInvalid, status: 400, check: vaulterr.IsInvalidInput},
		{name: "columns mismatch", code: vaulterr.CodeEngineColumnsMismatch, status: 400, check: vaulterr.IsInvalidInput},
		{name: "config invalid value", code: vaulterr.CodeConfigValidateInvalidValue, status: 400, check: vaulterr.IsInvalidInput},
		{name: "timestamp lock timeout", code: vaulterr.CodeLedgerAcquireTimeout, status: 503, check: vaulterr.IsLockTimeout},
		{name: "soft lock timeout", code: vaulterr.CodeEngineLockTimeout, status: 503, check: vaulterr.IsLockTimeout},
		{name: "database failure", code: vaulterr.CodeStoreDatabaseFailure, status: 500, check: vaulterr.IsDatabaseFailure},
		{name: "internal", code: vaulterr.CodeServerInternalFailure, status: 500, check: func(err error) bool { return !vaulterr.IsNotFound(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vaulterr.New(tt.code, "boom")
			assert.Equal(t, tt.status, vaulterr.HTTPStatus(err))
			assert.True(t, tt.check(err))
		})
	}
}

func TestClassificationNegativeCases(t *testing.T) {
	err := vaulterr.New(vaulterr.CodeStoreDatabaseFailure, "db error")
	assert.False(t, vaulterr.IsNotFound(err))
	assert.False(t, vaulterr.IsConflict(err))
	assert.False(t, vaulterr.IsDuplicate(err))
	assert.False(t, vaulterr.IsInvalidInput(err))
	assert.False(t, vaulterr.IsLockTimeout(err))
}

func TestClassificationOnNilError(t *testing.T) {
	assert.False(t, vaulterr.IsNotFound(nil))
	assert.False(t, vaulterr.IsConflict(nil))
	assert.False(t, vaulterr.IsDuplicate(nil))
	assert.False(t, vaulterr.IsInvalidInput(nil))
	assert.False(t, vaulterr.IsLockTimeout(nil))
}

func TestHTTPStatusNilReturnsInternalServerError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, vaulterr.HTTPStatus(nil))
}

func TestHTTPStatusPlainErrorReturnsInternalServerError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, vaulterr.HTTPStatus(stderrors.New("oops")))
}

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	joined := vaulterr.Join(a, b)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, vaulterr.CodeServerInternalFailure, vaulterr.CodeOf(joined))
}

func TestWrapMessageIncludesContext(t *testing.T) {
	root := stderrors.New("EOF")
	err := vaulterr.Wrap(root, vaulterr.CodeStoreDatabaseFailure, "reading rows")

	msg := err.Error()
	assert.Contains(t, msg, "reading rows")
	assert.Contains(t, msg, "EOF")
}
