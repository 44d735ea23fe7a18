// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreItemNotFound       Code = "store.item.get.not_found"
	CodeStoreItemDuplicate      Code = "store.item.create.duplicate"
	CodeStoreElementDuplicate   Code = "store.element.append.duplicate"
	CodeStoreUpdateConflict     Code = "store.document.update.conflict"
	CodeStoreInvalidInput       Code = "store.invalid_input"
	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"

	CodeLedgerAcquireTimeout Code = "ledger.timestamp.acquire.lock_timeout"
	CodeLedgerEntryNotFound  Code = "ledger.entry.get.not_found"
	CodeLedgerLogFailure     Code = "ledger.log.append.failure"

	CodeEngineLockTimeout     Code = "engine.item.lock.lock_timeout"
	CodeEngineAppendInvalid   Code = "engine.append.invalid_input"
	CodeEngineColumnsMismatch Code = "engine.record.columns.invalid_input"
	CodeEngineDimMismatch     Code = "engine.embedding.dimension.invalid_input"
	CodeEngineReverseFailure  Code = "engine.reverse.failure"
	CodeEngineRecoveryFailure Code = "engine.recovery.failure"

	CodeQueryItemNotFound    Code = "query.item.get.not_found"
	CodeQueryInvalidRange    Code = "query.range.invalid_input"
	CodeRetrievalKindInvalid Code = "retrieval.kind.invalid_input"

	CodeSessionNotFound       Code = "session.target.get.not_found"
	CodeSessionNotPaused      Code = "session.resume.state.invalid_input"
	CodeSessionSignalFailure  Code = "session.signal.failure"
	CodeSessionCellOutOfOrder Code = "session.cell.order.invalid_input"

	CodeVaultAlreadyInitialised Code = "vault.init.conflict"
	CodeVaultClosed             Code = "vault.closed.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeSecretResolveFailure Code = "secret.resolve.failure"
	CodeSecretInvalidInput   Code = "secret.ref.invalid_input"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretListFailure    Code = "secret.list.failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeCLISetupFailure Code = "cli.setup.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldItem(value string) Attr {
	return Field("item", value)
}

func FieldCollection(value string) Attr {
	return Field("collection", value)
}

func FieldKey(value string) Attr {
	return Field("key", value)
}

func FieldTimestamp(value uint64) Attr {
	return Field("timestamp", value)
}

func FieldOperation(value string) Attr {
	return Field("operation", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsDuplicate(err error) bool {
	return reason(CodeOf(err)) == "duplicate"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

// IsLockTimeout reports whether the error is a soft-lock or timestamp
// acquisition timeout.
func IsLockTimeout(err error) bool {
	return reason(CodeOf(err)) == "lock_timeout"
}

func IsDatabaseFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "database") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsDuplicate(err), IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsLockTimeout(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
