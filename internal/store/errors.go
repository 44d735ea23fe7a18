// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

package store

import "errors"

// Sentinel errors for backend operations.
// These errors can be checked using errors.Is() for classification.
var (
	// ErrNotFound indicates the requested document or edge does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates an insert collided on an existing key.
	ErrDuplicate = errors.New("duplicate key")

	// ErrConflict indicates an if-match-revision precondition failed.
	ErrConflict = errors.New("revision conflict")

	// ErrInvalidInput indicates the input parameters are invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDatabase indicates a general database error occurred.
	// This is a catch-all for unexpected backend failures.
	ErrDatabase = errors.New("database error")
)

func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }
