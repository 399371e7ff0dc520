// Copyright 2022 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package hnswerr defines the typed error kinds the HNSW core signals,
// mirroring the sentinel-error idiom used throughout triedb/pathdb
// (errSnapshotStale, errUnexpectedHistory, ...) but exported and wrapped
// so callers outside the package can use errors.Is/errors.As.
package hnswerr

import "fmt"

// Kind classifies an error without pinning its message, so callers can
// branch with errors.Is(err, hnswerr.NotFoundErr) regardless of the
// wrapped detail.
type Kind int

const (
	// BufIoError is any read/write failure against the buffered file
	// manager; fatal to the operation in progress.
	BufIoError Kind = iota
	// NotFound is returned when a referenced external id, lazy node, or
	// prop record cannot be resolved.
	NotFound
	// LockError is a failure to acquire a lock guarding the prop file or
	// a version-chain write guard.
	LockError
	// MetadataError is a schema/field mismatch in replica expansion.
	MetadataError
	// ServerError wraps unexpected invariant breaches.
	ServerError
)

func (k Kind) String() string {
	switch k {
	case BufIoError:
		return "BufIoError"
	case NotFound:
		return "NotFound"
	case LockError:
		return "LockError"
	case MetadataError:
		return "MetadataError"
	case ServerError:
		return "ServerError"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type returned by the HNSW core. It carries
// a Kind for programmatic dispatch and wraps the underlying cause, if
// any, for unwrapping.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, hnswerr.NotFoundErr) style checks against a
// bare Kind value wrapped as an *Error{Kind: k}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels usable with errors.Is for kind-only matching.
var (
	NotFoundErr = &Error{Kind: NotFound}
	ErrBufIo    = &Error{Kind: BufIoError}
	ErrLock     = &Error{Kind: LockError}
	ErrMetadata = &Error{Kind: MetadataError}
	ErrServer   = &Error{Kind: ServerError}
)
