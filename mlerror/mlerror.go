// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package mlerror defines the kind-only error taxonomy shared by every
package in this module. No stringly typed error codes leak to the host;
callers switch on Kind.
*/
package mlerror

import "fmt"

// Kind enumerates the error categories a caller can usefully branch on.
type Kind int

const (
	// IoError is a storage open/read/write/seek failure.
	IoError Kind = iota
	// HeaderMismatch is a magic or geometry mismatch in a file.
	HeaderMismatch
	// Truncated is a record or tree cut short of its declared length.
	Truncated
	// CapacityExceeded is a value that would exceed a hard MAX_* limit.
	CapacityExceeded
	// InsufficientMemory is a failed pre-flight heap check.
	InsufficientMemory
	// InsufficientStorage is a failed pre-flight free-space check.
	InsufficientStorage
	// NotLoaded is access to a released Dataset/Tree/Forest.
	NotLoaded
	// MalformedTable is a categorizer or dp row failing validation.
	MalformedTable
	// NotReady is a resource flag set missing a prerequisite artifact.
	NotReady
)

func (k Kind) String() string {
	switch k {
	case IoError:
		return "IoError"
	case HeaderMismatch:
		return "HeaderMismatch"
	case Truncated:
		return "Truncated"
	case CapacityExceeded:
		return "CapacityExceeded"
	case InsufficientMemory:
		return "InsufficientMemory"
	case InsufficientStorage:
		return "InsufficientStorage"
	case NotLoaded:
		return "NotLoaded"
	case MalformedTable:
		return "MalformedTable"
	case NotReady:
		return "NotReady"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with a message and optional underlying cause.
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

// Is reports whether target is an *Error of the same Kind, so callers can
// use errors.Is(err, mlerror.New(mlerror.NotLoaded, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
