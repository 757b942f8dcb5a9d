// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package coreerrors defines the stable error taxonomy shared by every
// engine in the orchestration core. Every public operation returns a
// success-or-error outcome; the core never uses panics or exceptions for
// control flow across component boundaries.
package coreerrors

import (
	"errors"
	"fmt"
)

// Kind tags an error with a recovery category, independent of its message.
type Kind string

const (
	KindCancelled          Kind = "cancelled"
	KindTimeout            Kind = "timeout"
	KindTransport          Kind = "transport_error"
	KindProtocol           Kind = "protocol_error"
	KindValidation         Kind = "validation_error"
	KindPermissionDenied   Kind = "permission_denied"
	KindNotFound           Kind = "not_found"
	KindCircularDependency Kind = "circular_dependency"
	KindInvalidDependency  Kind = "invalid_dependency"
	KindDeadlockDetected   Kind = "deadlock_detected"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindLockTimeout        Kind = "lock_timeout"
	KindLockNotHeld        Kind = "lock_not_held"
	KindInvalidLock        Kind = "invalid_lock"
	KindNoSuitableAgent    Kind = "no_suitable_agent"
)

// Error is the structured error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, coreerrors.New(kind, "")) to match by Kind alone.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// New constructs a tagged Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a tagged Error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetail attaches a structured payload (e.g. a DeadlockInfo or
// validation error list) and returns the same error for chaining.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// KindOf extracts the Kind from err, or "" if err is not (or does not wrap)
// a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable classifies which kinds the scheduler may retry automatically.
// Logic errors (validation, not-found, circular/invalid dependency,
// permission) are never auto-retried; transient failures are.
func Retryable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}
