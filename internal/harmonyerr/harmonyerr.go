// Copyright 2025 James Ross
// Package harmonyerr implements the stable error taxonomy shared by every
// layer of Harmony's job orchestration core.
package harmonyerr

import (
	"errors"
	"fmt"
)

// Code is one of the stable, client-facing error codes named in the
// orchestration core's error handling design.
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeDependency       Code = "DEPENDENCY_ERROR"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeLeaseLost        Code = "LEASE_LOST"
	CodeBudgetExhausted  Code = "BUDGET_EXHAUSTED"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Error is the envelope every client-facing port wraps failures in:
// {ok:false, error:{code, message, meta?}}.
type Error struct {
	Code    Code
	Message string
	Meta    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a stable code to an underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithMeta returns a copy of e carrying additional structured metadata
// (e.g. retry_after_ms for RATE_LIMITED).
func (e *Error) WithMeta(kv ...any) *Error {
	meta := make(map[string]any, len(e.Meta)+len(kv)/2)
	for k, v := range e.Meta {
		meta[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			meta[key] = kv[i+1]
		}
	}
	return &Error{Code: e.Code, Message: e.Message, Meta: meta, cause: e.cause}
}

// Is reports whether err carries the given stable code.
func Is(err error, code Code) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// CodeOf extracts the stable code from err, defaulting to INTERNAL_ERROR.
func CodeOf(err error) Code {
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	return CodeInternal
}
