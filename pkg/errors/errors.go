// Package errors provides structured error types for the depot server.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the ingestion engine and HTTP surface
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow a hierarchical naming convention:
//   - VERSION_* / UNRECOGNIZED_*: Input validation failures
//   - ARCHIVE_* / MANIFEST_*: Archive and manifest handling failures
//   - UPSTREAM_*: Source provider integration failures
//   - *_NOT_FOUND / SOURCE_*: Resolution failures
//
// # Usage
//
//	err := errors.New(errors.ErrCodeManifestNotFound, "composer.json not found in archive")
//	if errors.Is(err, errors.ErrCodeManifestNotFound) {
//	    // Handle missing manifest
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeArchiveFetch, origErr, "failed to fetch %s", url)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeVersionNotFound      Code = "VERSION_NOT_FOUND"
	ErrCodeVersionNotResolvable Code = "VERSION_NOT_RESOLVABLE"
	ErrCodeUnrecognizedPayload  Code = "UNRECOGNIZED_PAYLOAD"

	// Archive and manifest errors
	ErrCodeArchiveOpen        Code = "ARCHIVE_OPEN_FAILED"
	ErrCodeManifestNotFound   Code = "MANIFEST_NOT_FOUND"
	ErrCodeManifestParse      Code = "MANIFEST_PARSE_FAILED"
	ErrCodeArchiveContentType Code = "ARCHIVE_INVALID_CONTENT_TYPE"

	// Upstream integration errors
	ErrCodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamAuth        Code = "UPSTREAM_AUTH"
	ErrCodeUpstreamProtocol    Code = "UPSTREAM_PROTOCOL"
	ErrCodeArchiveFetch        Code = "ARCHIVE_FETCH_FAILED"

	// Resolution errors
	ErrCodePackageNotFound  Code = "PACKAGE_NOT_FOUND"
	ErrCodeRepoNotFound     Code = "REPOSITORY_NOT_FOUND"
	ErrCodeSourceUnresolved Code = "SOURCE_UNRESOLVED"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
