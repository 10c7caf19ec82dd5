package retrieval

import (
	"errors"
	"fmt"
)

// ErrorType defines the category of a retrieval or fetch failure.
type ErrorType string

const (
	// UnsupportedProtocol marks locations rejected before any I/O (bad, missing or unknown scheme).
	UnsupportedProtocol ErrorType = "unsupported_protocol"
	// TransportError marks I/O failures while executing a request.
	TransportError ErrorType = "transport"
	// IncompleteContent marks responses whose status code is outside the complete-content band.
	IncompleteContent ErrorType = "incomplete_content"
	// DecodeFailure marks payloads that could not be interpreted.
	DecodeFailure ErrorType = "decode_failure"
	// NoCandidateURLs marks fetch attempts without any location to choose from.
	NoCandidateURLs ErrorType = "no_candidate_urls"
	// MissingTemplate marks fetch attempts without a retrieval configuration template.
	MissingTemplate ErrorType = "missing_template"
)

// Error describes a categorized retrieval failure.
type Error struct {
	kind       ErrorType
	location   string
	statusCode int
	message    string
	wrapped    error
}

// Error renders the kind, message, location and status of the failure.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error: %s", e.kind, e.message)
	if e.location != "" {
		msg += fmt.Sprintf(" (location: %q)", e.location)
	}
	if e.statusCode != 0 {
		msg += fmt.Sprintf(" (status: %d)", e.statusCode)
	}
	if e.wrapped != nil {
		msg += ": " + e.wrapped.Error()
	}
	return msg
}

// Type returns the failure category.
func (e *Error) Type() ErrorType {
	return e.kind
}

// Location returns the requested location, if any.
func (e *Error) Location() string {
	return e.location
}

// StatusCode returns the HTTP status for IncompleteContent errors, 0 otherwise.
func (e *Error) StatusCode() int {
	return e.statusCode
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// NewUnsupportedProtocolError creates an error for a location rejected before I/O.
func NewUnsupportedProtocolError(location string) *Error {
	return &Error{kind: UnsupportedProtocol, location: location, message: "unsupported or missing protocol"}
}

// NewTransportError creates an error for a failed request execution.
func NewTransportError(location string, wrapped error) *Error {
	return &Error{kind: TransportError, location: location, message: "request execution failed", wrapped: wrapped}
}

// NewIncompleteContentError creates an error for a response outside the complete-content band.
func NewIncompleteContentError(location string, statusCode int) *Error {
	return &Error{kind: IncompleteContent, location: location, statusCode: statusCode, message: "response does not carry complete content"}
}

// NewDecodeError creates an error for a payload that could not be decoded.
func NewDecodeError(location string, wrapped error) *Error {
	return &Error{kind: DecodeFailure, location: location, message: "failed to decode response", wrapped: wrapped}
}

// NewNoCandidateURLsError creates an error for a fetch without locations.
func NewNoCandidateURLsError() *Error {
	return &Error{kind: NoCandidateURLs, message: "no URL to fetch from"}
}

// NewMissingTemplateError creates an error for a fetch without configuration template.
func NewMissingTemplateError() *Error {
	return &Error{kind: MissingTemplate, message: "no retrieval configuration template set"}
}

// IsErrorType checks if an error is of a specific type.
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	var retrievalErr *Error
	if errors.As(err, &retrievalErr) {
		return retrievalErr.Type() == errorType
	}
	return false
}
