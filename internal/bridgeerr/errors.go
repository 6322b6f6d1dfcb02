// Package bridgeerr defines the error taxonomy shared by the HTTP, WebSocket
// and MCP front ends so that a single typed error translates consistently
// to all three wire shapes.
package bridgeerr

import (
	"fmt"
	"net/http"
)

// Code identifies a class of error from §7 of the gateway contract.
type Code string

const (
	CodeValidation        Code = "ValidationError"
	CodeAuthMalformed     Code = "AuthMalformed"
	CodeAuthUnrecognized  Code = "AuthUnrecognized"
	CodeAuthInvalid       Code = "AuthInvalid"
	CodeAuthReplay        Code = "AuthReplay"
	CodeAuthStale         Code = "AuthStale"
	CodeAuthRequired      Code = "AuthRequired"
	CodeQuotaExceeded     Code = "QuotaExceeded"
	CodeNotFound          Code = "NotFound"
	CodeQueueFull         Code = "QueueFull"
	CodeUpstreamError     Code = "UpstreamError"
	CodeWorkerTimeout     Code = "Timeout"
	CodeCommandForbidden  Code = "CommandForbidden"
	CodeNonZeroExit       Code = "NonZeroExit"
	CodeOutputCapExceeded Code = "OutputCapExceeded"
	CodeConflict          Code = "Conflict"
	CodeShutdown          Code = "ShutdownInProgress"
	CodeInternal          Code = "InternalError"
)

// Error is the typed error carried from a component up to a front end.
// Details is optional structured context (e.g. quota numbers) marshalled
// verbatim into the JSON error body's `details` field.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an *Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Withf builds an *Error with a formatted message.
func Withf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured detail fields and returns the receiver.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// HTTPStatus maps a Code to the HTTP status spec.md §7 requires.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthMalformed, CodeAuthUnrecognized, CodeAuthInvalid, CodeAuthReplay, CodeAuthStale, CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	case CodeQueueFull:
		return http.StatusServiceUnavailable
	case CodeUpstreamError:
		return http.StatusBadGateway
	case CodeConflict:
		return http.StatusConflict
	case CodeShutdown:
		return http.StatusServiceUnavailable
	case CodeWorkerTimeout, CodeCommandForbidden, CodeNonZeroExit, CodeOutputCapExceeded:
		// Worker errors surface as a 200 terminal task record, not an HTTP
		// error status; callers that need the HTTP status for some other
		// edge (e.g. a synchronous submit that never even reached the
		// worker) should not construct these codes directly.
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// JSONRPCCode maps a Code to a JSON-RPC 2.0 error code for the MCP surface.
func (e *Error) JSONRPCCode() int {
	switch e.Code {
	case CodeValidation:
		return -32602 // Invalid params
	case CodeAuthMalformed, CodeAuthUnrecognized, CodeAuthInvalid, CodeAuthReplay, CodeAuthStale, CodeAuthRequired:
		return -32600 // Invalid request
	case CodeNotFound:
		return -32602
	case CodeQueueFull, CodeShutdown:
		return -32603
	default:
		return -32603 // Internal error
	}
}

// Body is the JSON shape returned on HTTP error responses.
type Body struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToBody renders the wire body for an *Error.
func (e *Error) ToBody() Body {
	return Body{Code: string(e.Code), Message: e.Message, Details: e.Details}
}

// As extracts a *Error from err, or returns nil if err is not one.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*Error); ok {
		return be
	}
	return nil
}
