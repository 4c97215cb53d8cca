package protocol

import (
	"errors"
	"fmt"

	"github.com/gantry-project/gantry/internal/faults"
)

// Reserved JSON-RPC 2.0 codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Server codes in the implementation-defined range.
const (
	CodeNotFound      = -32001
	CodeUnauthorized  = -32002
	CodeRateLimited   = -32003
	CodeTimeout       = -32004
	CodeUpstreamError = -32010
	CodeCancelled     = -32800
)

// Error is the JSON-RPC error member. It doubles as a Go error so handlers
// can return one directly.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches structured detail and returns the same error.
func (e *Error) WithData(data interface{}) *Error {
	e.Data = data
	return e
}

// ErrorFor maps an error onto its wire representation. Errors that already
// are *Error pass through; faults map by kind, with validation failures
// carrying their JSON Pointer path in the error data. Anything unclassified
// becomes an internal error with the handler's message.
func ErrorFor(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var f *faults.Fault
	if !errors.As(err, &f) {
		switch faults.KindOf(err) {
		case faults.KindCancelled:
			return &Error{Code: CodeCancelled, Message: "request cancelled"}
		case faults.KindTimeout:
			return &Error{Code: CodeTimeout, Message: "request timed out"}
		}
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
	switch f.Kind {
	case faults.KindValidation:
		e := &Error{Code: CodeInvalidParams, Message: f.Message}
		if f.Path != "" {
			e.Data = map[string]string{"path": f.Path}
		}
		return e
	case faults.KindNotFound:
		return &Error{Code: CodeNotFound, Message: f.Message}
	case faults.KindUnauthorized:
		return &Error{Code: CodeUnauthorized, Message: f.Message}
	case faults.KindRateLimited:
		return &Error{Code: CodeRateLimited, Message: f.Message}
	case faults.KindTimeout:
		return &Error{Code: CodeTimeout, Message: f.Message}
	case faults.KindCancelled:
		return &Error{Code: CodeCancelled, Message: f.Message}
	case faults.KindUpstream:
		e := &Error{Code: CodeUpstreamError, Message: f.Message}
		if f.Status != 0 {
			e.Data = map[string]int{"upstreamStatus": f.Status}
		}
		return e
	default:
		return &Error{Code: CodeInternalError, Message: f.Message}
	}
}
