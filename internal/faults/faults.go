// Package faults defines the error taxonomy shared by the session core,
// the upstream client, and the search engine. Callers classify errors by
// Kind rather than by concrete type.
package faults

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindUpstream
	KindRateLimited
	KindTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindUpstream:
		return "UPSTREAM"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindTimeout:
		return "TIMEOUT"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "INTERNAL"
	}
}

// Fault is a classified error. Path carries a JSON Pointer to the offending
// input field for validation failures; Status carries the upstream HTTP
// status when one exists. Transient marks upstream failures that a retry
// may resolve (transport resets, 5xx).
type Fault struct {
	Kind      Kind
	Message   string
	Path      string
	Status    int
	Transient bool
	Err       error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

func Validation(path, format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Path: path}
}

func Unauthorized(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource, id string) *Fault {
	return &Fault{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

func Upstream(status int, format string, args ...interface{}) *Fault {
	return &Fault{
		Kind:      KindUpstream,
		Message:   fmt.Sprintf(format, args...),
		Status:    status,
		Transient: status >= 500,
	}
}

// Transport wraps a network-level failure (connection reset, DNS, TLS).
// These are always retryable.
func Transport(err error) *Fault {
	return &Fault{Kind: KindUpstream, Message: "transport failure", Transient: true, Err: err}
}

func RateLimited(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindRateLimited, Message: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func Cancelled(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindCancelled, Message: fmt.Sprintf(format, args...)}
}

func Internal(err error) *Fault {
	return &Fault{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf classifies an arbitrary error. Context errors map to Cancelled and
// Timeout; anything that is not a Fault is Internal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Retryable reports whether a retry may resolve err. Only transient upstream
// failures qualify; GraphQL-level errors, auth failures, rate limiting and
// timeouts never do.
func Retryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == KindUpstream && f.Transient
	}
	return false
}

// FromContext converts a context error after ctx.Done fires.
func FromContext(ctx context.Context) *Fault {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Timeout("deadline exceeded")
	}
	return Cancelled("request cancelled")
}
