package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("/params/limit", "limit out of range"), KindValidation},
		{"unauthorized", Unauthorized("bad key"), KindUnauthorized},
		{"not found", NotFound("issue", "abc"), KindNotFound},
		{"upstream", Upstream(502, "bad gateway"), KindUpstream},
		{"wrapped fault", fmt.Errorf("search failed: %w", Timeout("fan-out budget")), KindTimeout},
		{"context canceled", context.Canceled, KindCancelled},
		{"context deadline", context.DeadlineExceeded, KindTimeout},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Upstream(500, "server error")))
	assert.True(t, Retryable(Upstream(503, "unavailable")))
	assert.True(t, Retryable(Transport(errors.New("connection reset"))))
	assert.True(t, Retryable(fmt.Errorf("execute: %w", Upstream(502, "bad gateway"))))

	assert.False(t, Retryable(Upstream(400, "bad request")))
	assert.False(t, Retryable(Unauthorized("invalid key")))
	assert.False(t, Retryable(NotFound("issue", "x")))
	assert.False(t, Retryable(RateLimited("budget exhausted")))
	assert.False(t, Retryable(Timeout("upstream timeout")))
	assert.False(t, Retryable(errors.New("boom")))
}

func TestFaultUnwrap(t *testing.T) {
	cause := errors.New("tls handshake failed")
	f := Transport(cause)
	require.ErrorIs(t, f, cause)
	assert.Contains(t, f.Error(), "UPSTREAM")
	assert.Contains(t, f.Error(), "tls handshake failed")
}

func TestValidationPath(t *testing.T) {
	f := Validation("/params/clientInfo/name", "required field missing")
	assert.Equal(t, "/params/clientInfo/name", f.Path)
	assert.Equal(t, KindValidation, f.Kind)
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, KindCancelled, FromContext(ctx).Kind)

	ctx2, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	<-ctx2.Done()
	assert.Equal(t, KindTimeout, FromContext(ctx2).Kind)
}
