package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindNotFound, "file missing")
	assert.Equal(t, "[not_found] file missing", err.Error())

	wrapped := Wrap(fmt.Errorf("disk full"), KindStoreUnavailable, "open db")
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.Equal(t, KindStoreUnavailable, KindOf(wrapped))
}

func TestWrapNil(t *testing.T) {
	var err error
	require.Nil(t, Wrap(err, KindInternal, "noop"))
}

func TestWrapSameKindPassthrough(t *testing.T) {
	inner := New(KindConflict, "sync source present")
	outer := Wrap(inner, KindConflict, "replace refused")
	assert.Same(t, inner, outer)
}

func TestKindOfChain(t *testing.T) {
	inner := New(KindEmbedFailed, "embedder offline")
	outer := fmt.Errorf("indexing docs: %w", inner)
	assert.Equal(t, KindEmbedFailed, KindOf(outer))
	assert.True(t, IsRetryable(outer))
}

func TestRetryableKinds(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindProviderTransient, true},
		{KindStoreUnavailable, true},
		{KindEmbedFailed, true},
		{KindNotFound, false},
		{KindProviderFatal, false},
		{KindConflict, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, New(tt.kind, "x").Retryable, string(tt.kind))
	}
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(New(KindCancelled, "stopped")))
	assert.True(t, IsCancelled(fmt.Errorf("run: %w", context.DeadlineExceeded)))
	assert.False(t, IsCancelled(New(KindInternal, "boom")))
	assert.False(t, IsCancelled(nil))
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 1*time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 32*time.Second, b.Delay(5))
	assert.Equal(t, 60*time.Second, b.Delay(6))
	assert.Equal(t, 60*time.Second, b.Delay(20))
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Backoff{Base: time.Millisecond, Max: time.Millisecond, Retries: 5}, func() error {
		calls++
		return New(KindProviderFatal, "bad credentials")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Backoff{Base: time.Millisecond, Max: time.Millisecond, Retries: 3}, func() error {
		calls++
		return New(KindStoreUnavailable, "db locked")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Backoff{Base: time.Millisecond, Max: time.Millisecond, Retries: 5}, func() error {
		calls++
		if calls < 3 {
			return New(KindProviderTransient, "rate limited")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{New(KindNotFound, "x"), http.StatusNotFound},
		{New(KindInvalidPath, "x"), http.StatusBadRequest},
		{New(KindConflict, "x"), http.StatusBadRequest},
		{New(KindPermissionDenied, "x"), http.StatusForbidden},
		{New(KindStoreUnavailable, "x"), http.StatusServiceUnavailable},
		{New(KindExtractFailed, "x"), http.StatusInternalServerError},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err))
	}
}
