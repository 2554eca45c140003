package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{200, nil},
		{201, nil},
		{401, ErrAuth},
		{403, ErrAuth},
		{404, ErrNotFound},
		{409, ErrConflict},
		{422, ErrInvalidResponse},
		{429, ErrUnavailable},
		{500, ErrUnavailable},
		{503, ErrUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindForStatus(tt.status), "status %d", tt.status)
	}
}

func TestFromStatus_Unwraps(t *testing.T) {
	err := FromStatus("github", 409, []byte(`{"message":"sha does not match"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "github")
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "sha does not match")

	assert.NoError(t, FromStatus("github", 204, nil))
}

func TestFromResponse_RateLimited403(t *testing.T) {
	resp := &http.Response{StatusCode: 403, Header: http.Header{}}
	resp.Header.Set("X-RateLimit-Remaining", "0")
	err := FromResponse("github", resp, nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrAuth))

	resp.Header.Set("X-RateLimit-Remaining", "12")
	assert.True(t, errors.Is(FromResponse("github", resp, nil), ErrAuth))
}

func TestTransport_KeepsCancellation(t *testing.T) {
	assert.Equal(t, context.Canceled, Transport("github", context.Canceled))
	err := Transport("github", errors.New("connection refused"))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("retries unavailable then succeeds", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), 2, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return FromStatus("github", 502, nil)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("auth is not retried", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func() error {
			calls++
			return FromStatus("github", 401, nil)
		})
		assert.True(t, errors.Is(err, ErrAuth))
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), 1, time.Millisecond, func() error {
			calls++
			return FromStatus("github", 503, nil)
		})
		assert.True(t, errors.Is(err, ErrUnavailable))
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := RetryWithBackoff(ctx, 3, time.Hour, func() error {
			return FromStatus("github", 503, nil)
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
