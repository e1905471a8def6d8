package registry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Defaults(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	assert.Equal(t, DefaultMaxAttempts, p.attempts())
	require.NotNil(t, p.Backoff)
	assert.Positive(t, p.delay(0))

	assert.Equal(t, 1, RetryPolicy{}.attempts())
	assert.Zero(t, RetryPolicy{}.delay(3))
}

func TestDo_BackoffHonorsCancellation(t *testing.T) {
	t.Parallel()

	slow := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     func(int, *http.Response) time.Duration { return time.Hour },
	}
	c := newTestClient(&mockOCIClient{}, WithRetryPolicy(slow))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := c.do(ctx, "test", true, func(context.Context) error {
		calls++
		return timeoutError{}
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDo_StopsOnSuccess(t *testing.T) {
	t.Parallel()

	c := newTestClient(&mockOCIClient{})
	calls := 0
	err := c.do(context.Background(), "test", true, func(context.Context) error {
		calls++
		if calls < 3 {
			return statusError(http.StatusServiceUnavailable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_UnclassifiedErrorsAreFinal(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := newTestClient(&mockOCIClient{})
	calls := 0
	err := c.do(context.Background(), "test", true, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
