package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// DefaultMaxAttempts is the number of attempts per remote call.
const DefaultMaxAttempts = 3

// DefaultTimeout bounds a single attempt of a remote call.
const DefaultTimeout = 5 * time.Minute

// RetryPolicy bounds how often a failed remote call is attempted.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean one attempt.
	MaxAttempts int

	// Backoff returns the delay before retry number attempt (starting at 0).
	// A nil Backoff retries immediately.
	Backoff retry.Backoff
}

// DefaultRetryPolicy returns three attempts with jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     retry.ExponentialBackoff(250*time.Millisecond, 2, 0.2),
	}
}

// Retryable reports whether err is worth another attempt.
//
// Transient failures and integrity mismatches are retried. Authorization
// failures, missing content, conflicts and malformed input are not.
func (p RetryPolicy) Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrIntegrityMismatch)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt, &http.Response{})
}

// do runs fn until it succeeds, fails permanently, or exhausts the retry
// policy. When timed is set each attempt gets its own deadline; a deadline
// hit while ctx is still live counts as a transient failure.
func (c *Client) do(ctx context.Context, op string, timed bool, fn func(ctx context.Context) error) error {
	attempts := c.retry.attempts()
	var last error
	for attempt := range attempts {
		if attempt > 0 {
			if err := sleep(ctx, c.retry.delay(attempt-1)); err != nil {
				return err
			}
		}

		err := c.attempt(ctx, timed, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !c.retry.Retryable(err) {
			return err
		}
		last = err
		slogcontext.Log(ctx, slog.LevelWarn, "remote call failed",
			slog.String("operation", op),
			slog.Int("attempt", attempt+1),
			slog.Int("maxAttempts", attempts),
			slog.String("error", err.Error()))
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrTransferFailed, op, attempts, last)
}

func (c *Client) attempt(ctx context.Context, timed bool, fn func(ctx context.Context) error) error {
	actx := ctx
	if timed && c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err := mapOCIError(fn(actx))
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: attempt timed out after %s: %w", ErrTransient, c.timeout, err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
