package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/loqalabs/loqa-practice/internal/config"
)

// Notice is emitted before waiting for the next attempt.
type Notice struct {
	Attempt int // failed attempt number, starts at 1
	Total   int
	Delay   time.Duration
	Err     error
}

// Policy controls how many times a backend call is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Notify          func(Notice)
}

// FromConfig builds a policy from the retry section. MaxAttempts of 1 means
// a single attempt with no retry.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: time.Duration(cfg.InitialIntervalMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.MaxIntervalMS) * time.Millisecond,
		Multiplier:      cfg.Multiplier,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// PermanentStatus reports whether an HTTP status means the same request will
// keep failing: any 4xx other than 408 and 429.
func PermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// Do runs op until it succeeds, returns a permanent error, the context ends,
// or the attempt budget is spent. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	if p.MaxAttempts <= 1 {
		val, err := op(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return val, perm.Unwrap()
		}
		return val, err
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		val, err := op(ctx)
		if err != nil && ctx.Err() != nil {
			return val, backoff.Permanent(err)
		}
		return val, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, delay time.Duration) {
			p.Notify(Notice{Attempt: attempt, Total: p.MaxAttempts, Delay: delay, Err: err})
		}))
	}
	return backoff.Retry(ctx, operation, opts...)
}
