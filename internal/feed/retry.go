package feed

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"structure-signals/internal/market"
)

// RetryOptions bound the retry policy.
type RetryOptions struct {
	MaxRetries uint64
	Initial    time.Duration
	Max        time.Duration
}

// Retrying retries transient feed failures with exponential backoff.
// Stale data and client errors are returned immediately.
type Retrying struct {
	next   Feed
	opts   RetryOptions
	logger zerolog.Logger
}

// NewRetrying wraps next with the retry policy.
func NewRetrying(next Feed, opts RetryOptions, logger zerolog.Logger) *Retrying {
	if opts.Initial <= 0 {
		opts.Initial = 500 * time.Millisecond
	}
	if opts.Max <= 0 {
		opts.Max = 5 * time.Second
	}
	return &Retrying{next: next, opts: opts, logger: logger.With().Str("component", "feed_retry").Logger()}
}

// Latest implements Feed.
func (r *Retrying) Latest(ctx context.Context, instrument string, tf market.Timeframe) (market.Candle, error) {
	var out market.Candle
	err := r.do(ctx, instrument, func() error {
		c, err := r.next.Latest(ctx, instrument, tf)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// Window implements Feed.
func (r *Retrying) Window(ctx context.Context, instrument string, tf market.Timeframe, n int) (market.Window, error) {
	var out market.Window
	err := r.do(ctx, instrument, func() error {
		w, err := r.next.Window(ctx, instrument, tf, n)
		if err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, instrument string, call func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.Initial
	policy.MaxInterval = r.opts.Max
	policy.MaxElapsedTime = 0

	op := func() error {
		err := call()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn().Err(err).Str("instrument", instrument).Dur("retry_in", wait).Msg("feed request failed")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, r.opts.MaxRetries), ctx)
	return backoff.RetryNotify(op, b, notify)
}

func retryable(err error) bool {
	if errors.Is(err, ErrStale) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Permanent()
	}
	return true
}

var _ Feed = (*Retrying)(nil)
