// Package feed provides candle data for analysed instruments. Implementations
// never substitute data: a failed or outdated fetch surfaces as an error.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"structure-signals/internal/market"
)

var (
	// ErrUnavailable is returned when the provider cannot be reached or rejects the request.
	ErrUnavailable = errors.New("feed: unavailable")
	// ErrStale is returned when the newest candle is older than the staleness tolerance.
	ErrStale = errors.New("feed: stale data")
)

// Feed supplies candles for one instrument and timeframe.
type Feed interface {
	// Latest returns the most recent candle, possibly still forming.
	Latest(ctx context.Context, instrument string, tf market.Timeframe) (market.Candle, error)
	// Window returns up to n candles ordered oldest first.
	Window(ctx context.Context, instrument string, tf market.Timeframe, n int) (market.Window, error)
}

// APIError is a provider-side rejection. It unwraps to ErrUnavailable.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feed api error (%d): %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return ErrUnavailable }

// Permanent reports whether retrying the request cannot help.
func (e *APIError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// CheckFresh returns ErrStale when the candle closed more than staleBars
// bars before now. staleBars <= 0 disables the check.
func CheckFresh(c market.Candle, tf market.Timeframe, staleBars int, now time.Time) error {
	if staleBars <= 0 {
		return nil
	}
	bar := tf.Duration()
	closed := c.Time.Add(bar)
	if age := now.Sub(closed); age > time.Duration(staleBars)*bar {
		return fmt.Errorf("%w: last %s bar closed %s ago", ErrStale, tf, age.Truncate(time.Second))
	}
	return nil
}
