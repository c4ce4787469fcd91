package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"structure-signals/internal/feed"
	"structure-signals/internal/market"
	"structure-signals/internal/metrics"
	"structure-signals/internal/signal"
	"structure-signals/internal/storage"
)

// Monitor drives live candidates from price samples.
type Monitor struct {
	coord  *Coordinator
	store  storage.CandidateStore
	feed   feed.Feed
	logger zerolog.Logger
}

// NewMonitor constructs a touch monitor.
func NewMonitor(coord *Coordinator, store storage.CandidateStore, f feed.Feed, logger zerolog.Logger) *Monitor {
	return &Monitor{
		coord:  coord,
		store:  store,
		feed:   f,
		logger: logger.With().Str("component", "monitor").Logger(),
	}
}

type seriesKey struct {
	instrument string
	timeframe  market.Timeframe
}

// Tick evaluates every live candidate once and returns the number of applied
// transitions. When an instrument's feed fails, its candidates only get the
// time-based entry expiry for this tick.
func (m *Monitor) Tick(ctx context.Context) (int, error) {
	start := time.Now()
	defer metrics.ObserveTick("monitor", start)

	live, err := m.store.ListByState(ctx, signal.LiveStates...)
	if err != nil {
		return 0, fmt.Errorf("list live candidates: %w", err)
	}
	if len(live) == 0 {
		return 0, nil
	}

	samples := make(map[seriesKey]market.Candle)
	failed := make(map[seriesKey]bool)
	applied := 0
	var errs []error

	for _, c := range live {
		key := seriesKey{instrument: c.Instrument, timeframe: c.Timeframe}
		now := m.coord.Now()

		sample, ok := samples[key]
		if !ok && !failed[key] {
			sample, err = m.feed.Latest(ctx, c.Instrument, c.Timeframe)
			if err != nil {
				failed[key] = true
				kind := "unavailable"
				if errors.Is(err, feed.ErrStale) {
					kind = "stale"
				}
				metrics.FeedErrorsTotal.WithLabelValues(c.Instrument, kind).Inc()
				m.logger.Warn().Err(err).
					Str("instrument", c.Instrument).
					Str("timeframe", c.Timeframe.String()).
					Msg("price sample unavailable, applying expiry only")
			} else {
				samples[key] = sample
			}
		}

		var t signal.Transition
		if failed[key] {
			t, ok = Expire(c, now)
		} else {
			t, ok = Evaluate(c, sample, now)
		}
		if !ok {
			continue
		}
		won, err := m.coord.Apply(ctx, c, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("candidate %s: %w", c.ID, err))
			continue
		}
		if won {
			applied++
		}
	}

	return applied, errors.Join(errs...)
}
