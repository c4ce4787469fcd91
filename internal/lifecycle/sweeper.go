package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"structure-signals/internal/metrics"
	"structure-signals/internal/signal"
	"structure-signals/internal/storage"
)

// Sweeper reaps PREPARED candidates whose announcement never completed.
type Sweeper struct {
	coord  *Coordinator
	store  storage.CandidateStore
	lease  time.Duration
	logger zerolog.Logger
}

// NewSweeper constructs a sweeper with the given prepared lease.
func NewSweeper(coord *Coordinator, store storage.CandidateStore, lease time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		coord:  coord,
		store:  store,
		lease:  lease,
		logger: logger.With().Str("component", "sweeper").Logger(),
	}
}

// Tick reaps every PREPARED candidate older than the lease. Reaping is silent.
func (s *Sweeper) Tick(ctx context.Context) (int, error) {
	start := time.Now()
	defer metrics.ObserveTick("sweeper", start)

	prepared, err := s.store.ListByState(ctx, signal.Prepared)
	if err != nil {
		return 0, fmt.Errorf("list prepared candidates: %w", err)
	}

	now := s.coord.Now()
	reaped := 0
	var errs []error
	for _, c := range prepared {
		if now.Sub(c.CreatedAt) < s.lease {
			continue
		}
		won, err := s.coord.Apply(ctx, c, signal.Transition{
			CandidateID: c.ID,
			From:        signal.Prepared,
			To:          signal.Reaped,
			At:          now,
			Reason:      fmt.Sprintf("prepared lease of %s expired", s.lease),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("reap %s: %w", c.ID, err))
			continue
		}
		if won {
			reaped++
			s.logger.Info().Str("candidate_id", c.ID).Dur("age", now.Sub(c.CreatedAt)).Msg("reaped prepared candidate")
		}
	}
	return reaped, errors.Join(errs...)
}
