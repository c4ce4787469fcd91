package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"structure-signals/internal/feed"
	"structure-signals/internal/lifecycle"
	"structure-signals/internal/metrics"
	"structure-signals/internal/storage"
)

// Producer evaluates structure for each instrument and proposes candidates.
type Producer struct {
	feed        feed.Feed
	store       storage.CandidateStore
	coord       *lifecycle.Coordinator
	pipeline    *Pipeline
	instruments []Instrument
	windowSize  int
	logger      zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// NewProducer constructs the producer worker. A store that implements
// AdvisoryLocker keeps concurrent producers from evaluating the same tick.
func NewProducer(f feed.Feed, store storage.CandidateStore, coord *lifecycle.Coordinator, pipeline *Pipeline, instruments []Instrument, windowSize int, lockKey int64, logger zerolog.Logger) *Producer {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Producer{
		feed:        f,
		store:       store,
		coord:       coord,
		pipeline:    pipeline,
		instruments: instruments,
		windowSize:  windowSize,
		logger:      logger.With().Str("component", "producer").Logger(),
		locker:      locker,
		lockKey:     lockKey,
	}
}

// Tick 执行一次生产周期。
func (p *Producer) Tick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		p.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	start := time.Now()
	defer metrics.ObserveTick("producer", start)

	live, err := p.store.CountLive(ctx)
	if err != nil {
		return fmt.Errorf("count live: %w", err)
	}
	if live > 0 {
		p.logger.Debug().Int("live", live).Msg("live candidate present, nothing to produce")
		return nil
	}

	for _, inst := range p.instruments {
		done, err := p.produce(ctx, inst)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// produce reports done once a proposal reached the announce step, whatever
// its result, since the admission lock is then taken or contested.
func (p *Producer) produce(ctx context.Context, inst Instrument) (bool, error) {
	log := p.logger.With().Str("instrument", inst.Symbol).Str("timeframe", inst.Timeframe.String()).Logger()

	w, err := p.feed.Window(ctx, inst.Symbol, inst.Timeframe, p.windowSize)
	if err != nil {
		kind := "unavailable"
		if errors.Is(err, feed.ErrStale) {
			kind = "stale"
		}
		metrics.FeedErrorsTotal.WithLabelValues(inst.Symbol, kind).Inc()
		metrics.ProposalsTotal.WithLabelValues(inst.Symbol, metrics.OutcomeFeedError).Inc()
		log.Warn().Err(err).Msg("window unavailable, skipping instrument")
		return false, nil
	}

	a := p.pipeline.Analyse(w, inst, p.coord.Now())
	metrics.VerdictsTotal.WithLabelValues(inst.Symbol, string(a.Verdict.State)).Inc()
	log = log.With().
		Str("state", string(a.Verdict.State)).
		Float64("confidence", a.Verdict.Confidence).
		Float64("release", a.Score.Release).
		Logger()

	if !a.Ready() {
		metrics.ProposalsTotal.WithLabelValues(inst.Symbol, a.Outcome).Inc()
		if a.Err != nil {
			log.Info().Err(a.Err).Str("outcome", a.Outcome).Msg("candidate not created")
		} else {
			log.Debug().Str("outcome", a.Outcome).Msg("no candidate")
		}
		return false, nil
	}

	cand, err := p.coord.Propose(ctx, lifecycle.Proposal{
		Instrument: inst.Symbol,
		Timeframe:  inst.Timeframe,
		Verdict:    a.Verdict,
		Score:      a.Score,
		Plan:       a.Plan,
	})
	switch {
	case err == nil:
		metrics.ProposalsTotal.WithLabelValues(inst.Symbol, metrics.OutcomePublished).Inc()
		log.Info().Str("candidate_id", cand.ID).Str("entry", cand.EntryPrice.String()).Msg("candidate published")
		return true, nil
	case errors.Is(err, lifecycle.ErrAdmissionClosed):
		metrics.ProposalsTotal.WithLabelValues(inst.Symbol, metrics.OutcomeRaceLost).Inc()
		return true, nil
	case errors.Is(err, lifecycle.ErrAnnounceFailed):
		metrics.ProposalsTotal.WithLabelValues(inst.Symbol, metrics.OutcomeAnnounceFailed).Inc()
		return true, nil
	default:
		return true, err
	}
}

func (p *Producer) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.lockKey == 0 || p.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.locker.TryAdvisoryLock(ctx, p.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
