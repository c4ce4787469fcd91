// Package lifecycle owns signal candidates after creation: the two-phase
// publish, the touch monitor and the sweeper for abandoned PREPARED rows.
//
// Workers share nothing but the store. Every state change is a conditional
// write; a write that finds the row already moved is a lost race and is
// dropped without error or notification.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"structure-signals/internal/alerting"
	"structure-signals/internal/market"
	"structure-signals/internal/metrics"
	"structure-signals/internal/release"
	"structure-signals/internal/signal"
	"structure-signals/internal/storage"
	"structure-signals/internal/structure"
)

var (
	// ErrAnnounceFailed means the channel rejected the announcement; the candidate stays PREPARED.
	ErrAnnounceFailed = errors.New("lifecycle: announce failed")
	// ErrAdmissionClosed means another candidate is live.
	ErrAdmissionClosed = errors.New("lifecycle: a live candidate already exists")
	// ErrConflict means the candidate moved while an operator command was applied.
	ErrConflict = errors.New("lifecycle: candidate changed concurrently")
)

// Proposal is a gated, planned verdict ready to become a candidate.
type Proposal struct {
	Instrument string
	Timeframe  market.Timeframe
	Verdict    structure.Verdict
	Score      release.Score
	Plan       release.Plan
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDs replaces the uuid generator.
func WithIDs(next func() string) Option {
	return func(c *Coordinator) { c.newID = next }
}

// Coordinator creates candidates and applies transitions to them.
type Coordinator struct {
	store    storage.CandidateStore
	notifier alerting.Notifier
	now      func() time.Time
	newID    func() string
	logger   zerolog.Logger
}

// NewCoordinator wires the store and notification channel.
func NewCoordinator(store storage.CandidateStore, notifier alerting.Notifier, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.With().Str("component", "coordinator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the coordinator clock in UTC.
func (c *Coordinator) Now() time.Time { return c.now().UTC() }

// Propose runs the two-phase publish. The candidate is stored PREPARED,
// announced once, then promoted to WAITING_FOR_ENTRY only if no other
// candidate is live. A failed announce is not retried; the sweeper reaps
// the PREPARED row once its lease expires.
func (c *Coordinator) Propose(ctx context.Context, p Proposal) (signal.Candidate, error) {
	live, err := c.store.CountLive(ctx)
	if err != nil {
		return signal.Candidate{}, fmt.Errorf("count live: %w", err)
	}
	if live > 0 {
		return signal.Candidate{}, ErrAdmissionClosed
	}

	now := c.Now()
	cand := signal.Candidate{
		ID:            c.newID(),
		Instrument:    p.Instrument,
		Timeframe:     p.Timeframe,
		Direction:     p.Plan.Direction,
		EntryPrice:    p.Plan.Entry,
		TakeProfit:    p.Plan.TakeProfit,
		StopLoss:      p.Plan.StopLoss,
		RawConfidence: p.Verdict.Confidence,
		ReleaseScore:  p.Score.Release,
		Dominance:     p.Verdict.Dominance,
		Evidence:      append([]string(nil), p.Verdict.Evidence...),
		State:         signal.Prepared,
		Result:        signal.ResultNone,
		CreatedAt:     now,
		EntryDeadline: p.Plan.EntryDeadline.UTC(),
		TradeDeadline: p.Plan.TradeDeadline.UTC(),
		UpdatedAt:     now,
	}
	log := c.logger.With().Str("candidate_id", cand.ID).Str("instrument", cand.Instrument).Logger()

	if err := c.store.CreateCandidate(ctx, cand); err != nil {
		return signal.Candidate{}, fmt.Errorf("create candidate: %w", err)
	}
	log.Debug().Msg("candidate prepared")

	ref, err := c.notifier.Announce(ctx, cand)
	if err != nil {
		metrics.NotifyErrorsTotal.WithLabelValues("announce").Inc()
		log.Warn().Err(err).Msg("announce failed, candidate left prepared")
		return cand, fmt.Errorf("%w: %v", ErrAnnounceFailed, err)
	}

	promote := signal.Transition{
		CandidateID:     cand.ID,
		From:            signal.Prepared,
		To:              signal.WaitingForEntry,
		At:              c.Now(),
		AnnouncementRef: ref,
		Reason:          "announced",
	}
	applied, err := c.store.ApplyTransition(ctx, promote)
	if err != nil {
		return cand, fmt.Errorf("promote candidate: %w", err)
	}
	if !applied {
		metrics.RacesLostTotal.WithLabelValues(string(signal.WaitingForEntry)).Inc()
		log.Warn().Str("ref", ref).Msg("announced but another candidate went live first")
		return cand, ErrAdmissionClosed
	}
	metrics.TransitionsTotal.WithLabelValues(string(signal.WaitingForEntry)).Inc()

	cand.State = signal.WaitingForEntry
	cand.AnnouncementRef = ref
	cand.UpdatedAt = promote.At
	log.Info().Str("ref", ref).Str("direction", string(cand.Direction)).Msg("candidate published")
	return cand, nil
}

// Apply writes t if cand is still in t.From and sends one threaded follow-up
// for visible targets. It reports whether the write won.
func (c *Coordinator) Apply(ctx context.Context, cand signal.Candidate, t signal.Transition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	if t.CandidateID != cand.ID {
		return false, fmt.Errorf("%w: transition for %s applied to %s", signal.ErrInvalidTransition, t.CandidateID, cand.ID)
	}

	log := c.logger.With().
		Str("candidate_id", cand.ID).
		Str("from", string(t.From)).
		Str("to", string(t.To)).
		Logger()

	applied, err := c.store.ApplyTransition(ctx, t)
	if err != nil {
		return false, fmt.Errorf("apply transition: %w", err)
	}
	if !applied {
		metrics.RacesLostTotal.WithLabelValues(string(t.To)).Inc()
		log.Debug().Msg("transition lost race")
		return false, nil
	}
	metrics.TransitionsTotal.WithLabelValues(string(t.To)).Inc()
	log.Info().Str("result", string(t.Result)).Str("reason", t.Reason).Msg("transition applied")

	if !t.To.IsVisible() || cand.AnnouncementRef == "" {
		return true, nil
	}
	if err := c.notifier.FollowUp(ctx, cand.AnnouncementRef, alerting.UpdateFor(cand, t)); err != nil {
		// the transition stands; the message is not resent
		metrics.NotifyErrorsTotal.WithLabelValues("follow_up").Inc()
		log.Warn().Err(err).Msg("follow-up failed")
	}
	return true, nil
}

// ForceClose moves a stuck candidate to the operator-chosen terminal state:
// PREPARED is reaped, WAITING_FOR_ENTRY is cancelled and ENTRY_HIT is closed
// manually at price when given.
func (c *Coordinator) ForceClose(ctx context.Context, id string, price decimal.NullDecimal, reason string) (signal.Candidate, error) {
	cand, err := c.store.GetCandidate(ctx, id)
	if err != nil {
		return signal.Candidate{}, err
	}

	t := signal.Transition{CandidateID: id, From: cand.State, At: c.Now(), Reason: reason}
	switch cand.State {
	case signal.Prepared:
		t.To = signal.Reaped
	case signal.WaitingForEntry:
		t.To = signal.Cancelled
		t.Result = signal.ResultCancelled
	case signal.EntryHit:
		t.To = signal.ClosedManual
		t.Result = signal.ResultNone
		if price.Valid {
			t.Price = price
			t.Result = resultAt(cand, price.Decimal)
		}
	default:
		return cand, fmt.Errorf("%w: candidate %s is already %s", signal.ErrInvalidTransition, id, cand.State)
	}
	if t.Reason == "" {
		t.Reason = "closed by operator"
	}

	applied, err := c.Apply(ctx, cand, t)
	if err != nil {
		return cand, err
	}
	if !applied {
		return cand, ErrConflict
	}
	return c.store.GetCandidate(ctx, id)
}

// Visible lists recent candidates an operator may see.
func (c *Coordinator) Visible(ctx context.Context, limit int) ([]signal.Candidate, error) {
	return c.store.ListRecent(ctx, limit, signal.VisibleStates...)
}

// History returns a visible candidate and its public lifecycle events.
func (c *Coordinator) History(ctx context.Context, id string) (signal.Candidate, []signal.Event, error) {
	cand, err := c.store.GetCandidate(ctx, id)
	if err != nil {
		return signal.Candidate{}, nil, err
	}
	if !cand.State.IsVisible() {
		return signal.Candidate{}, nil, storage.ErrNotFound
	}

	events, err := c.store.ListEvents(ctx, id)
	if err != nil {
		return signal.Candidate{}, nil, err
	}
	public := events[:0]
	for _, ev := range events {
		if ev.To.IsVisible() {
			public = append(public, ev)
		}
	}
	return cand, public, nil
}

// resultAt classifies an exit price against the entry.
func resultAt(c signal.Candidate, exit decimal.Decimal) signal.Result {
	favourable := exit.GreaterThan(c.EntryPrice)
	if c.Direction == signal.Sell {
		favourable = exit.LessThan(c.EntryPrice)
	}
	if favourable {
		return signal.ResultProfit
	}
	return signal.ResultLoss
}
