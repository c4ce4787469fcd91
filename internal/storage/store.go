package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/market"
	"structure-signals/internal/signal"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrNotFound indicates the requested candidate does not exist.
	ErrNotFound = errors.New("storage: candidate not found")
)

// CandidateStore persists signal candidates and their lifecycle events.
//
// ApplyTransition is the only mutation after creation. It returns false when
// the candidate is no longer in t.From, or when promoting it would create a
// second live candidate; callers treat that as a lost race.
type CandidateStore interface {
	CreateCandidate(ctx context.Context, c signal.Candidate) error
	ApplyTransition(ctx context.Context, t signal.Transition) (bool, error)
	GetCandidate(ctx context.Context, id string) (signal.Candidate, error)
	ListByState(ctx context.Context, states ...signal.State) ([]signal.Candidate, error)
	ListRecent(ctx context.Context, limit int, states ...signal.State) ([]signal.Candidate, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time, states ...signal.State) ([]signal.Candidate, error)
	ListEvents(ctx context.Context, candidateID string) ([]signal.Event, error)
	CountLive(ctx context.Context) (int, error)
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

const liveStatesSQL = `('WAITING_FOR_ENTRY','ENTRY_HIT')`

// updateBuilder renders the conditional UPDATE for a transition. placeholder
// returns the bind marker for the n-th argument.
type updateBuilder struct {
	placeholder func(n int) string
	timeValue   func(t time.Time) any
}

func (b updateBuilder) transition(t signal.Transition) (string, []any) {
	args := make([]any, 0, 10)
	bind := func(v any) string {
		args = append(args, v)
		return b.placeholder(len(args))
	}

	at := t.At.UTC()
	sets := []string{
		"state = " + bind(string(t.To)),
		"updated_at = " + bind(b.timeValue(at)),
	}
	if t.Result != "" {
		sets = append(sets, "result = "+bind(string(t.Result)))
	}
	if t.To == signal.EntryHit {
		sets = append(sets, "entry_hit_at = "+bind(b.timeValue(at)))
	}
	if t.To.IsTerminal() {
		sets = append(sets, "closed_at = "+bind(b.timeValue(at)))
		if t.Price.Valid {
			sets = append(sets, "exit_price = "+bind(t.Price.Decimal.String()))
		}
	}
	if t.AnnouncementRef != "" {
		sets = append(sets, "announcement_ref = "+bind(t.AnnouncementRef))
	}

	where := []string{
		"id = " + bind(t.CandidateID),
		"state = " + bind(string(t.From)),
	}
	if t.To.IsLive() && !t.From.IsLive() {
		where = append(where, "NOT EXISTS (SELECT 1 FROM signal_candidates live WHERE live.state IN "+liveStatesSQL+")")
	}

	query := fmt.Sprintf("UPDATE signal_candidates SET %s WHERE %s",
		strings.Join(sets, ", "), strings.Join(where, " AND "))
	return query, args
}

func stateStrings(states []signal.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

// candidateRecord holds the column values that need decoding after a scan.
type candidateRecord struct {
	c          signal.Candidate
	timeframe  string
	direction  string
	state      string
	result     string
	entry      string
	takeProfit string
	stopLoss   string
	exit       *string
	evidence   []byte
}

func (r *candidateRecord) finish() (signal.Candidate, error) {
	c := r.c
	c.Timeframe = market.Timeframe(r.timeframe)
	c.Direction = signal.Direction(r.direction)
	c.State = signal.State(r.state)
	c.Result = signal.Result(r.result)

	var err error
	if c.EntryPrice, err = decimal.NewFromString(r.entry); err != nil {
		return signal.Candidate{}, fmt.Errorf("parse entry_price: %w", err)
	}
	if c.TakeProfit, err = decimal.NewFromString(r.takeProfit); err != nil {
		return signal.Candidate{}, fmt.Errorf("parse take_profit: %w", err)
	}
	if c.StopLoss, err = decimal.NewFromString(r.stopLoss); err != nil {
		return signal.Candidate{}, fmt.Errorf("parse stop_loss: %w", err)
	}
	if c.ExitPrice, err = parseNullDecimal(r.exit); err != nil {
		return signal.Candidate{}, fmt.Errorf("parse exit_price: %w", err)
	}
	if len(r.evidence) > 0 {
		if err := json.Unmarshal(r.evidence, &c.Evidence); err != nil {
			return signal.Candidate{}, fmt.Errorf("decode evidence: %w", err)
		}
	}

	c.CreatedAt = c.CreatedAt.UTC()
	c.EntryDeadline = c.EntryDeadline.UTC()
	c.TradeDeadline = c.TradeDeadline.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.EntryHitAt != nil {
		t := c.EntryHitAt.UTC()
		c.EntryHitAt = &t
	}
	if c.ClosedAt != nil {
		t := c.ClosedAt.UTC()
		c.ClosedAt = &t
	}
	return c, nil
}

func parseNullDecimal(v *string) (decimal.NullDecimal, error) {
	if v == nil || *v == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
