// Package signal defines the signal candidate record, its lifecycle states
// and the transitions allowed between them.
package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/market"
)

// ErrInvalidTransition is returned when a transition is not part of the state machine.
var ErrInvalidTransition = errors.New("signal: invalid state transition")

// Direction of a candidate.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// State of a candidate in its lifecycle.
type State string

const (
	Prepared        State = "PREPARED"
	WaitingForEntry State = "WAITING_FOR_ENTRY"
	EntryHit        State = "ENTRY_HIT"
	TPHit           State = "TP_HIT"
	SLHit           State = "SL_HIT"
	TimeExit        State = "TIME_EXIT"
	Cancelled       State = "CANCELLED"
	Reaped          State = "REAPED"
	ClosedManual    State = "CLOSED_MANUAL"
)

// LiveStates count toward the single live signal invariant.
var LiveStates = []State{WaitingForEntry, EntryHit}

// VisibleStates are the states exposed to operators and dashboards.
var VisibleStates = []State{WaitingForEntry, EntryHit, TPHit, SLHit, TimeExit, Cancelled, ClosedManual}

// IsLive reports whether s counts toward the admission lock.
func (s State) IsLive() bool { return s == WaitingForEntry || s == EntryHit }

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool { return len(transitions[s]) == 0 }

// IsVisible reports whether s may be shown outside the coordinator.
func (s State) IsVisible() bool { return s != Prepared && s != Reaped && s != "" }

var transitions = map[State][]State{
	Prepared:        {WaitingForEntry, Reaped},
	WaitingForEntry: {EntryHit, Cancelled},
	EntryHit:        {TPHit, SLHit, TimeExit, ClosedManual},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Result is the outcome recorded when a candidate closes.
type Result string

const (
	ResultNone      Result = "none"
	ResultProfit    Result = "profit"
	ResultLoss      Result = "loss"
	ResultCancelled Result = "cancelled"
)

// Candidate is the central signal record. It is mutated only through transitions
// and never deleted.
type Candidate struct {
	ID              string
	Instrument      string
	Timeframe       market.Timeframe
	Direction       Direction
	EntryPrice      decimal.Decimal
	TakeProfit      decimal.Decimal
	StopLoss        decimal.Decimal
	RawConfidence   float64
	ReleaseScore    float64
	Dominance       float64
	Evidence        []string
	State           State
	Result          Result
	CreatedAt       time.Time
	EntryDeadline   time.Time
	TradeDeadline   time.Time
	EntryHitAt      *time.Time
	ClosedAt        *time.Time
	ExitPrice       decimal.NullDecimal
	AnnouncementRef string
	UpdatedAt       time.Time
}

// Event is an append-only record of one state change.
type Event struct {
	ID          int64
	CandidateID string
	From        State
	To          State
	Reason      string
	Price       decimal.NullDecimal
	OccurredAt  time.Time
}

// Transition is a conditional write: it applies only if the candidate is still in From.
type Transition struct {
	CandidateID     string
	From            State
	To              State
	At              time.Time
	Result          Result
	Price           decimal.NullDecimal
	AnnouncementRef string
	Reason          string
}

// Validate checks the transition against the state machine.
func (t Transition) Validate() error {
	if t.CandidateID == "" {
		return fmt.Errorf("%w: missing candidate id", ErrInvalidTransition)
	}
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	if t.To == WaitingForEntry && t.AnnouncementRef == "" {
		return fmt.Errorf("%w: promotion requires an announcement ref", ErrInvalidTransition)
	}
	return nil
}

// Event returns the lifecycle event recorded alongside the transition.
func (t Transition) Event() Event {
	return Event{
		CandidateID: t.CandidateID,
		From:        t.From,
		To:          t.To,
		Reason:      t.Reason,
		Price:       t.Price,
		OccurredAt:  t.At.UTC(),
	}
}

// Pips expresses the signed distance from entry to exit in pips, positive when favourable.
func (c Candidate) Pips(exit decimal.Decimal, pipSize decimal.Decimal) decimal.Decimal {
	if pipSize.IsZero() {
		return decimal.Zero
	}
	diff := exit.Sub(c.EntryPrice)
	if c.Direction == Sell {
		diff = diff.Neg()
	}
	return diff.Div(pipSize)
}
