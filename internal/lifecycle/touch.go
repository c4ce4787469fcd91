package lifecycle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/market"
	"structure-signals/internal/signal"
)

// Evaluate decides the next transition of a live candidate given the latest
// price sample. It is pure; the caller applies the transition conditionally.
//
// WAITING_FOR_ENTRY: entry touch wins over expiry.
// ENTRY_HIT: take profit, then stop loss, then the trade deadline.
//
// A sample whose bar closed before the reference time (creation, or the
// entry fill for open trades) carries no touch information. A touch counts
// only from a bar that opened before the relevant deadline, so a late bar
// expires the candidate instead of filling or closing it.
func Evaluate(c signal.Candidate, sample market.Candle, now time.Time) (signal.Transition, bool) {
	t := signal.Transition{CandidateID: c.ID, From: c.State, At: now.UTC()}
	bar := c.Timeframe.Duration()

	switch c.State {
	case signal.WaitingForEntry:
		if current(sample, bar, c.CreatedAt) && sample.Time.Before(c.EntryDeadline) && entryTouched(c, sample) {
			t.To = signal.EntryHit
			t.Price = decimal.NewNullDecimal(c.EntryPrice)
			t.Reason = fmt.Sprintf("entry %s touched", c.EntryPrice)
			return t, true
		}
		return Expire(c, now)

	case signal.EntryHit:
		ref := c.CreatedAt
		if c.EntryHitAt != nil {
			ref = *c.EntryHitAt
		}
		if current(sample, bar, ref) && sample.Time.Before(c.TradeDeadline) {
			if takeProfitTouched(c, sample) {
				t.To = signal.TPHit
				t.Result = signal.ResultProfit
				t.Price = decimal.NewNullDecimal(c.TakeProfit)
				t.Reason = fmt.Sprintf("take profit %s touched", c.TakeProfit)
				return t, true
			}
			if stopLossTouched(c, sample) {
				t.To = signal.SLHit
				t.Result = signal.ResultLoss
				t.Price = decimal.NewNullDecimal(c.StopLoss)
				t.Reason = fmt.Sprintf("stop loss %s touched", c.StopLoss)
				return t, true
			}
		}
		if !now.Before(c.TradeDeadline) {
			exit := decimal.NewFromFloat(sample.Close)
			t.To = signal.TimeExit
			t.Result = resultAt(c, exit)
			t.Price = decimal.NewNullDecimal(exit)
			t.Reason = "trade window expired"
			return t, true
		}
	}
	return signal.Transition{}, false
}

// Expire is the price-free part of Evaluate: a WAITING_FOR_ENTRY candidate
// whose entry window has passed is cancelled. Time exits need an exit price
// and are left to Evaluate.
func Expire(c signal.Candidate, now time.Time) (signal.Transition, bool) {
	if c.State != signal.WaitingForEntry || now.Before(c.EntryDeadline) {
		return signal.Transition{}, false
	}
	return signal.Transition{
		CandidateID: c.ID,
		From:        c.State,
		To:          signal.Cancelled,
		Result:      signal.ResultCancelled,
		At:          now.UTC(),
		Reason:      "entry window expired",
	}, true
}

func current(sample market.Candle, bar time.Duration, ref time.Time) bool {
	return sample.Time.Add(bar).After(ref)
}

// Long entries fill on a pullback to the level, shorts on a rally to it.
func entryTouched(c signal.Candidate, s market.Candle) bool {
	entry := c.EntryPrice.InexactFloat64()
	switch c.Direction {
	case signal.Buy:
		return s.Low <= entry
	case signal.Sell:
		return s.High >= entry
	}
	return false
}

func takeProfitTouched(c signal.Candidate, s market.Candle) bool {
	tp := c.TakeProfit.InexactFloat64()
	switch c.Direction {
	case signal.Buy:
		return s.High >= tp
	case signal.Sell:
		return s.Low <= tp
	}
	return false
}

func stopLossTouched(c signal.Candidate, s market.Candle) bool {
	sl := c.StopLoss.InexactFloat64()
	switch c.Direction {
	case signal.Buy:
		return s.Low <= sl
	case signal.Sell:
		return s.High >= sl
	}
	return false
}
