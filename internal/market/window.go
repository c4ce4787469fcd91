package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientData marks a window too short to reason about.
	ErrInsufficientData = errors.New("market: insufficient candles")
	// ErrIntegrity marks a window that violates ordering, gap or value checks.
	ErrIntegrity = errors.New("market: window integrity check failed")
)

// Window is an immutable, time-ascending candle sequence for one instrument and timeframe.
type Window struct {
	instrument string
	timeframe  Timeframe
	candles    []Candle
}

// NewWindow copies the given candles into a window. It does not validate;
// callers that need guarantees use Validate.
func NewWindow(instrument string, tf Timeframe, candles []Candle) Window {
	cp := make([]Candle, len(candles))
	copy(cp, candles)
	return Window{instrument: instrument, timeframe: tf, candles: cp}
}

func (w Window) Instrument() string   { return w.instrument }
func (w Window) Timeframe() Timeframe { return w.timeframe }
func (w Window) Len() int             { return len(w.candles) }

// At returns the i-th candle.
func (w Window) At(i int) Candle { return w.candles[i] }

// Candles returns a copy of the underlying candles.
func (w Window) Candles() []Candle {
	cp := make([]Candle, len(w.candles))
	copy(cp, w.candles)
	return cp
}

// Last returns the most recent candle and false when the window is empty.
func (w Window) Last() (Candle, bool) {
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

// Slice returns a sub-window [from, to).
func (w Window) Slice(from, to int) Window {
	return NewWindow(w.instrument, w.timeframe, w.candles[from:to])
}

// Validate checks length, ordering, gap tolerance and candle values.
// maxGap <= 0 disables the gap check.
func (w Window) Validate(minLen int, maxGap time.Duration) error {
	if len(w.candles) < minLen || len(w.candles) == 0 {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(w.candles), minLen)
	}
	for i, c := range w.candles {
		if !c.Valid() {
			return fmt.Errorf("%w: candle %d has invalid values", ErrIntegrity, i)
		}
		if i == 0 {
			continue
		}
		prev := w.candles[i-1].Time
		if !c.Time.After(prev) {
			return fmt.Errorf("%w: candle %d not after %s", ErrIntegrity, i, prev.Format(time.RFC3339))
		}
		if maxGap > 0 && c.Time.Sub(prev) > maxGap {
			return fmt.Errorf("%w: gap of %s before candle %d", ErrIntegrity, c.Time.Sub(prev), i)
		}
	}
	return nil
}
