// Package structure turns a candle window into a structural verdict.
//
// The primitives in this package (swings, breaks, breakout filtering) are
// pure functions over a candle slice. Engine combines them into a single
// deterministic Verdict.
package structure

import (
	"time"

	"structure-signals/internal/market"
)

// SwingKind distinguishes swing highs from swing lows.
type SwingKind int

const (
	SwingHigh SwingKind = iota
	SwingLow
)

func (k SwingKind) String() string {
	if k == SwingHigh {
		return "swing high"
	}
	return "swing low"
}

// Swing is a local extreme used as a structural reference level.
type Swing struct {
	Kind  SwingKind
	Index int
	Price float64
	Time  time.Time
}

// DetectSwings finds strict local highs and lows with strength bars on each side.
// Results are ordered by index; when one bar is both, the high comes first.
func DetectSwings(candles []market.Candle, strength int) []Swing {
	if strength < 1 {
		strength = 1
	}
	swings := make([]Swing, 0)
	for i := strength; i < len(candles)-strength; i++ {
		if isSwingHigh(candles, i, strength) {
			swings = append(swings, Swing{Kind: SwingHigh, Index: i, Price: candles[i].High, Time: candles[i].Time})
		}
		if isSwingLow(candles, i, strength) {
			swings = append(swings, Swing{Kind: SwingLow, Index: i, Price: candles[i].Low, Time: candles[i].Time})
		}
	}
	return swings
}

func isSwingHigh(candles []market.Candle, i, strength int) bool {
	for j := i - strength; j <= i+strength; j++ {
		if j != i && candles[j].High >= candles[i].High {
			return false
		}
	}
	return true
}

func isSwingLow(candles []market.Candle, i, strength int) bool {
	for j := i - strength; j <= i+strength; j++ {
		if j != i && candles[j].Low <= candles[i].Low {
			return false
		}
	}
	return true
}
