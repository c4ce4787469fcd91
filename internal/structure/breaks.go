package structure

import "structure-signals/internal/market"

// Bias is the side a structural fact supports.
type Bias int

const (
	Neutral Bias = iota
	Bullish
	Bearish
)

func (b Bias) String() string {
	switch b {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "neutral"
	}
}

// BreakKind classifies a structural break relative to the prior dominant direction.
type BreakKind int

const (
	// BOS is a break in the direction of the existing trend (or the first break).
	BOS BreakKind = iota
	// CHoCH is a break against the prior dominant direction.
	CHoCH
)

func (k BreakKind) String() string {
	if k == CHoCH {
		return "CHoCH"
	}
	return "BOS"
}

// BreakStatus is the outcome of the fake-breakout filter.
type BreakStatus int

const (
	Confirmed BreakStatus = iota
	Pending
	Fake
)

func (s BreakStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fake:
		return "fake"
	default:
		return "confirmed"
	}
}

// Break is a close beyond a confirmed swing level.
type Break struct {
	Kind   BreakKind
	Bias   Bias
	Level  Swing
	Index  int
	Close  float64
	Status BreakStatus
}

// DetectBreaks walks the candles and records every close beyond the most
// recent confirmed, unbroken swing level. A swing becomes usable once strength
// bars have printed after it. Each level produces at most one break. Fake
// breaks are recorded but do not change the prevailing direction.
func DetectBreaks(candles []market.Candle, swings []Swing, strength, followThrough int) []Break {
	if strength < 1 {
		strength = 1
	}
	breaks := make([]Break, 0)
	trend := Neutral
	var high, low *Swing
	next := 0

	for j := range candles {
		for next < len(swings) && swings[next].Index+strength < j {
			s := swings[next]
			if s.Kind == SwingHigh {
				high = &s
			} else {
				low = &s
			}
			next++
		}

		c := candles[j].Close
		if high != nil && c > high.Price {
			kind := BOS
			if trend == Bearish {
				kind = CHoCH
			}
			status := FilterBreakout(candles, j, high.Price, Bullish, followThrough)
			breaks = append(breaks, Break{Kind: kind, Bias: Bullish, Level: *high, Index: j, Close: c, Status: status})
			if status != Fake {
				trend = Bullish
			}
			high = nil
		}
		if low != nil && c < low.Price {
			kind := BOS
			if trend == Bullish {
				kind = CHoCH
			}
			status := FilterBreakout(candles, j, low.Price, Bearish, followThrough)
			breaks = append(breaks, Break{Kind: kind, Bias: Bearish, Level: *low, Index: j, Close: c, Status: status})
			if status != Fake {
				trend = Bearish
			}
			low = nil
		}
	}
	return breaks
}
