package structure

import "structure-signals/internal/market"

// FilterBreakout decides whether the break at idx held. A bullish break is
// fake if any of the next lookahead closes falls back to or below level (the
// mirror for bearish). When the window ends before the lookahead completes the
// break is Pending.
func FilterBreakout(candles []market.Candle, idx int, level float64, bias Bias, lookahead int) BreakStatus {
	if lookahead <= 0 {
		return Confirmed
	}
	for k := idx + 1; k <= idx+lookahead && k < len(candles); k++ {
		c := candles[k].Close
		if bias == Bullish && c <= level {
			return Fake
		}
		if bias == Bearish && c >= level {
			return Fake
		}
	}
	if idx+lookahead >= len(candles) {
		return Pending
	}
	return Confirmed
}
