package market

import "math"

// TrueRange of c given the previous close.
func TrueRange(c Candle, prevClose float64) float64 {
	tr := c.High - c.Low
	if prevClose > 0 {
		tr = math.Max(tr, math.Abs(c.High-prevClose))
		tr = math.Max(tr, math.Abs(c.Low-prevClose))
	}
	return tr
}

// ATR is the simple average true range over the last period candles.
// It uses every available candle when fewer than period+1 are supplied.
func ATR(candles []Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}
	start := len(candles) - period
	if start < 0 {
		start = 0
	}
	var sum float64
	n := 0
	for i := start; i < len(candles); i++ {
		prev := 0.0
		if i > 0 {
			prev = candles[i-1].Close
		}
		sum += TrueRange(candles[i], prev)
		n++
	}
	return sum / float64(n)
}
