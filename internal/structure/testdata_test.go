package structure

import (
	"time"

	"structure-signals/internal/market"
)

const (
	pip  = 0.0001
	step = 10 * pip
	wick = 2 * pip
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

// path turns a list of signed moves (in steps) into candles. Up bars carry a
// top wick, down bars a bottom wick, so leg extremes are strict swings.
func path(start float64, moves []int) []market.Candle {
	out := make([]market.Candle, 0, len(moves))
	price := start
	for i, m := range moves {
		o := price
		c := price + float64(m)*step
		bar := market.Candle{Time: t0.Add(time.Duration(i) * 5 * time.Minute), Open: o, Close: c}
		if c >= o {
			bar.High, bar.Low = c+wick, o
		} else {
			bar.High, bar.Low = o, c-wick
		}
		out = append(out, bar)
		price = c
	}
	return out
}

func legs(n, up, down, sign int) []int {
	moves := make([]int, 0, n*(up+down))
	for w := 0; w < n; w++ {
		for i := 0; i < up; i++ {
			moves = append(moves, sign)
		}
		for i := 0; i < down; i++ {
			moves = append(moves, -sign)
		}
	}
	return moves
}

func uptrend() []market.Candle   { return path(1.1, legs(6, 6, 3, 1)) }
func downtrend() []market.Candle { return path(1.1, legs(6, 6, 3, -1)) }

func window(c []market.Candle) market.Window {
	return market.NewWindow("EUR/USD", market.M5, c)
}

func timeStep(i int) time.Duration { return time.Duration(i) * 5 * time.Minute }
