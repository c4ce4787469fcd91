package market

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Candle is a single OHLC bar. Time marks the bar open in UTC.
type Candle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Valid reports whether the candle values are finite, positive and internally consistent.
func (c Candle) Valid() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	if c.High < math.Max(c.Open, c.Close) {
		return false
	}
	if c.Low > math.Min(c.Open, c.Close) {
		return false
	}
	return c.High >= c.Low
}

// Timeframe is a candle interval using the Twelve Data vocabulary.
type Timeframe string

const (
	M1  Timeframe = "1min"
	M5  Timeframe = "5min"
	M15 Timeframe = "15min"
	M30 Timeframe = "30min"
	H1  Timeframe = "1h"
	H4  Timeframe = "4h"
	D1  Timeframe = "1day"
)

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

// ParseTimeframe normalises and validates a timeframe string.
func ParseTimeframe(raw string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe %q", raw)
	}
	return tf, nil
}

// Duration returns the bar length, or zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) String() string { return string(tf) }
