package market

import (
	"errors"
	"math"
	"testing"
	"time"
)

func series(n int, start time.Time, step time.Duration) []Candle {
	out := make([]Candle, n)
	price := 1.1
	for i := range out {
		out[i] = Candle{
			Time:  start.Add(time.Duration(i) * step),
			Open:  price,
			High:  price + 0.001,
			Low:   price - 0.001,
			Close: price + 0.0005,
		}
		price += 0.0005
	}
	return out
}

func TestWindowValidate(t *testing.T) {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	good := series(10, start, 5*time.Minute)

	cases := []struct {
		name    string
		candles []Candle
		minLen  int
		want    error
	}{
		{name: "ok", candles: good, minLen: 10},
		{name: "short", candles: good[:3], minLen: 10, want: ErrInsufficientData},
		{name: "empty", candles: nil, minLen: 0, want: ErrInsufficientData},
		{name: "unordered", candles: func() []Candle {
			c := series(10, start, 5*time.Minute)
			c[4].Time = c[3].Time
			return c
		}(), minLen: 5, want: ErrIntegrity},
		{name: "gap", candles: func() []Candle {
			c := series(10, start, 5*time.Minute)
			for i := 5; i < len(c); i++ {
				c[i].Time = c[i].Time.Add(time.Hour)
			}
			return c
		}(), minLen: 5, want: ErrIntegrity},
		{name: "high below close", candles: func() []Candle {
			c := series(10, start, 5*time.Minute)
			c[2].High = c[2].Close - 0.01
			return c
		}(), minLen: 5, want: ErrIntegrity},
		{name: "nan", candles: func() []Candle {
			c := series(10, start, 5*time.Minute)
			c[7].Low = math.NaN()
			return c
		}(), minLen: 5, want: ErrIntegrity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWindow("EUR/USD", M5, tc.candles)
			err := w.Validate(tc.minLen, 15*time.Minute)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestWindowIsImmutable(t *testing.T) {
	candles := series(3, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)
	w := NewWindow("EUR/USD", M1, candles)
	candles[0].Close = 99
	if w.At(0).Close == 99 {
		t.Fatal("window must not alias the caller's slice")
	}
	out := w.Candles()
	out[1].Close = 99
	if w.At(1).Close == 99 {
		t.Fatal("Candles must return a copy")
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 5MIN ")
	if err != nil || tf != M5 {
		t.Fatalf("expected 5min, got %q (%v)", tf, err)
	}
	if tf.Duration() != 5*time.Minute {
		t.Fatalf("unexpected duration %s", tf.Duration())
	}
	if _, err := ParseTimeframe("7min"); err == nil {
		t.Fatal("7min should be rejected")
	}
}

func TestATR(t *testing.T) {
	candles := []Candle{
		{Open: 1, High: 1.2, Low: 0.9, Close: 1.1},
		{Open: 1.1, High: 1.3, Low: 1.0, Close: 1.2},
		{Open: 1.2, High: 1.25, Low: 1.15, Close: 1.2},
	}
	got := ATR(candles, 2)
	want := (0.3 + 0.1) / 2
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("ATR = %f, want %f", got, want)
	}
	if ATR(nil, 14) != 0 {
		t.Fatal("empty input should yield zero")
	}
}
