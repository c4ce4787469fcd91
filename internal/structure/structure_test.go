package structure

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"structure-signals/internal/market"
)

func TestDetectSwings(t *testing.T) {
	highs := []float64{1.0, 1.1, 1.3, 1.1, 1.0, 1.1, 1.5, 1.2, 1.0}
	candles := make([]market.Candle, len(highs))
	for i, h := range highs {
		candles[i] = market.Candle{Time: t0.Add(timeStep(i)), High: h, Low: h - 0.1, Open: h - 0.08, Close: h - 0.02}
	}

	swings := DetectSwings(candles, 2)
	want := []struct {
		kind  SwingKind
		index int
	}{{SwingHigh, 2}, {SwingLow, 4}, {SwingHigh, 6}}
	if len(swings) != len(want) {
		t.Fatalf("expected %d swings, got %d: %+v", len(want), len(swings), swings)
	}
	for i, w := range want {
		if swings[i].Kind != w.kind || swings[i].Index != w.index {
			t.Fatalf("swing %d = %+v, want %v@%d", i, swings[i], w.kind, w.index)
		}
	}
}

func TestFilterBreakout(t *testing.T) {
	closes := func(v ...float64) []market.Candle {
		out := make([]market.Candle, len(v))
		for i, c := range v {
			out[i] = market.Candle{Close: c}
		}
		return out
	}

	cases := []struct {
		name    string
		candles []market.Candle
		idx     int
		level   float64
		bias    Bias
		want    BreakStatus
	}{
		{"bullish held", closes(1, 1, 1.2, 1.25, 1.3, 1.3), 2, 1.1, Bullish, Confirmed},
		{"bullish reversed", closes(1, 1, 1.2, 1.25, 1.05, 1.3), 2, 1.1, Bullish, Fake},
		{"close on level counts as reversal", closes(1, 1, 1.2, 1.1, 1.3, 1.3), 2, 1.1, Bullish, Fake},
		{"bullish not enough bars", closes(1, 1, 1, 1, 1.2, 1.3), 4, 1.1, Bullish, Pending},
		{"bearish held", closes(1.2, 1.2, 1.0, 0.95, 0.9, 0.9), 2, 1.1, Bearish, Confirmed},
		{"bearish reversed", closes(1.2, 1.2, 1.0, 1.15, 0.9, 0.9), 2, 1.1, Bearish, Fake},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FilterBreakout(tc.candles, tc.idx, tc.level, tc.bias, 3); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDetectBreaksUptrendIsBOS(t *testing.T) {
	candles := uptrend()
	breaks := DetectBreaks(candles, DetectSwings(candles, 2), 2, 3)
	if len(breaks) == 0 {
		t.Fatal("expected breaks in an uptrend")
	}
	for _, b := range breaks {
		if b.Bias != Bullish || b.Kind != BOS {
			t.Fatalf("uptrend should only produce bullish BOS, got %+v", b)
		}
		if b.Status == Fake {
			t.Fatalf("uptrend break should not be fake: %+v", b)
		}
	}
}

func TestDetectBreaksChangeOfCharacter(t *testing.T) {
	moves := append(legs(6, 6, 3, 1), 1, 1, 1)
	for i := 0; i < 12; i++ {
		moves = append(moves, -1)
	}
	candles := path(1.1, moves)
	breaks := DetectBreaks(candles, DetectSwings(candles, 2), 2, 3)

	last := breaks[len(breaks)-1]
	if last.Bias != Bearish || last.Kind != CHoCH {
		t.Fatalf("expected bearish CHoCH after uptrend, got %+v", last)
	}
	if last.Status != Confirmed {
		t.Fatalf("expected confirmed CHoCH, got %s", last.Status)
	}
}

func TestEvaluateFailsHardOnShortWindow(t *testing.T) {
	e := NewEngine(DefaultConfig())
	v := e.Evaluate(window(uptrend()[:10]))
	if v.State != StateUnclear || v.Confidence != 0 {
		t.Fatalf("short window must be unclear/0, got %s/%f", v.State, v.Confidence)
	}
}

func TestEvaluateFailsHardOnBrokenWindow(t *testing.T) {
	candles := uptrend()
	candles[20].Time = candles[19].Time
	v := NewEngine(DefaultConfig()).Evaluate(window(candles))
	if v.State != StateUnclear || v.Confidence != 0 {
		t.Fatalf("invalid window must be unclear/0, got %s/%f", v.State, v.Confidence)
	}
}

func TestEvaluateUptrend(t *testing.T) {
	v := NewEngine(DefaultConfig()).Evaluate(window(uptrend()))
	if v.State != StateBullish {
		t.Fatalf("expected bullish, got %s (dominance %.2f)", v.State, v.Dominance)
	}
	if v.Dominance != 1 {
		t.Fatalf("expected full bullish dominance, got %f", v.Dominance)
	}
	if v.Confidence < 0.8 || v.Confidence > 1 {
		t.Fatalf("unexpected confidence %f", v.Confidence)
	}
	if len(v.Evidence) == 0 || !containsAny(v.Evidence, "bullish BOS") {
		t.Fatalf("evidence should name the breaks: %v", v.Evidence)
	}
}

func TestEvaluateDowntrend(t *testing.T) {
	v := NewEngine(DefaultConfig()).Evaluate(window(downtrend()))
	if v.State != StateBearish {
		t.Fatalf("expected bearish, got %s (dominance %.2f)", v.State, v.Dominance)
	}
	if v.Dominance != 0 {
		t.Fatalf("expected zero bullish dominance, got %f", v.Dominance)
	}
	if !containsAny(v.Evidence, "bearish BOS") {
		t.Fatalf("evidence should name the breaks: %v", v.Evidence)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := NewEngine(DefaultConfig())
	for _, candles := range [][]market.Candle{uptrend(), downtrend(), uptrend()[:12]} {
		w := window(candles)
		a, b := e.Evaluate(w), e.Evaluate(w)
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("verdicts differ: %+v vs %+v", a, b)
		}
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		if !bytes.Equal(ja, jb) {
			t.Fatal("serialised verdicts differ")
		}
	}
}

func TestConfidenceIsMonotonic(t *testing.T) {
	if !(confidence(0.9, 3, 0) < confidence(1.0, 3, 0)) {
		t.Fatal("stronger dominance should raise confidence")
	}
	if !(confidence(1.0, 5, 0) > confidence(1.0, 3, 0)) {
		t.Fatal("more agreeing facts should raise confidence")
	}
	if !(confidence(0.8, 3, 1) < confidence(0.8, 3, 0)) {
		t.Fatal("conflicting facts should lower confidence")
	}
	if confidence(0.5, 10, 10) != 0 {
		t.Fatal("balanced evidence should have zero confidence")
	}
}

func containsAny(lines []string, needle string) bool {
	for _, l := range lines {
		if strings.Contains(l, needle) {
			return true
		}
	}
	return false
}
