package structure

import (
	"fmt"
	"math"
	"sort"
	"time"

	"structure-signals/internal/market"
)

// State is the structural reading of a window.
type State string

const (
	StateBullish State = "bullish"
	StateBearish State = "bearish"
	StateRange   State = "range"
	StateUnclear State = "unclear"
)

// Directional reports whether the state implies a trade direction.
func (s State) Directional() bool {
	return s == StateBullish || s == StateBearish
}

// Verdict is the engine output. It is created fresh on every evaluation.
type Verdict struct {
	State         State    `json:"state"`
	Confidence    float64  `json:"confidence"`
	Dominance     float64  `json:"dominance"`
	BullishWeight float64  `json:"bullish_weight"`
	BearishWeight float64  `json:"bearish_weight"`
	Evidence      []string `json:"evidence"`
}

// Weights are the fixed contribution of each fact kind.
type Weights struct {
	BOS           float64 `mapstructure:"bos"`
	CHoCH         float64 `mapstructure:"choch"`
	SwingSequence float64 `mapstructure:"swing_sequence"`
	PendingFactor float64 `mapstructure:"pending_factor"`
}

// Config holds the tunable constants of the engine.
type Config struct {
	MinCandles       int     `mapstructure:"min_candles"`
	SwingStrength    int     `mapstructure:"swing_strength"`
	FollowThrough    int     `mapstructure:"follow_through"`
	MaxGapBars       int     `mapstructure:"max_gap_bars"`
	BullishThreshold float64 `mapstructure:"bullish_threshold"`
	BearishThreshold float64 `mapstructure:"bearish_threshold"`
	Weights          Weights `mapstructure:"weights"`
}

// DefaultConfig returns the baseline engine settings.
func DefaultConfig() Config {
	return Config{
		MinCandles:       30,
		SwingStrength:    2,
		FollowThrough:    3,
		MaxGapBars:       3,
		BullishThreshold: 0.65,
		BearishThreshold: 0.35,
		Weights: Weights{
			BOS:           1.0,
			CHoCH:         1.25,
			SwingSequence: 0.5,
			PendingFactor: 0.5,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinCandles <= 0 {
		c.MinCandles = d.MinCandles
	}
	if c.SwingStrength <= 0 {
		c.SwingStrength = d.SwingStrength
	}
	if c.FollowThrough < 0 {
		c.FollowThrough = d.FollowThrough
	}
	if c.BullishThreshold <= 0 {
		c.BullishThreshold = d.BullishThreshold
	}
	if c.BearishThreshold <= 0 {
		c.BearishThreshold = d.BearishThreshold
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if minLen := 2*c.SwingStrength + 1; c.MinCandles < minLen {
		c.MinCandles = minLen
	}
	return c
}

// Engine evaluates candle windows. It holds no mutable state.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine, filling zero values from DefaultConfig.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

type fact struct {
	bias   Bias
	weight float64
	index  int
	order  int
	text   string
}

// Evaluate reads the structure of w. Windows that are too short or fail
// integrity checks yield unclear with zero confidence.
func (e *Engine) Evaluate(w market.Window) Verdict {
	maxGap := w.Timeframe().Duration() * time.Duration(e.cfg.MaxGapBars)
	if err := w.Validate(e.cfg.MinCandles, maxGap); err != nil {
		return Verdict{
			State:     StateUnclear,
			Dominance: 0.5,
			Evidence:  []string{fmt.Sprintf("no verdict: %v", err)},
		}
	}

	candles := w.Candles()
	swings := DetectSwings(candles, e.cfg.SwingStrength)
	breaks := DetectBreaks(candles, swings, e.cfg.SwingStrength, e.cfg.FollowThrough)

	facts := e.swingFacts(swings)
	surviving := 0
	for _, b := range breaks {
		f := e.breakFact(b)
		if b.Status != Fake {
			surviving++
		}
		facts = append(facts, f)
	}
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].index != facts[j].index {
			return facts[i].index < facts[j].index
		}
		return facts[i].order < facts[j].order
	})

	var bull, bear float64
	var nBull, nBear int
	evidence := make([]string, 0, len(facts))
	for _, f := range facts {
		evidence = append(evidence, f.text)
		if f.weight <= 0 {
			continue
		}
		switch f.bias {
		case Bullish:
			bull += f.weight
			nBull++
		case Bearish:
			bear += f.weight
			nBear++
		}
	}

	dominance := 0.5
	if bull+bear > 0 {
		dominance = bull / (bull + bear)
	}

	v := Verdict{
		Dominance:     round4(dominance),
		BullishWeight: round4(bull),
		BearishWeight: round4(bear),
		Evidence:      evidence,
	}

	switch {
	case surviving > 0 && dominance >= e.cfg.BullishThreshold:
		v.State = StateBullish
	case surviving > 0 && dominance <= e.cfg.BearishThreshold:
		v.State = StateBearish
	case surviving > 0:
		v.State = StateRange
	default:
		v.State = StateUnclear
		v.Evidence = append(v.Evidence, "no surviving structural break in window")
		return v
	}

	agree, conflict := nBull, nBear
	if dominance < 0.5 {
		agree, conflict = nBear, nBull
	}
	v.Confidence = round4(confidence(dominance, agree, conflict))
	return v
}

// confidence grows with the distance of dominance from 0.5 and with the
// number of agreeing facts; every conflicting fact lowers it.
func confidence(dominance float64, agree, conflict int) float64 {
	strength := math.Abs(dominance-0.5) * 2
	corroboration := float64(agree) / float64(agree+conflict+1)
	c := strength * corroboration
	return math.Max(0, math.Min(1, c))
}

func (e *Engine) breakFact(b Break) fact {
	weight := e.cfg.Weights.BOS
	if b.Kind == CHoCH {
		weight = e.cfg.Weights.CHoCH
	}
	switch b.Status {
	case Pending:
		weight *= e.cfg.Weights.PendingFactor
	case Fake:
		weight = 0
	}

	direction := "above"
	if b.Bias == Bearish {
		direction = "below"
	}
	text := fmt.Sprintf("%s %s: close %.5f %s %s %.5f from %s (%s)",
		b.Bias, b.Kind, b.Close, direction, b.Level.Kind, b.Level.Price,
		b.Level.Time.UTC().Format("2006-01-02 15:04"), b.Status)
	if b.Status == Fake {
		text = fmt.Sprintf("fake breakout filtered: %s %s at %.5f reversed within %d bars",
			b.Bias, b.Kind, b.Level.Price, e.cfg.FollowThrough)
	}
	return fact{bias: b.Bias, weight: weight, index: b.Index, order: 2, text: text}
}

func (e *Engine) swingFacts(swings []Swing) []fact {
	facts := make([]fact, 0)
	var lastHigh, lastLow *Swing
	for i := range swings {
		s := swings[i]
		// Sequence facts are only known once the swing is confirmed,
		// so they are placed at the confirmation bar.
		at := s.Index + e.cfg.SwingStrength
		switch s.Kind {
		case SwingHigh:
			if lastHigh != nil && s.Price != lastHigh.Price {
				f := fact{weight: e.cfg.Weights.SwingSequence, index: at, order: 0}
				if s.Price > lastHigh.Price {
					f.bias = Bullish
					f.text = fmt.Sprintf("higher high %.5f over %.5f", s.Price, lastHigh.Price)
				} else {
					f.bias = Bearish
					f.text = fmt.Sprintf("lower high %.5f under %.5f", s.Price, lastHigh.Price)
				}
				facts = append(facts, f)
			}
			lastHigh = &swings[i]
		case SwingLow:
			if lastLow != nil && s.Price != lastLow.Price {
				f := fact{weight: e.cfg.Weights.SwingSequence, index: at, order: 1}
				if s.Price > lastLow.Price {
					f.bias = Bullish
					f.text = fmt.Sprintf("higher low %.5f over %.5f", s.Price, lastLow.Price)
				} else {
					f.bias = Bearish
					f.text = fmt.Sprintf("lower low %.5f under %.5f", s.Price, lastLow.Price)
				}
				facts = append(facts, f)
			}
			lastLow = &swings[i]
		}
	}
	return facts
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
