// Package release decides whether a structural verdict may become a public
// candidate and plans its entry and exit levels.
package release

import (
	"math"
	"time"

	"structure-signals/internal/market"
	"structure-signals/internal/structure"
)

// Session is a UTC hour range with a liquidity weight. EndHour is exclusive
// and may be smaller than StartHour to wrap midnight.
type Session struct {
	Name      string  `mapstructure:"name"`
	StartHour int     `mapstructure:"start_hour"`
	EndHour   int     `mapstructure:"end_hour"`
	Weight    float64 `mapstructure:"weight"`
}

func (s Session) contains(hour int) bool {
	if s.StartHour <= s.EndHour {
		return hour >= s.StartHour && hour < s.EndHour
	}
	return hour >= s.StartHour || hour < s.EndHour
}

// VolatilityBands maps the short/long ATR ratio to a factor.
type VolatilityBands struct {
	LowRatio     float64 `mapstructure:"low_ratio"`
	HighRatio    float64 `mapstructure:"high_ratio"`
	LowFactor    float64 `mapstructure:"low_factor"`
	NormalFactor float64 `mapstructure:"normal_factor"`
	HighFactor   float64 `mapstructure:"high_factor"`
}

// GateConfig holds the release threshold and context weights.
type GateConfig struct {
	Threshold      float64         `mapstructure:"threshold"`
	FactorMin      float64         `mapstructure:"factor_min"`
	FactorMax      float64         `mapstructure:"factor_max"`
	DefaultSession float64         `mapstructure:"default_session_weight"`
	Sessions       []Session       `mapstructure:"sessions"`
	Volatility     VolatilityBands `mapstructure:"volatility"`
	SpreadPenalty  float64         `mapstructure:"spread_penalty"`
	ATRShort       int             `mapstructure:"atr_short"`
	ATRLong        int             `mapstructure:"atr_long"`
}

// DefaultGateConfig returns the baseline gate settings.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Threshold:      0.8,
		FactorMin:      0.5,
		FactorMax:      1.2,
		DefaultSession: 0.6,
		Sessions: []Session{
			{Name: "asia", StartHour: 0, EndHour: 7, Weight: 0.8},
			{Name: "london", StartHour: 7, EndHour: 12, Weight: 1.0},
			{Name: "overlap", StartHour: 12, EndHour: 16, Weight: 1.1},
			{Name: "newyork", StartHour: 16, EndHour: 20, Weight: 1.0},
		},
		Volatility: VolatilityBands{
			LowRatio:     0.6,
			HighRatio:    1.5,
			LowFactor:    0.8,
			NormalFactor: 1.0,
			HighFactor:   0.7,
		},
		SpreadPenalty: 1.0,
		ATRShort:      14,
		ATRLong:       50,
	}
}

// Context is the market context a verdict is released into.
type Context struct {
	At       time.Time
	ATRShort float64
	ATRLong  float64
	Spread   float64
}

// ContextFromWindow derives the release context from the evaluated window.
func ContextFromWindow(w market.Window, at time.Time, spread float64, cfg GateConfig) Context {
	candles := w.Candles()
	return Context{
		At:       at.UTC(),
		ATRShort: market.ATR(candles, cfg.ATRShort),
		ATRLong:  market.ATR(candles, cfg.ATRLong),
		Spread:   spread,
	}
}

// Score is the breakdown of a release decision.
type Score struct {
	Raw        float64
	Session    float64
	Volatility float64
	Spread     float64
	Release    float64
	Eligible   bool
}

// Gate scales raw confidence by context factors.
type Gate struct {
	cfg GateConfig
}

// NewGate builds a gate.
func NewGate(cfg GateConfig) *Gate {
	if cfg.FactorMin <= 0 || cfg.FactorMax <= 0 || cfg.FactorMin > cfg.FactorMax {
		d := DefaultGateConfig()
		cfg.FactorMin, cfg.FactorMax = d.FactorMin, d.FactorMax
	}
	return &Gate{cfg: cfg}
}

// Threshold returns the minimum release score.
func (g *Gate) Threshold() float64 { return g.cfg.Threshold }

// Score computes the release score for v in ctx. It has no side effects.
func (g *Gate) Score(v structure.Verdict, ctx Context) Score {
	s := Score{
		Raw:        clamp(v.Confidence, 0, 1),
		Session:    g.factor(g.sessionWeight(ctx.At)),
		Volatility: g.factor(g.volatilityFactor(ctx)),
		Spread:     g.factor(g.spreadFactor(ctx)),
	}
	s.Release = clamp(s.Raw*s.Session*s.Volatility*s.Spread, 0, 1)
	s.Eligible = v.State.Directional() && s.Release >= g.cfg.Threshold
	return s
}

func (g *Gate) factor(v float64) float64 {
	return clamp(v, g.cfg.FactorMin, g.cfg.FactorMax)
}

func (g *Gate) sessionWeight(at time.Time) float64 {
	hour := at.UTC().Hour()
	for _, s := range g.cfg.Sessions {
		if s.contains(hour) {
			return s.Weight
		}
	}
	return g.cfg.DefaultSession
}

func (g *Gate) volatilityFactor(ctx Context) float64 {
	b := g.cfg.Volatility
	if ctx.ATRLong <= 0 {
		return b.NormalFactor
	}
	ratio := ctx.ATRShort / ctx.ATRLong
	switch {
	case ratio < b.LowRatio:
		return b.LowFactor
	case ratio > b.HighRatio:
		return b.HighFactor
	default:
		return b.NormalFactor
	}
}

// spreadFactor penalises spreads that are large relative to the short ATR.
func (g *Gate) spreadFactor(ctx Context) float64 {
	if ctx.Spread <= 0 || ctx.ATRShort <= 0 {
		return 1
	}
	return 1 - g.cfg.SpreadPenalty*ctx.Spread/ctx.ATRShort
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
