package release

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/signal"
)

// ErrInvalidEntry means the planned entry collapsed onto the current price.
var ErrInvalidEntry = errors.New("SKIPPED_INVALID_ENTRY")

// Instrument describes the price grid of a traded symbol.
type Instrument struct {
	Symbol    string
	PipSize   decimal.Decimal
	Precision int32
}

// PlannerConfig controls entry offsets, exit distances and timers.
type PlannerConfig struct {
	Mode            string        `mapstructure:"mode"`
	EntryOffsetPips float64       `mapstructure:"entry_offset_pips"`
	EntryATRMult    float64       `mapstructure:"entry_atr_mult"`
	MinOffsetPips   float64       `mapstructure:"min_offset_pips"`
	TakeProfitPips  float64       `mapstructure:"take_profit_pips"`
	StopLossPips    float64       `mapstructure:"stop_loss_pips"`
	TakeProfitATR   float64       `mapstructure:"take_profit_atr"`
	StopLossATR     float64       `mapstructure:"stop_loss_atr"`
	EntryWindow     time.Duration `mapstructure:"entry_window"`
	TradeWindow     time.Duration `mapstructure:"trade_window"`
}

const (
	ModeFixed = "fixed"
	ModeATR   = "atr"
)

// DefaultPlannerConfig returns the baseline planner settings.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Mode:            ModeFixed,
		EntryOffsetPips: 5,
		MinOffsetPips:   1,
		TakeProfitPips:  15,
		StopLossPips:    5,
		TakeProfitATR:   2,
		StopLossATR:     1,
		EntryWindow:     15 * time.Minute,
		TradeWindow:     2 * time.Hour,
	}
}

// Plan is the entry/exit layout of a candidate.
type Plan struct {
	Direction     signal.Direction
	Reference     decimal.Decimal
	Entry         decimal.Decimal
	TakeProfit    decimal.Decimal
	StopLoss      decimal.Decimal
	EntryDeadline time.Time
	TradeDeadline time.Time
}

// Planner computes entry and exit levels.
type Planner struct {
	cfg PlannerConfig
}

// NewPlanner builds a planner.
func NewPlanner(cfg PlannerConfig) *Planner {
	if cfg.Mode == "" {
		cfg.Mode = ModeFixed
	}
	return &Planner{cfg: cfg}
}

// Plan places the entry away from price in the direction of a pullback
// (below for BUY, above for SELL) and measures TP/SL from the entry.
func (p *Planner) Plan(dir signal.Direction, price decimal.Decimal, atr float64, inst Instrument, now time.Time) (Plan, error) {
	if inst.PipSize.Sign() <= 0 {
		return Plan{}, fmt.Errorf("instrument %s: pip size must be positive", inst.Symbol)
	}
	if price.Sign() <= 0 {
		return Plan{}, fmt.Errorf("instrument %s: price must be positive", inst.Symbol)
	}
	if dir != signal.Buy && dir != signal.Sell {
		return Plan{}, fmt.Errorf("unknown direction %q", dir)
	}

	atrDec := decimal.NewFromFloat(atr)
	offset := inst.PipSize.Mul(decimal.NewFromFloat(p.cfg.EntryOffsetPips))
	if p.cfg.EntryATRMult > 0 && atr > 0 {
		offset = decimal.Max(offset, atrDec.Mul(decimal.NewFromFloat(p.cfg.EntryATRMult)))
	}

	entry := price.Sub(offset)
	if dir == signal.Sell {
		entry = price.Add(offset)
	}
	entry = entry.Round(inst.Precision)

	minOffset := inst.PipSize.Mul(decimal.NewFromFloat(p.cfg.MinOffsetPips))
	if minOffset.IsZero() {
		minOffset = decimal.New(1, -inst.Precision)
	}
	if entry.Sub(price).Abs().LessThan(minOffset) || entry.Sign() <= 0 {
		return Plan{}, fmt.Errorf("%w: entry %s vs price %s", ErrInvalidEntry, entry, price)
	}

	tpDist, slDist := p.distances(inst, atrDec)
	plan := Plan{
		Direction:     dir,
		Reference:     price,
		Entry:         entry,
		EntryDeadline: now.Add(p.cfg.EntryWindow).UTC(),
		TradeDeadline: now.Add(p.cfg.EntryWindow + p.cfg.TradeWindow).UTC(),
	}
	if dir == signal.Buy {
		plan.TakeProfit = entry.Add(tpDist).Round(inst.Precision)
		plan.StopLoss = entry.Sub(slDist).Round(inst.Precision)
	} else {
		plan.TakeProfit = entry.Sub(tpDist).Round(inst.Precision)
		plan.StopLoss = entry.Add(slDist).Round(inst.Precision)
	}
	return plan, nil
}

func (p *Planner) distances(inst Instrument, atr decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if p.cfg.Mode == ModeATR && atr.Sign() > 0 {
		return atr.Mul(decimal.NewFromFloat(p.cfg.TakeProfitATR)), atr.Mul(decimal.NewFromFloat(p.cfg.StopLossATR))
	}
	return inst.PipSize.Mul(decimal.NewFromFloat(p.cfg.TakeProfitPips)),
		inst.PipSize.Mul(decimal.NewFromFloat(p.cfg.StopLossPips))
}
