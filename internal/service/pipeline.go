package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/market"
	"structure-signals/internal/metrics"
	"structure-signals/internal/release"
	"structure-signals/internal/signal"
	"structure-signals/internal/structure"
)

// Instrument is one analysed symbol with its price grid.
type Instrument struct {
	Symbol    string
	Timeframe market.Timeframe
	Grid      release.Instrument
	Spread    float64
}

// Analysis is the outcome of running a window through engine, gate and planner.
type Analysis struct {
	Instrument Instrument
	Verdict    structure.Verdict
	Score      release.Score
	Plan       release.Plan
	Outcome    string
	Err        error
}

// Ready reports whether the analysis produced a plan worth proposing.
func (a Analysis) Ready() bool { return a.Outcome == outcomeReady }

const outcomeReady = "ready"

// Pipeline evaluates a window and decides whether it should become a candidate.
// It performs no I/O.
type Pipeline struct {
	engine  *structure.Engine
	gate    *release.Gate
	gateCfg release.GateConfig
	planner *release.Planner
}

// NewPipeline assembles the evaluation chain.
func NewPipeline(engineCfg structure.Config, gateCfg release.GateConfig, plannerCfg release.PlannerConfig) *Pipeline {
	return &Pipeline{
		engine:  structure.NewEngine(engineCfg),
		gate:    release.NewGate(gateCfg),
		gateCfg: gateCfg,
		planner: release.NewPlanner(plannerCfg),
	}
}

// Analyse runs the window through the engine, gate and planner at time now.
func (p *Pipeline) Analyse(w market.Window, inst Instrument, now time.Time) Analysis {
	a := Analysis{Instrument: inst}
	a.Verdict = p.engine.Evaluate(w)
	a.Score = p.gate.Score(a.Verdict, release.ContextFromWindow(w, now, inst.Spread, p.gateCfg))

	switch {
	case !a.Verdict.State.Directional():
		a.Outcome = metrics.OutcomeNonDirectional
		return a
	case !a.Score.Eligible:
		a.Outcome = metrics.OutcomeBelowGate
		return a
	}

	last, _ := w.Last()
	dir := signal.Buy
	if a.Verdict.State == structure.StateBearish {
		dir = signal.Sell
	}
	atr := market.ATR(w.Candles(), p.gateCfg.ATRShort)

	plan, err := p.planner.Plan(dir, decimal.NewFromFloat(last.Close), atr, inst.Grid, now)
	if err != nil {
		a.Err = err
		a.Outcome = metrics.OutcomeInvalidEntry
		if !errors.Is(err, release.ErrInvalidEntry) {
			a.Outcome = metrics.OutcomePlanError
		}
		return a
	}
	a.Plan = plan
	a.Outcome = outcomeReady
	return a
}
