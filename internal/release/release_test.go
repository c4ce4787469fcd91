package release

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/signal"
	"structure-signals/internal/structure"
)

var eurusd = Instrument{Symbol: "EUR/USD", PipSize: decimal.RequireFromString("0.0001"), Precision: 5}

func TestGateClampsFactorsAndScore(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.Sessions = []Session{{Name: "all", StartHour: 0, EndHour: 24, Weight: 5}}
	g := NewGate(cfg)

	v := structure.Verdict{State: structure.StateBullish, Confidence: 0.95}
	s := g.Score(v, Context{At: time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC), ATRShort: 1, ATRLong: 1})

	if s.Session != cfg.FactorMax {
		t.Fatalf("session factor should be clamped to %.2f, got %.2f", cfg.FactorMax, s.Session)
	}
	if s.Release != 1 {
		t.Fatalf("release score should be clamped to 1, got %f", s.Release)
	}
	if !s.Eligible {
		t.Fatal("clamped score above threshold should be eligible")
	}
}

func TestGateSessionWeights(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	v := structure.Verdict{State: structure.StateBearish, Confidence: 0.9}
	ctx := func(hour int) Context {
		return Context{At: time.Date(2024, 1, 2, hour, 30, 0, 0, time.UTC), ATRShort: 1, ATRLong: 1}
	}

	overlap := g.Score(v, ctx(13))
	asia := g.Score(v, ctx(3))
	late := g.Score(v, ctx(22))

	if !(overlap.Release > asia.Release && asia.Release > late.Release) {
		t.Fatalf("expected overlap > asia > late, got %.3f %.3f %.3f", overlap.Release, asia.Release, late.Release)
	}
	if !overlap.Eligible || asia.Eligible || late.Eligible {
		t.Fatalf("eligibility mismatch: overlap=%v asia=%v late=%v", overlap.Eligible, asia.Eligible, late.Eligible)
	}
}

func TestGateVolatilityAndSpread(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	v := structure.Verdict{State: structure.StateBullish, Confidence: 0.9}
	at := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	normal := g.Score(v, Context{At: at, ATRShort: 1, ATRLong: 1})
	spiky := g.Score(v, Context{At: at, ATRShort: 3, ATRLong: 1})
	wide := g.Score(v, Context{At: at, ATRShort: 1, ATRLong: 1, Spread: 0.9})

	if spiky.Volatility != 0.7 || spiky.Release >= normal.Release {
		t.Fatalf("high volatility should be penalised: %+v", spiky)
	}
	if wide.Spread != 0.5 {
		t.Fatalf("spread factor should floor at 0.5, got %f", wide.Spread)
	}
}

func TestGateRejectsNonDirectional(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	at := time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC)
	for _, state := range []structure.State{structure.StateRange, structure.StateUnclear} {
		s := g.Score(structure.Verdict{State: state, Confidence: 1}, Context{At: at, ATRShort: 1, ATRLong: 1})
		if s.Eligible {
			t.Fatalf("%s verdict must never be eligible", state)
		}
	}
}

func TestPlanBuyMatchesReferenceScenario(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

	plan, err := p.Plan(signal.Buy, decimal.RequireFromString("1.19371"), 0, eurusd, now)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	expect := map[string]string{
		"entry": "1.19321",
		"tp":    "1.19471",
		"sl":    "1.19271",
	}
	got := map[string]decimal.Decimal{"entry": plan.Entry, "tp": plan.TakeProfit, "sl": plan.StopLoss}
	for k, want := range expect {
		if !got[k].Equal(decimal.RequireFromString(want)) {
			t.Fatalf("%s = %s, want %s", k, got[k], want)
		}
	}
	if !plan.EntryDeadline.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("entry deadline = %s", plan.EntryDeadline)
	}
	if !plan.TradeDeadline.After(plan.EntryDeadline) {
		t.Fatal("trade deadline must follow entry deadline")
	}
}

func TestPlanSellWaitsForRally(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	price := decimal.RequireFromString("1.08000")
	plan, err := p.Plan(signal.Sell, price, 0, eurusd, time.Now())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !plan.Entry.GreaterThan(price) {
		t.Fatalf("sell entry %s should be above price %s", plan.Entry, price)
	}
	if !plan.TakeProfit.LessThan(plan.Entry) || !plan.StopLoss.GreaterThan(plan.Entry) {
		t.Fatalf("sell tp/sl on wrong side: %+v", plan)
	}
}

func TestPlanATRModeMeasuresFromEntry(t *testing.T) {
	cfg := DefaultPlannerConfig()
	cfg.Mode = ModeATR
	cfg.EntryATRMult = 0.5
	p := NewPlanner(cfg)

	plan, err := p.Plan(signal.Buy, decimal.RequireFromString("1.10000"), 0.0010, eurusd, time.Now())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !plan.Entry.Equal(decimal.RequireFromString("1.09950")) {
		t.Fatalf("entry = %s", plan.Entry)
	}
	if !plan.TakeProfit.Equal(decimal.RequireFromString("1.10150")) {
		t.Fatalf("tp = %s", plan.TakeProfit)
	}
	if !plan.StopLoss.Equal(decimal.RequireFromString("1.09850")) {
		t.Fatalf("sl = %s", plan.StopLoss)
	}
}

func TestPlanRejectsCollapsedEntry(t *testing.T) {
	cfg := DefaultPlannerConfig()
	cfg.EntryOffsetPips = 0.01
	p := NewPlanner(cfg)

	_, err := p.Plan(signal.Buy, decimal.RequireFromString("1.10000"), 0, eurusd, time.Now())
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}
