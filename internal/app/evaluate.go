package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"structure-signals/internal/service"
)

// evaluation is the JSON form of a one-shot analysis.
type evaluation struct {
	Instrument string    `json:"instrument"`
	Timeframe  string    `json:"timeframe"`
	At         time.Time `json:"at"`
	State      string    `json:"state"`
	Confidence float64   `json:"confidence"`
	Dominance  float64   `json:"dominance"`
	Evidence   []string  `json:"evidence"`
	Release    float64   `json:"release_score"`
	Session    float64   `json:"session_factor"`
	Volatility float64   `json:"volatility_factor"`
	Spread     float64   `json:"spread_factor"`
	Eligible   bool      `json:"eligible"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Entry      string    `json:"entry,omitempty"`
	TakeProfit string    `json:"take_profit,omitempty"`
	StopLoss   string    `json:"stop_loss,omitempty"`
}

// Evaluate runs the pipeline once against live candles and prints the result.
// Nothing is written to the store and nothing is announced.
func (a *App) Evaluate(ctx context.Context, out io.Writer, opts EvaluateOptions) error {
	inst, err := a.instrument(opts.Symbol)
	if err != nil {
		return err
	}

	f, closeFeed, err := a.newFeed(ctx)
	if err != nil {
		return err
	}
	defer closeFeed()

	w, err := f.Window(ctx, inst.Symbol, inst.Timeframe, a.Config.Feed.WindowSize)
	if err != nil {
		return fmt.Errorf("fetch window: %w", err)
	}

	now := time.Now().UTC()
	analysis := a.newPipeline().Analyse(w, inst, now)
	return writeEvaluation(out, toEvaluation(analysis, now), opts.JSON)
}

func toEvaluation(an service.Analysis, at time.Time) evaluation {
	ev := evaluation{
		Instrument: an.Instrument.Symbol,
		Timeframe:  an.Instrument.Timeframe.String(),
		At:         at,
		State:      string(an.Verdict.State),
		Confidence: an.Verdict.Confidence,
		Dominance:  an.Verdict.Dominance,
		Evidence:   an.Verdict.Evidence,
		Release:    an.Score.Release,
		Session:    an.Score.Session,
		Volatility: an.Score.Volatility,
		Spread:     an.Score.Spread,
		Eligible:   an.Score.Eligible,
		Outcome:    an.Outcome,
	}
	if an.Err != nil {
		ev.Error = an.Err.Error()
	}
	if an.Ready() {
		ev.Direction = string(an.Plan.Direction)
		ev.Entry = an.Plan.Entry.String()
		ev.TakeProfit = an.Plan.TakeProfit.String()
		ev.StopLoss = an.Plan.StopLoss.String()
	}
	return ev
}

func writeEvaluation(out io.Writer, ev evaluation, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ev)
	}

	fmt.Fprintf(out, "%s %s @ %s\n", ev.Instrument, ev.Timeframe, ev.At.Format(time.RFC3339))
	fmt.Fprintf(out, "state:      %s (confidence %.3f, dominance %.3f)\n", ev.State, ev.Confidence, ev.Dominance)
	fmt.Fprintf(out, "release:    %.3f = session %.2f x volatility %.2f x spread %.2f, eligible=%t\n",
		ev.Release, ev.Session, ev.Volatility, ev.Spread, ev.Eligible)
	fmt.Fprintf(out, "outcome:    %s\n", ev.Outcome)
	if ev.Error != "" {
		fmt.Fprintf(out, "error:      %s\n", ev.Error)
	}
	if ev.Direction != "" {
		fmt.Fprintf(out, "plan:       %s entry %s tp %s sl %s\n", ev.Direction, ev.Entry, ev.TakeProfit, ev.StopLoss)
	}
	for _, e := range ev.Evidence {
		fmt.Fprintf(out, "  - %s\n", e)
	}
	return nil
}
