package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"structure-signals/internal/signal"
)

// Export renders candidate history as CSV and/or a cumulative pips chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	candidates, err := store.ListCreatedBetween(ctx, from, to, signal.VisibleStates...)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		a.Logger.Info().Msg("no candidates found for export window")
		return nil
	}
	if len(candidates) > opts.MaxRows {
		candidates = candidates[len(candidates)-opts.MaxRows:]
	}
	a.Logger.Info().Int("exported", len(candidates)).Msg("exporting candidates")

	pips := a.pipSizes()
	if opts.CSVPath != "" {
		if err := writeCandidatesCSV(opts.CSVPath, candidates, pips); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePipsPNG(opts.PNGPath, candidates, pips); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) pipSizes() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.Config.Instruments))
	for _, inst := range a.Config.Instruments {
		out[inst.Symbol] = inst.Grid().PipSize
	}
	return out
}

func writeCandidatesCSV(path string, candidates []signal.Candidate, pipSizes map[string]decimal.Decimal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"id", "created_at", "instrument", "timeframe", "direction",
		"entry", "take_profit", "stop_loss", "raw_confidence", "release_score",
		"state", "result", "entry_hit_at", "closed_at", "exit_price", "pips", "evidence",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, c := range candidates {
		exit, pips := "", ""
		if c.ExitPrice.Valid {
			exit = c.ExitPrice.Decimal.String()
			pips = c.Pips(c.ExitPrice.Decimal, pipSizes[c.Instrument]).StringFixed(1)
		}
		record := []string{
			c.ID,
			c.CreatedAt.UTC().Format(time.RFC3339),
			c.Instrument,
			c.Timeframe.String(),
			string(c.Direction),
			c.EntryPrice.String(),
			c.TakeProfit.String(),
			c.StopLoss.String(),
			strconv.FormatFloat(c.RawConfidence, 'f', 4, 64),
			strconv.FormatFloat(c.ReleaseScore, 'f', 4, 64),
			string(c.State),
			string(c.Result),
			formatTimePtr(c.EntryHitAt),
			formatTimePtr(c.ClosedAt),
			exit,
			pips,
			strings.Join(c.Evidence, "; "),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// cumulativePips orders closed candidates by close time and accumulates
// their pips. Candidates without an exit price are skipped.
func cumulativePips(candidates []signal.Candidate, pipSizes map[string]decimal.Decimal) ([]time.Time, []float64) {
	closed := make([]signal.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ClosedAt != nil && c.ExitPrice.Valid {
			closed = append(closed, c)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].ClosedAt.Before(*closed[j].ClosedAt) })

	x := make([]time.Time, len(closed))
	y := make([]float64, len(closed))
	total := decimal.Zero
	for i, c := range closed {
		total = total.Add(c.Pips(c.ExitPrice.Decimal, pipSizes[c.Instrument]))
		x[i] = c.ClosedAt.UTC()
		y[i] = total.InexactFloat64()
	}
	return x, y
}

func writePipsPNG(path string, candidates []signal.Candidate, pipSizes map[string]decimal.Decimal) error {
	x, y := cumulativePips(candidates, pipSizes)
	if len(x) < 2 {
		return errors.New("need at least two closed candidates to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Cumulative pips",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Net pips",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
