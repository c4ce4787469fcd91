package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/alerting"
	"structure-signals/internal/feed"
	"structure-signals/internal/lifecycle"
	"structure-signals/internal/market"
	"structure-signals/internal/service"
	"structure-signals/internal/signal"
	"structure-signals/internal/storage"
)

// ReplayReport summarises a walk-forward run.
type ReplayReport struct {
	Instrument string
	Bars       int
	From       time.Time
	To         time.Time
	Candidates []signal.Candidate
	ByState    map[signal.State]int
	Wins       int
	Losses     int
	Pips       decimal.Decimal
}

// Replay fetches history for one instrument and walks it forward bar by bar
// through the real producer, monitor and sweeper. The run uses a throwaway
// SQLite store and announces to the log only.
func (a *App) Replay(ctx context.Context, out io.Writer, opts ReplayOptions) error {
	inst, err := a.instrument(opts.Symbol)
	if err != nil {
		return err
	}
	if opts.Bars <= a.Config.Feed.WindowSize {
		return fmt.Errorf("--bars must exceed feed.window_size (%d)", a.Config.Feed.WindowSize)
	}

	f, closeFeed, err := a.newFeed(ctx)
	if err != nil {
		return err
	}
	defer closeFeed()

	history, err := f.Window(ctx, inst.Symbol, inst.Timeframe, opts.Bars)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	dir, err := os.MkdirTemp("", "structsig-replay-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	report, err := a.replay(ctx, history, inst, filepath.Join(dir, "replay.db"))
	if err != nil {
		return err
	}

	if opts.CSV != "" {
		if err := writeCandidatesCSV(opts.CSV, report.Candidates, a.pipSizes()); err != nil {
			return err
		}
	}
	return writeReplayReport(out, report)
}

func (a *App) replay(ctx context.Context, history market.Window, inst service.Instrument, dbPath string) (ReplayReport, error) {
	bar := inst.Timeframe.Duration()
	windowSize := a.Config.Feed.WindowSize
	if history.Len() <= windowSize || bar <= 0 {
		return ReplayReport{}, errors.New("replay history is shorter than one window")
	}

	store, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		return ReplayReport{}, err
	}
	defer store.Close()

	hf := &historyFeed{history: history}
	var now time.Time
	clock := func() time.Time { return now }

	coord := a.newCoordinator(store, alerting.NewLogNotifier(a.Logger), lifecycle.WithClock(clock))
	producer := service.NewProducer(hf, store, coord, a.newPipeline(), []service.Instrument{inst}, windowSize, 0, a.Logger)
	monitor := lifecycle.NewMonitor(coord, store, hf, a.Logger)
	sweeper := lifecycle.NewSweeper(coord, store, a.Config.Lifecycle.PreparedLease, a.Logger)

	first := history.At(windowSize - 1).Time.Add(bar)
	for i := windowSize - 1; i < history.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return ReplayReport{}, err
		}
		hf.cursor = i
		now = history.At(i).Time.Add(bar)

		// Exits first so a closed candidate frees admission on the same bar.
		if _, err := monitor.Tick(ctx); err != nil {
			return ReplayReport{}, fmt.Errorf("monitor at %s: %w", now.Format(time.RFC3339), err)
		}
		if _, err := sweeper.Tick(ctx); err != nil {
			return ReplayReport{}, fmt.Errorf("sweeper at %s: %w", now.Format(time.RFC3339), err)
		}
		if err := producer.Tick(ctx, now); err != nil {
			return ReplayReport{}, fmt.Errorf("producer at %s: %w", now.Format(time.RFC3339), err)
		}
	}

	candidates, err := store.ListCreatedBetween(ctx, first, now.Add(bar))
	if err != nil {
		return ReplayReport{}, err
	}
	return summarise(inst, history.Len()-windowSize+1, first, now, candidates), nil
}

func summarise(inst service.Instrument, bars int, from, to time.Time, candidates []signal.Candidate) ReplayReport {
	r := ReplayReport{
		Instrument: inst.Symbol,
		Bars:       bars,
		From:       from,
		To:         to,
		Candidates: candidates,
		ByState:    make(map[signal.State]int),
		Pips:       decimal.Zero,
	}
	for _, c := range candidates {
		r.ByState[c.State]++
		switch c.Result {
		case signal.ResultProfit:
			r.Wins++
		case signal.ResultLoss:
			r.Losses++
		}
		if c.ExitPrice.Valid {
			r.Pips = r.Pips.Add(c.Pips(c.ExitPrice.Decimal, inst.Grid.PipSize))
		}
	}
	return r
}

func writeReplayReport(out io.Writer, r ReplayReport) error {
	fmt.Fprintf(out, "%s: %d bars from %s to %s\n", r.Instrument, r.Bars,
		r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	fmt.Fprintf(out, "candidates: %d  wins: %d  losses: %d  net pips: %s\n",
		len(r.Candidates), r.Wins, r.Losses, r.Pips.StringFixed(1))

	states := make([]string, 0, len(r.ByState))
	for s := range r.ByState {
		states = append(states, string(s))
	}
	sort.Strings(states)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, s := range states {
		fmt.Fprintf(writer, "  %s\t%d\n", s, r.ByState[signal.State(s)])
	}
	return writer.Flush()
}

// historyFeed serves a recorded candle series up to a movable cursor, so
// workers only ever see bars that had closed at the simulated time.
type historyFeed struct {
	history market.Window
	cursor  int
}

func (h *historyFeed) Latest(_ context.Context, instrument string, tf market.Timeframe) (market.Candle, error) {
	if err := h.check(instrument, tf); err != nil {
		return market.Candle{}, err
	}
	return h.history.At(h.cursor), nil
}

func (h *historyFeed) Window(_ context.Context, instrument string, tf market.Timeframe, n int) (market.Window, error) {
	if err := h.check(instrument, tf); err != nil {
		return market.Window{}, err
	}
	end := h.cursor + 1
	start := end - n
	if start < 0 {
		start = 0
	}
	return h.history.Slice(start, end), nil
}

func (h *historyFeed) check(instrument string, tf market.Timeframe) error {
	if instrument != h.history.Instrument() || tf != h.history.Timeframe() {
		return fmt.Errorf("%w: replay only covers %s %s", feed.ErrUnavailable, h.history.Instrument(), h.history.Timeframe())
	}
	return nil
}

var _ feed.Feed = (*historyFeed)(nil)
