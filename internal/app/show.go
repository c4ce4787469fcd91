package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"structure-signals/internal/alerting"
	"structure-signals/internal/signal"
	"structure-signals/internal/storage"
)

// Show prints recent visible candidates.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	coord := a.newCoordinator(store, alerting.NewLogNotifier(a.Logger))
	candidates, err := coord.Visible(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeCandidateTable(out, candidates)
}

// History prints one candidate and its public lifecycle events.
func (a *App) History(ctx context.Context, out io.Writer, id string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	coord := a.newCoordinator(store, alerting.NewLogNotifier(a.Logger))
	cand, events, err := coord.History(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("candidate %s not found", id)
	}
	if err != nil {
		return err
	}

	if err := writeCandidateTable(out, []signal.Candidate{cand}); err != nil {
		return err
	}
	if len(cand.Evidence) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Evidence:")
		for _, e := range cand.Evidence {
			fmt.Fprintf(out, "  - %s\n", sanitizeInline(e))
		}
	}

	fmt.Fprintln(out)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tFrom\tTo\tPrice\tReason")
	for _, ev := range events {
		from := string(ev.From)
		if from == "" || from == string(signal.Prepared) {
			from = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			ev.OccurredAt.UTC().Format(time.RFC3339),
			from,
			ev.To,
			formatNullDecimal(ev.Price),
			sanitizeInline(ev.Reason),
		)
	}
	return writer.Flush()
}

// Close force-closes a candidate on operator request. The chat thread gets
// the usual follow-up when the candidate was visible.
func (a *App) Close(ctx context.Context, out io.Writer, opts CloseOptions) error {
	var price decimal.NullDecimal
	if opts.Price != "" {
		p, err := decimal.NewFromString(opts.Price)
		if err != nil || !p.IsPositive() {
			return fmt.Errorf("invalid --price %q", opts.Price)
		}
		price = decimal.NewNullDecimal(p)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	coord := a.newCoordinator(store, a.newNotifier())
	cand, err := coord.ForceClose(ctx, opts.ID, price, opts.Reason)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("candidate %s not found", opts.ID)
	}
	if err != nil {
		return err
	}

	a.Logger.Info().Str("candidate_id", cand.ID).Str("state", string(cand.State)).Msg("candidate closed by operator")
	fmt.Fprintf(out, "%s -> %s (%s)\n", cand.ID, cand.State, cand.Result)
	return nil
}

// Migrate applies the Postgres schema migrations.
func (a *App) Migrate(ctx context.Context, out io.Writer, dir string) error {
	if a.Config.Database.Driver == "sqlite" {
		fmt.Fprintln(out, "sqlite schema is applied on open; nothing to migrate")
		return nil
	}
	if dir == "" {
		dir = a.Config.Database.MigrationsPath
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := storage.Migrate(ctx, pool, dir)
	if err != nil {
		return err
	}
	for _, name := range applied {
		fmt.Fprintf(out, "applied %s\n", name)
	}
	return nil
}

func writeCandidateTable(out io.Writer, candidates []signal.Candidate) error {
	if len(candidates) == 0 {
		fmt.Fprintln(out, "no candidates found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCreated (UTC)\tInstrument\tTF\tDir\tEntry\tTP\tSL\tRelease\tState\tResult\tExit")
	for _, c := range candidates {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			c.ID,
			c.CreatedAt.UTC().Format(time.RFC3339),
			c.Instrument,
			c.Timeframe,
			c.Direction,
			c.EntryPrice.String(),
			c.TakeProfit.String(),
			c.StopLoss.String(),
			c.ReleaseScore,
			c.State,
			c.Result,
			formatNullDecimal(c.ExitPrice),
		)
	}
	return writer.Flush()
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
