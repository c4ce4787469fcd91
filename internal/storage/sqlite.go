package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"structure-signals/internal/signal"
)

// sqliteSchema mirrors migrations/0001_signal_lifecycle.up.sql with
// timestamps as unix milliseconds and prices as TEXT.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS signal_candidates (
		id TEXT PRIMARY KEY,
		instrument TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		take_profit TEXT NOT NULL,
		stop_loss TEXT NOT NULL,
		raw_confidence REAL NOT NULL,
		release_score REAL NOT NULL,
		dominance REAL NOT NULL,
		evidence TEXT NOT NULL DEFAULT '[]',
		state TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT 'none',
		created_at INTEGER NOT NULL,
		entry_deadline INTEGER NOT NULL,
		trade_deadline INTEGER NOT NULL,
		entry_hit_at INTEGER,
		closed_at INTEGER,
		exit_price TEXT,
		announcement_ref TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS signal_candidates_single_live
		ON signal_candidates ((state IN ('WAITING_FOR_ENTRY','ENTRY_HIT')))
		WHERE state IN ('WAITING_FOR_ENTRY','ENTRY_HIT');`,
	`CREATE INDEX IF NOT EXISTS signal_candidates_state_idx ON signal_candidates (state, created_at);`,
	`CREATE TABLE IF NOT EXISTS lifecycle_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate_id TEXT NOT NULL REFERENCES signal_candidates(id),
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		price TEXT,
		occurred_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS lifecycle_events_candidate_idx ON lifecycle_events (candidate_id, id);`,
}

const (
	sqliteCandidateColumns = `id, instrument, timeframe, direction, entry_price, take_profit, stop_loss,
		raw_confidence, release_score, dominance, evidence, state, result,
		created_at, entry_deadline, trade_deadline, entry_hit_at, closed_at, exit_price,
		announcement_ref, updated_at`

	sqliteInsertCandidateSQL = `INSERT INTO signal_candidates (
		id, instrument, timeframe, direction, entry_price, take_profit, stop_loss,
		raw_confidence, release_score, dominance, evidence, state, result,
		created_at, entry_deadline, trade_deadline, announcement_ref, updated_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`

	sqliteInsertEventSQL = `INSERT INTO lifecycle_events (
		candidate_id, from_state, to_state, reason, price, occurred_at
	) VALUES (?,?,?,?,?,?);`

	sqliteListEventsSQL = `SELECT id, candidate_id, from_state, to_state, reason, price, occurred_at
		FROM lifecycle_events
		WHERE candidate_id = ?
		ORDER BY id;`
)

// SQLite is a single-file store used by replay runs, tests and single-host deployments.
type SQLite struct {
	db      *sql.DB
	builder updateBuilder
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("database.sqlite_path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps the conditional updates serialised
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA foreign_keys = ON;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}

	return &SQLite{
		db: db,
		builder: updateBuilder{
			placeholder: func(int) string { return "?" },
			timeValue:   func(t time.Time) any { return t.UnixMilli() },
		},
	}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func (s *SQLite) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// CreateCandidate inserts a PREPARED candidate and its creation event atomically.
func (s *SQLite) CreateCandidate(ctx context.Context, c signal.Candidate) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	evidence, err := json.Marshal(c.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create candidate: %w", err)
	}
	defer tx.Rollback()

	created := c.CreatedAt.UnixMilli()
	if _, err := tx.ExecContext(ctx, sqliteInsertCandidateSQL,
		c.ID,
		c.Instrument,
		string(c.Timeframe),
		string(c.Direction),
		c.EntryPrice.String(),
		c.TakeProfit.String(),
		c.StopLoss.String(),
		c.RawConfidence,
		c.ReleaseScore,
		c.Dominance,
		string(evidence),
		string(c.State),
		string(c.Result),
		created,
		c.EntryDeadline.UnixMilli(),
		c.TradeDeadline.UnixMilli(),
		c.AnnouncementRef,
		created,
	); err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqliteInsertEventSQL, c.ID, "", string(c.State), "created", nil, created); err != nil {
		return fmt.Errorf("insert creation event: %w", err)
	}
	return tx.Commit()
}

// ApplyTransition performs the conditional update and appends the event in one transaction.
func (s *SQLite) ApplyTransition(ctx context.Context, t signal.Transition) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	query, args := s.builder.transition(t)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isSQLiteUnique(err) {
			return false, nil
		}
		return false, fmt.Errorf("apply transition %s -> %s: %w", t.From, t.To, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	ev := t.Event()
	if _, err := tx.ExecContext(ctx, sqliteInsertEventSQL,
		ev.CandidateID,
		string(ev.From),
		string(ev.To),
		ev.Reason,
		nullDecimalArg(ev.Price),
		ev.OccurredAt.UnixMilli(),
	); err != nil {
		return false, fmt.Errorf("insert lifecycle event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

// GetCandidate loads one candidate by id.
func (s *SQLite) GetCandidate(ctx context.Context, id string) (signal.Candidate, error) {
	db, err := s.getDB()
	if err != nil {
		return signal.Candidate{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+sqliteCandidateColumns+` FROM signal_candidates WHERE id = ?;`, id)
	c, err := scanSQLiteCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Candidate{}, ErrNotFound
	}
	if err != nil {
		return signal.Candidate{}, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// ListByState lists candidates in any of the given states, oldest first.
func (s *SQLite) ListByState(ctx context.Context, states ...signal.State) ([]signal.Candidate, error) {
	if len(states) == 0 {
		return []signal.Candidate{}, nil
	}
	in, args := sqliteIn(states)
	query := `SELECT ` + sqliteCandidateColumns + ` FROM signal_candidates WHERE state IN ` + in + ` ORDER BY created_at, id;`
	return s.queryCandidates(ctx, "list by state", query, args...)
}

// ListRecent lists the most recent candidates, optionally filtered by state.
func (s *SQLite) ListRecent(ctx context.Context, limit int, states ...signal.State) ([]signal.Candidate, error) {
	if len(states) == 0 {
		states = allStates
	}
	in, args := sqliteIn(states)
	query := `SELECT ` + sqliteCandidateColumns + ` FROM signal_candidates WHERE state IN ` + in + ` ORDER BY created_at DESC, id DESC LIMIT ?;`
	return s.queryCandidates(ctx, "list recent", query, append(args, limit)...)
}

// ListCreatedBetween lists candidates created in [from, to).
func (s *SQLite) ListCreatedBetween(ctx context.Context, from, to time.Time, states ...signal.State) ([]signal.Candidate, error) {
	if len(states) == 0 {
		states = allStates
	}
	in, stateArgs := sqliteIn(states)
	query := `SELECT ` + sqliteCandidateColumns + ` FROM signal_candidates
		WHERE created_at >= ? AND created_at < ? AND state IN ` + in + ` ORDER BY created_at, id;`
	args := append([]any{from.UnixMilli(), to.UnixMilli()}, stateArgs...)
	return s.queryCandidates(ctx, "list created between", query, args...)
}

func (s *SQLite) queryCandidates(ctx context.Context, op, query string, args ...any) ([]signal.Candidate, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]signal.Candidate, 0)
	for rows.Next() {
		c, err := scanSQLiteCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListEvents returns the lifecycle log of a candidate in insertion order.
func (s *SQLite) ListEvents(ctx context.Context, candidateID string) ([]signal.Event, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteListEventsSQL, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]signal.Event, 0)
	for rows.Next() {
		var (
			ev       signal.Event
			from, to string
			price    sql.NullString
			at       int64
		)
		if err := rows.Scan(&ev.ID, &ev.CandidateID, &from, &to, &ev.Reason, &price, &at); err != nil {
			return nil, err
		}
		ev.From, ev.To = signal.State(from), signal.State(to)
		ev.OccurredAt = time.UnixMilli(at).UTC()
		if price.Valid {
			if ev.Price, err = parseNullDecimal(&price.String); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountLive counts candidates holding the admission lock.
func (s *SQLite) CountLive(ctx context.Context) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signal_candidates WHERE state IN `+liveStatesSQL+`;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count live: %w", err)
	}
	return n, nil
}

func scanSQLiteCandidate(row rowScanner) (signal.Candidate, error) {
	var (
		r                         candidateRecord
		evidence                  string
		exit                      sql.NullString
		created, entryDL, tradeDL int64
		updated                   int64
		entryHit, closed          sql.NullInt64
	)
	if err := row.Scan(
		&r.c.ID,
		&r.c.Instrument,
		&r.timeframe,
		&r.direction,
		&r.entry,
		&r.takeProfit,
		&r.stopLoss,
		&r.c.RawConfidence,
		&r.c.ReleaseScore,
		&r.c.Dominance,
		&evidence,
		&r.state,
		&r.result,
		&created,
		&entryDL,
		&tradeDL,
		&entryHit,
		&closed,
		&exit,
		&r.c.AnnouncementRef,
		&updated,
	); err != nil {
		return signal.Candidate{}, err
	}

	r.evidence = []byte(evidence)
	if exit.Valid {
		r.exit = &exit.String
	}
	r.c.CreatedAt = time.UnixMilli(created)
	r.c.EntryDeadline = time.UnixMilli(entryDL)
	r.c.TradeDeadline = time.UnixMilli(tradeDL)
	r.c.UpdatedAt = time.UnixMilli(updated)
	if entryHit.Valid {
		t := time.UnixMilli(entryHit.Int64)
		r.c.EntryHitAt = &t
	}
	if closed.Valid {
		t := time.UnixMilli(closed.Int64)
		r.c.ClosedAt = &t
	}
	return r.finish()
}

func sqliteIn(states []signal.State) (string, []any) {
	marks := make([]string, len(states))
	args := make([]any, len(states))
	for i, s := range states {
		marks[i] = "?"
		args[i] = string(s)
	}
	return "(" + strings.Join(marks, ",") + ")", args
}

func isSQLiteUnique(err error) bool {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ CandidateStore = (*SQLite)(nil)
