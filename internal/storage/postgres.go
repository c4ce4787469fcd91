package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"structure-signals/internal/signal"
)

const (
	pgUniqueViolation = "23505"

	pgCandidateColumns = `id,
        instrument,
        timeframe,
        direction,
        entry_price::text,
        take_profit::text,
        stop_loss::text,
        raw_confidence,
        release_score,
        dominance,
        evidence,
        state,
        result,
        created_at,
        entry_deadline,
        trade_deadline,
        entry_hit_at,
        closed_at,
        exit_price::text,
        announcement_ref,
        updated_at`

	pgInsertCandidateSQL = `INSERT INTO signal_candidates (
        id,
        instrument,
        timeframe,
        direction,
        entry_price,
        take_profit,
        stop_loss,
        raw_confidence,
        release_score,
        dominance,
        evidence,
        state,
        result,
        created_at,
        entry_deadline,
        trade_deadline,
        announcement_ref,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$14
    );`

	pgInsertEventSQL = `INSERT INTO lifecycle_events (
        candidate_id,
        from_state,
        to_state,
        reason,
        price,
        occurred_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	pgGetCandidateSQL = `SELECT ` + pgCandidateColumns + `
    FROM signal_candidates
    WHERE id = $1;`

	pgListByStateSQL = `SELECT ` + pgCandidateColumns + `
    FROM signal_candidates
    WHERE state = ANY($1)
    ORDER BY created_at;`

	pgListRecentSQL = `SELECT ` + pgCandidateColumns + `
    FROM signal_candidates
    WHERE state = ANY($1)
    ORDER BY created_at DESC
    LIMIT $2;`

	pgListCreatedBetweenSQL = `SELECT ` + pgCandidateColumns + `
    FROM signal_candidates
    WHERE created_at >= $1
      AND created_at < $2
      AND state = ANY($3)
    ORDER BY created_at;`

	pgListEventsSQL = `SELECT
        id,
        candidate_id,
        from_state,
        to_state,
        reason,
        price::text,
        occurred_at
    FROM lifecycle_events
    WHERE candidate_id = $1
    ORDER BY id;`

	pgCountLiveSQL = `SELECT COUNT(*) FROM signal_candidates WHERE state IN ` + liveStatesSQL + `;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var allStates = []signal.State{
	signal.Prepared, signal.WaitingForEntry, signal.EntryHit, signal.TPHit, signal.SLHit,
	signal.TimeExit, signal.Cancelled, signal.Reaped, signal.ClosedManual,
}

// Postgres is the shared production store backed by a pgx pool.
type Postgres struct {
	pool    *pgxpool.Pool
	builder updateBuilder
}

// NewPostgres wires a pgx pool into a store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool: pool,
		builder: updateBuilder{
			placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
			timeValue:   func(t time.Time) any { return t },
		},
	}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// the session lock dies with the connection
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

// CreateCandidate inserts a PREPARED candidate and its creation event atomically.
func (s *Postgres) CreateCandidate(ctx context.Context, c signal.Candidate) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	evidence, err := json.Marshal(c.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create candidate: %w", err)
	}
	defer tx.Rollback(ctx)

	created := c.CreatedAt.UTC()
	if _, err := tx.Exec(ctx, pgInsertCandidateSQL,
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
		evidence,
		string(c.State),
		string(c.Result),
		created,
		c.EntryDeadline.UTC(),
		c.TradeDeadline.UTC(),
		c.AnnouncementRef,
	); err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}

	if _, err := tx.Exec(ctx, pgInsertEventSQL, c.ID, "", string(c.State), "created", nil, created); err != nil {
		return fmt.Errorf("insert creation event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create candidate: %w", err)
	}
	return nil
}

// ApplyTransition performs the conditional update and appends the event in one transaction.
func (s *Postgres) ApplyTransition(ctx context.Context, t signal.Transition) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	query, args := s.builder.transition(t)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("apply transition %s -> %s: %w", t.From, t.To, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	ev := t.Event()
	if _, err := tx.Exec(ctx, pgInsertEventSQL,
		ev.CandidateID,
		string(ev.From),
		string(ev.To),
		ev.Reason,
		nullDecimalArg(ev.Price),
		ev.OccurredAt,
	); err != nil {
		return false, fmt.Errorf("insert lifecycle event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

// GetCandidate loads one candidate by id.
func (s *Postgres) GetCandidate(ctx context.Context, id string) (signal.Candidate, error) {
	pool, err := s.getPool()
	if err != nil {
		return signal.Candidate{}, err
	}
	c, err := scanPGCandidate(pool.QueryRow(ctx, pgGetCandidateSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return signal.Candidate{}, ErrNotFound
	}
	if err != nil {
		return signal.Candidate{}, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// ListByState lists candidates in any of the given states, oldest first.
func (s *Postgres) ListByState(ctx context.Context, states ...signal.State) ([]signal.Candidate, error) {
	return s.queryCandidates(ctx, "list by state", pgListByStateSQL, stateStrings(states))
}

// ListRecent lists the most recent candidates, optionally filtered by state.
func (s *Postgres) ListRecent(ctx context.Context, limit int, states ...signal.State) ([]signal.Candidate, error) {
	if len(states) == 0 {
		states = allStates
	}
	return s.queryCandidates(ctx, "list recent", pgListRecentSQL, stateStrings(states), limit)
}

// ListCreatedBetween lists candidates created in [from, to).
func (s *Postgres) ListCreatedBetween(ctx context.Context, from, to time.Time, states ...signal.State) ([]signal.Candidate, error) {
	if len(states) == 0 {
		states = allStates
	}
	return s.queryCandidates(ctx, "list created between", pgListCreatedBetweenSQL, from.UTC(), to.UTC(), stateStrings(states))
}

func (s *Postgres) queryCandidates(ctx context.Context, op, query string, args ...any) ([]signal.Candidate, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]signal.Candidate, 0)
	for rows.Next() {
		c, err := scanPGCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListEvents returns the lifecycle log of a candidate in insertion order.
func (s *Postgres) ListEvents(ctx context.Context, candidateID string) ([]signal.Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, pgListEventsSQL, candidateID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]signal.Event, 0)
	for rows.Next() {
		var (
			ev       signal.Event
			from, to string
			price    *string
		)
		if err := rows.Scan(&ev.ID, &ev.CandidateID, &from, &to, &ev.Reason, &price, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.From, ev.To = signal.State(from), signal.State(to)
		if ev.Price, err = parseNullDecimal(price); err != nil {
			return nil, err
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// CountLive counts candidates holding the admission lock.
func (s *Postgres) CountLive(ctx context.Context) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var n int
	if err := pool.QueryRow(ctx, pgCountLiveSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count live: %w", err)
	}
	return n, nil
}

func scanPGCandidate(row rowScanner) (signal.Candidate, error) {
	var r candidateRecord
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
		&r.evidence,
		&r.state,
		&r.result,
		&r.c.CreatedAt,
		&r.c.EntryDeadline,
		&r.c.TradeDeadline,
		&r.c.EntryHitAt,
		&r.c.ClosedAt,
		&r.exit,
		&r.c.AnnouncementRef,
		&r.c.UpdatedAt,
	); err != nil {
		return signal.Candidate{}, err
	}
	return r.finish()
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

var (
	_ CandidateStore = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)
