// Package store persists registration state between the two legs of the
// enrolment flow in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/pyconau/precord/internal/config"
	"github.com/pyconau/precord/internal/health"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// db abstracts the pgxpool.Pool methods the store uses so tests can inject a
// fake without standing up a real database.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// pgconnCommandTag is the subset of pgconn.CommandTag the store inspects.
type pgconnCommandTag interface {
	RowsAffected() int64
}

// poolAdapter adapts *pgxpool.Pool to the db interface (Exec's concrete
// return type differs).
type poolAdapter struct {
	pool *pgxpool.Pool
}

func (a *poolAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	return a.pool.Exec(ctx, sql, args...)
}

func (a *poolAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.pool.QueryRow(ctx, sql, args...)
}

func (a *poolAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.pool.Query(ctx, sql, args...)
}

func (a *poolAdapter) Ping(ctx context.Context) error { return a.pool.Ping(ctx) }
func (a *poolAdapter) Close()                         { a.pool.Close() }

// Store wraps a pgx connection pool with the queries the enrolment flow needs.
type Store struct {
	db db
	cb *gobreaker.CircuitBreaker
}

// Connect opens a pgx pool against cfg and returns a Store. The pool is
// verified with a ping so a wrong DSN fails at startup, not mid-flow.
func Connect(ctx context.Context, cfg config.DatabaseConfig, cb *gobreaker.CircuitBreaker) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &Store{db: &poolAdapter{pool: pool}, cb: cb}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() { s.db.Close() }

const insertPendingSQL = `
INSERT INTO pending (order_code, position, state_token, created, nickname, roles)
VALUES ($1, $2, $3, $4, $5, $6::bigint[])
ON CONFLICT (order_code, position) DO UPDATE SET
    state_token = $3,
    created     = $4,
    nickname    = $5,
    roles       = $6::bigint[]`

// InsertPending records a pending registration, replacing any earlier attempt
// for the same ticket so a restarted flow invalidates the previous state token.
func (s *Store) InsertPending(ctx context.Context, p Pending) error {
	_, err := s.db.Exec(ctx, insertPendingSQL,
		p.OrderCode, p.Position, p.StateToken, p.Created, p.Nickname, p.Roles)
	if err != nil {
		return fmt.Errorf("inserting pending: %w", err)
	}
	return nil
}

const selectPendingSQL = `
SELECT order_code, position, created, nickname, roles
FROM pending WHERE state_token = $1`

// SelectPendingByState fetches the pending registration for a state token.
// Returns ErrNotFound when the token is unknown.
func (s *Store) SelectPendingByState(ctx context.Context, stateToken string) (*Pending, error) {
	p := Pending{StateToken: stateToken}
	row := s.db.QueryRow(ctx, selectPendingSQL, stateToken)
	if err := row.Scan(&p.OrderCode, &p.Position, &p.Created, &p.Nickname, &p.Roles); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting pending: %w", err)
	}
	return &p, nil
}

const deletePendingSQL = `DELETE FROM pending WHERE order_code = $1 AND position = $2`

// DeletePending removes a pending registration so its state token is single use.
func (s *Store) DeletePending(ctx context.Context, orderCode string, position int) error {
	if _, err := s.db.Exec(ctx, deletePendingSQL, orderCode, position); err != nil {
		return fmt.Errorf("deleting pending: %w", err)
	}
	return nil
}

const insertActiveSQL = `
INSERT INTO active (order_code, position, user_id, created, nickname, roles)
VALUES ($1, $2, $3, $4, $5, $6::bigint[])`

// InsertActive records a completed registration.
func (s *Store) InsertActive(ctx context.Context, a Active) error {
	_, err := s.db.Exec(ctx, insertActiveSQL,
		a.OrderCode, a.Position, a.UserID, a.Created, a.Nickname, a.Roles)
	if err != nil {
		return fmt.Errorf("inserting active: %w", err)
	}
	return nil
}

const selectActiveSQL = `
SELECT order_code, position, user_id, created, nickname, roles
FROM active WHERE order_code = $1 AND position = $2`

// SelectActive fetches the completed registration for a ticket, if any.
// Returns ErrNotFound when the ticket has not completed the flow.
func (s *Store) SelectActive(ctx context.Context, orderCode string, position int) (*Active, error) {
	var a Active
	row := s.db.QueryRow(ctx, selectActiveSQL, orderCode, position)
	if err := row.Scan(&a.OrderCode, &a.Position, &a.UserID, &a.Created, &a.Nickname, &a.Roles); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting active: %w", err)
	}
	return &a, nil
}

const listPendingSQL = `
SELECT order_code, position, state_token, created, nickname, roles
FROM pending ORDER BY created DESC LIMIT $1`

// ListRecentPending returns the most recently created pending registrations.
func (s *Store) ListRecentPending(ctx context.Context, limit int) ([]Pending, error) {
	rows, err := s.db.Query(ctx, listPendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending: %w", err)
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		var p Pending
		if err := rows.Scan(&p.OrderCode, &p.Position, &p.StateToken, &p.Created, &p.Nickname, &p.Roles); err != nil {
			return nil, fmt.Errorf("scanning pending: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const listActiveSQL = `
SELECT order_code, position, user_id, created, nickname, roles
FROM active ORDER BY created DESC LIMIT $1`

// ListRecentActive returns the most recently completed registrations.
func (s *Store) ListRecentActive(ctx context.Context, limit int) ([]Active, error) {
	rows, err := s.db.Query(ctx, listActiveSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing active: %w", err)
	}
	defer rows.Close()

	var out []Active
	for rows.Next() {
		var a Active
		if err := rows.Scan(&a.OrderCode, &a.Position, &a.UserID, &a.Created, &a.Nickname, &a.Roles); err != nil {
			return nil, fmt.Errorf("scanning active: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Probe pings the database inside the circuit breaker. After three
// consecutive failures the breaker opens and probes return immediately.
func (s *Store) Probe(ctx context.Context) health.ProbeResult {
	start := time.Now()

	_, err := s.cb.Execute(func() (any, error) {
		if err := s.db.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return nil, nil
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return health.ProbeResult{Name: "postgres", OK: false, LatencyMs: latency, Error: errMsg}
	}

	return health.ProbeResult{Name: "postgres", OK: true, LatencyMs: latency}
}
