// Package storage is the durable record of everything the bot does: trades,
// triggers, candidates, orders, positions, exits, watermarks, and tier state.
//
// It exposes typed repositories over Postgres via pgx. The pool reconnects
// with exponential backoff at startup, and individual queries retry transient
// connection errors a bounded number of times. Mutations that coordinate
// across callers (watermarks, first-triggers) run in transactions; mutations
// that must exclude concurrent peers use advisory locks (see locks.go).
//
// Storage exclusively owns persisted rows. In-memory caches elsewhere are
// re-hydrated from here on startup; on mismatch, storage wins.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
)

// ErrTransient wraps connection-level failures that survived the retry
// budget. Upstream components treat it as "degraded, not fatal" and keep
// their loops running.
var ErrTransient = errors.New("transient storage error")

// ErrInvalidInput marks validation failures (bad sort field, out-of-range
// value). Never retried.
var ErrInvalidInput = errors.New("invalid input")

const queryRetries = 3

// Pool wraps pgxpool with bounded retry on transient errors. All repository
// types hold a *Pool and go through Fetch / FetchOne / FetchValue / Execute.
type Pool struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens the pool, retrying with exponential backoff until the
// configured attempt budget is exhausted.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	backoff := cfg.ConnectBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 8
	}

	var db *pgxpool.Pool
	for i := 0; i < attempts; i++ {
		db, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = db.Ping(ctx); err == nil {
				break
			}
			db.Close()
		}

		logger.Warn("database connect failed, retrying",
			"attempt", i+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database after %d attempts: %w", attempts, err)
	}

	return &Pool{db: db, logger: logger.With("component", "storage")}, nil
}

// Close shuts the pool down.
func (p *Pool) Close() {
	p.db.Close()
}

// Fetch runs a multi-row query. The caller owns the returned rows.
func (p *Pool) Fetch(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, p.classify(err)
	}
	return rows, nil
}

// FetchOne runs a single-row query and scans it into dest, retrying
// transient errors. Returns pgx.ErrNoRows unchanged when no row matches.
func (p *Pool) FetchOne(ctx context.Context, dest []any, sql string, args ...any) error {
	return p.retry(ctx, func() error {
		return p.db.QueryRow(ctx, sql, args...).Scan(dest...)
	})
}

// FetchValue runs a single-value query and scans it into dest.
func (p *Pool) FetchValue(ctx context.Context, dest any, sql string, args ...any) error {
	return p.FetchOne(ctx, []any{dest}, sql, args...)
}

// Execute runs a mutation and returns the affected row count.
func (p *Pool) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	var affected int64
	err := p.retry(ctx, func() error {
		tag, err := p.db.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error or panic.
func (p *Pool) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return p.classify(err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Acquire pins a single connection. Session-level advisory locks must be
// taken and released on the same connection, so the sync service holds an
// acquired conn for the duration of a run.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, p.classify(err)
	}
	return conn, nil
}

// retry runs fn up to queryRetries times, backing off briefly between
// transient failures. Non-transient errors return immediately.
func (p *Pool) retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < queryRetries; i++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		p.logger.Warn("transient query error, retrying", "attempt", i+1, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return p.classify(err)
}

// classify wraps transient errors so upstream can errors.Is them.
func (p *Pool) classify(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// isTransient reports whether the error is a connection-level failure worth
// retrying: network errors, closed connections, and Postgres class 08
// (connection exception) errors. Query errors (syntax, constraint, no rows)
// are not transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	if pgconn.Timeout(err) {
		return true
	}
	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// validateSortField checks a caller-supplied sort column against a closed
// allow-list before it is interpolated into SQL. This is the only place a
// caller-controlled string reaches query text.
func validateSortField(field string, allowed map[string]bool) (string, error) {
	if allowed[field] {
		return field, nil
	}
	return "", fmt.Errorf("%w: sort field %q not allowed", ErrInvalidInput, field)
}
