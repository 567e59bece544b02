// Package postgres implements the claim event, submission and sync progress
// stores on PostgreSQL. The schema lives in storage/migrations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dtp-claims/internal/observability"
	"dtp-claims/internal/storage"
)

const (
	applicationName = "dtp"

	// SQLSTATE unique_violation
	uniqueViolation = "23505"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server. Connections are tagged with
// application_name "dtp" unless the DSN sets one. Pool sizing follows the
// pool_max_conns / pool_min_conns DSN parameters.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if cfg.MaxConnIdleTime == 0 || cfg.MaxConnIdleTime > 5*time.Minute {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}
	return &Pool{Pool: pool}, nil
}

// Close closes every connection in the pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// translate maps driver errors onto the storage sentinels and wraps
// anything else with op.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrDuplicateKey
	}
	return fmt.Errorf("%s: %w", op, err)
}

func observe(operation string, start time.Time, err error) {
	observability.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), err)
}
