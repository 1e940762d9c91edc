// Package database wraps a pgx connection pool with the transaction
// helpers the rest of the control plane builds on, including the
// tenant-scoped variant that sets a connection-local attribute before
// running the caller's function.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kandev/dispatchd/internal/common/config"
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB parses cfg into a pool configuration, connects, and pings.
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (d *DB) Pool() *pgxpool.Pool { return d.pool }
func (d *DB) Close()              { d.pool.Close() }
func (d *DB) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

// TxFunc is a unit of work run inside a transaction.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// WithTx begins a transaction, recovers and rolls back on panic, rolls
// back on error, and commits on success.
func (d *DB) WithTx(ctx context.Context, fn TxFunc) (err error) {
	return d.WithTxOptions(ctx, pgx.TxOptions{}, fn)
}

func (d *DB) WithTxOptions(ctx context.Context, opts pgx.TxOptions, fn TxFunc) (err error) {
	tx, err := d.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(ctx, tx)
	return err
}

// WithTenantTx runs fn inside a transaction scoped to tenantID: the first
// statement sets the connection-local attribute the schema's row-level
// visibility predicates read. An empty tenantID runs unscoped
// (administrative access) and must only be used by reconciliation and
// cron paths.
func (d *DB) WithTenantTx(ctx context.Context, tenantID string, fn TxFunc) error {
	return d.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if tenantID != "" {
			// set_config with is_local=true scopes the attribute to this
			// transaction, the SET LOCAL equivalent that accepts a bind
			// parameter.
			if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant_id', $1, true)", tenantID); err != nil {
				return fmt.Errorf("database: set tenant scope: %w", err)
			}
		}
		return fn(ctx, tx)
	})
}
