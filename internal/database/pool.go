package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/ctpbridge/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Execer is the subset of pgxpool.Pool used for schema setup.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema creates the tick archive table. It becomes a hypertable when the
// timescaledb extension is installed.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ticks (
		received_at   TIMESTAMPTZ NOT NULL,
		exchange_ts   BIGINT      NOT NULL DEFAULT 0,
		instrument    TEXT        NOT NULL,
		exchange      TEXT        NOT NULL DEFAULT '',
		trading_day   TEXT        NOT NULL DEFAULT '',
		source        TEXT        NOT NULL,
		last_price    NUMERIC,
		bid_price     NUMERIC,
		ask_price     NUMERIC,
		bid_volume    BIGINT,
		ask_volume    BIGINT,
		volume        BIGINT,
		open_interest BIGINT,
		turnover      NUMERIC,
		PRIMARY KEY (instrument, source, received_at)
	)`,
	`DO $$
	BEGIN
		IF EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb') THEN
			PERFORM create_hypertable('ticks', 'received_at', if_not_exists => TRUE);
		END IF;
	END $$`,
}

// EnsureSchema creates the archive tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
