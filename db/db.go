// Package db implements the PostgreSQL mail index collaborator: message
// enumeration by tag, tag persistence and thread tag lookups.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mailkite/filtra/config"
	"github.com/mailkite/filtra/logger"
)

// Database wraps the pgx connection pool.
type Database struct {
	Pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// New initializes a database connection pool from configuration.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Database, error) {
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	sslMode := "disable"
	if cfg.TLSMode {
		sslMode = "require"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Name, sslMode)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if cfg.LogQueries {
		poolConfig.ConnConfig.Tracer = &queryTracer{}
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if lifetime, err := cfg.GetMaxConnLifetime(); err == nil {
		poolConfig.MaxConnLifetime = lifetime
	}
	if idle, err := cfg.GetMaxConnIdleTime(); err == nil {
		poolConfig.MaxConnIdleTime = idle
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	timeout, err := cfg.GetQueryTimeout()
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger.Info("Connected to mail index",
		"host", cfg.Host, "port", port, "name", cfg.Name, "tls", cfg.TLSMode)
	return &Database{Pool: pool, queryTimeout: timeout}, nil
}

// Close releases the connection pool.
func (d *Database) Close() {
	d.Pool.Close()
}

// opContext bounds one index operation with the configured query timeout.
func (d *Database) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.queryTimeout)
}

// queryTracer logs SQL statements when log_queries is enabled.
type queryTracer struct{}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	logger.Debug("Index query", "sql", data.SQL, "args", data.Args)
	return ctx
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		logger.Debug("Index query failed", "error", data.Err)
	}
}
