package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbarnett/parley/internal/config"
)

// Pools holds the database connections for a server instance.
type Pools struct {
	// Write is capped at one connection. Only the writer actor touches it.
	Write *pgxpool.Pool

	// Read is the bounded pool for concurrent read queries.
	Read *pgxpool.Pool

	acquireTimeout time.Duration
}

// NewPools creates the write and read pools over the same database.
func NewPools(ctx context.Context, cfg config.DBConfig) (*Pools, error) {
	write, err := connect(ctx, cfg, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("connect write pool: %w", err)
	}

	read, err := connect(ctx, cfg, 1, cfg.ReadConns)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("connect read pool: %w", err)
	}

	return &Pools{
		Write:          write,
		Read:           read,
		acquireTimeout: cfg.AcquireTimeout,
	}, nil
}

// connect creates a single connection pool.
func connect(ctx context.Context, cfg config.DBConfig, minConns, maxConns int) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(minConns)
	poolCfg.MaxConns = int32(maxConns)

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

// ReadContext derives a context bounded by the configured acquire timeout.
// Readers that cannot obtain a pooled connection inside the window fail
// instead of queueing indefinitely.
func (p *Pools) ReadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.acquireTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.acquireTimeout)
}

// Close closes both connection pools.
func (p *Pools) Close() {
	if p.Write != nil {
		p.Write.Close()
	}
	if p.Read != nil {
		p.Read.Close()
	}
}

// Ping verifies both pools are healthy.
func (p *Pools) Ping(ctx context.Context) error {
	if err := p.Write.Ping(ctx); err != nil {
		return fmt.Errorf("ping write pool: %w", err)
	}
	if err := p.Read.Ping(ctx); err != nil {
		return fmt.Errorf("ping read pool: %w", err)
	}
	return nil
}
