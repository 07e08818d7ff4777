package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig sizes the connection pool. Zero fields take defaults.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxOpen <= 0 {
		c.MaxOpen = 20
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 10
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = 5 * time.Minute
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 30 * time.Minute
	}
	return c
}

// Open connects to Postgres through the pgx driver and checks the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return OpenWithPool(ctx, databaseURL, PoolConfig{})
}

func OpenWithPool(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pool = pool.withDefaults()
	db.SetConnMaxIdleTime(pool.MaxIdleTime)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetMaxOpenConns(pool.MaxOpen)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
