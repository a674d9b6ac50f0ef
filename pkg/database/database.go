// Package database opens the transactional store backing the pipeline.
// Two drivers are supported: the embedded SQLite build for local and
// single-node deployments, and Postgres for shared ones. All stores use
// $1-style placeholders, which both drivers accept.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"       // Postgres driver
	_ "modernc.org/sqlite"      // SQLite driver (CGo-free)
)

// Options control the connection pool.
type Options struct {
	Driver          string // "sqlite" or "postgres"
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns pool settings adequate for batch workloads.
func DefaultOptions(driver, url string) Options {
	opts := Options{
		Driver:          driver,
		URL:             url,
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
	if driver == "sqlite" {
		// SQLite serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent batch loads.
		opts.MaxOpenConns = 1
		opts.MaxIdleConns = 1
	}
	return opts
}

// Open connects to the store and verifies the connection.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	db, err := sql.Open(opts.Driver, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", opts.Driver, err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return db, nil
}
