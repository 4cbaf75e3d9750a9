// Package database connects to the Postgres event archive.
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB represents the database connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	// The archive only sees one insert per ledger event.
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Msg("Database connection established")

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
	log.Info().Msg("Database connection closed")
}

// Health checks if the database is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// ArchivedEvent is one row of ledger_events
type ArchivedEvent struct {
	Seq        int64             `json:"seq"`
	Source     string            `json:"source"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attrs      map[string]string `json:"attrs"`
}

// RecentEvents returns the newest archived events, newest first
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]ArchivedEvent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT seq, source, type, occurred_at, attrs
		FROM ledger_events
		ORDER BY occurred_at DESC, seq DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedEvent
	for rows.Next() {
		var ev ArchivedEvent
		if err := rows.Scan(&ev.Seq, &ev.Source, &ev.Type, &ev.OccurredAt, &ev.Attrs); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
