package cursor

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/telegram-queue-bridge/common/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore keeps one row per cursor name in bridge_cursors.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore migrates the schema and opens a small pool. connString
// must be a postgres:// URL.
func NewPostgresStore(ctx context.Context, connString, name string) (*PostgresStore, error) {
	if _, err := database.Migrate(ctx, migrations, "migrations", connString); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 2
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, name: name}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (uint64, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var next int64
	err := s.pool.QueryRow(ctx,
		`SELECT next_offset FROM bridge_cursors WHERE name = $1`,
		s.name,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	return uint64(next), nil
}

func (s *PostgresStore) Save(ctx context.Context, next uint64) error {
	if next > math.MaxInt64 {
		return fmt.Errorf("cursor %d exceeds bigint range", next)
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_cursors (name, next_offset, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET next_offset = GREATEST(bridge_cursors.next_offset, EXCLUDED.next_offset),
		    updated_at = now()
	`, s.name, int64(next))
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
