package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed StatsStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool to the given DSN. The schema must already
// be migrated (see Migrate).
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("game: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("game: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) Load(ctx context.Context, playerID string) (*PlayerStats, error) {
	const q = `
		SELECT player_id, cases_solved, accusations, confessions, credits, suspicion, updated_at
		FROM player_stats
		WHERE player_id = $1`

	var s PlayerStats
	err := p.pool.QueryRow(ctx, q, playerID).Scan(
		&s.PlayerID, &s.CasesSolved, &s.Accusations, &s.Confessions,
		&s.Credits, &s.Suspicion, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("game: load stats: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) Save(ctx context.Context, stats *PlayerStats) error {
	const q = `
		INSERT INTO player_stats (player_id, cases_solved, accusations, confessions, credits, suspicion, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (player_id) DO UPDATE SET
			cases_solved = EXCLUDED.cases_solved,
			accusations  = EXCLUDED.accusations,
			confessions  = EXCLUDED.confessions,
			credits      = EXCLUDED.credits,
			suspicion    = EXCLUDED.suspicion,
			updated_at   = EXCLUDED.updated_at`

	_, err := p.pool.Exec(ctx, q,
		stats.PlayerID, stats.CasesSolved, stats.Accusations, stats.Confessions,
		stats.Credits, stats.Suspicion, stats.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("game: save stats: %w", err)
	}
	return nil
}

func (p *PostgresStore) TopPlayers(ctx context.Context, limit int) ([]PlayerStats, error) {
	const q = `
		SELECT player_id, cases_solved, accusations, confessions, credits, suspicion, updated_at
		FROM player_stats
		ORDER BY credits DESC, player_id ASC
		LIMIT $1`

	rows, err := p.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("game: top players: %w", err)
	}
	defer rows.Close()

	var out []PlayerStats
	for rows.Next() {
		var s PlayerStats
		if err := rows.Scan(
			&s.PlayerID, &s.CasesSolved, &s.Accusations, &s.Confessions,
			&s.Credits, &s.Suspicion, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("game: scan stats: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("game: top players: %w", err)
	}
	return out, nil
}
