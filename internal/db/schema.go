package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE SCHEMA IF NOT EXISTS game`,
	`CREATE TABLE IF NOT EXISTS game.players (
		id TEXT PRIMARY KEY,
		seq BIGINT GENERATED ALWAYS AS IDENTITY,
		user_id TEXT NOT NULL UNIQUE,
		coins BIGINT NOT NULL DEFAULT 0 CHECK (coins >= 0),
		tap_power BIGINT NOT NULL DEFAULT 1 CHECK (tap_power >= 1),
		total_taps BIGINT NOT NULL DEFAULT 0 CHECK (total_taps >= 0),
		upgrades TEXT[] NOT NULL DEFAULT '{}',
		last_daily_reward TEXT,
		squad_id TEXT,
		last_login TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS players_coins_idx ON game.players (coins DESC, seq)`,
	`CREATE INDEX IF NOT EXISTS players_taps_idx ON game.players (total_taps DESC, seq)`,
	`CREATE INDEX IF NOT EXISTS players_squad_idx ON game.players (squad_id) WHERE squad_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS game.squads (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		leader_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS game.squad_members (
		squad_id TEXT NOT NULL REFERENCES game.squads(id) ON DELETE CASCADE,
		player_id TEXT NOT NULL,
		join_seq BIGINT GENERATED ALWAYS AS IDENTITY,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (squad_id, player_id)
	)`,
	`CREATE INDEX IF NOT EXISTS squad_members_joined_idx ON game.squad_members (joined_at)`,
}

// Migrate creates the game schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
