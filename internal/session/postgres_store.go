package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionState = `
CREATE TABLE IF NOT EXISTS session_ids (
    key        TEXT PRIMARY KEY,
    session_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS player_snapshots (
    guild_id   TEXT        PRIMARY KEY,
    data       JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore is a [Backend] implementation backed by PostgreSQL, for
// deployments that run the manager across multiple processes sharing one
// persistence layer rather than a per-process file tree.
//
// All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Backend = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool to the PostgreSQL database at
// dsn and executes the schema DDL to ensure the session_ids and
// player_snapshots tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("session: postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlSessionState); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: postgres: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// LoadSessionID implements [Backend].
func (s *PostgresStore) LoadSessionID(key string) (string, bool, error) {
	ctx := context.Background()
	var id string
	err := s.pool.QueryRow(ctx, `SELECT session_id FROM session_ids WHERE key = $1`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("session: postgres: load session id: %w", err)
	}
	return id, true, nil
}

// SaveSessionID implements [Backend].
func (s *PostgresStore) SaveSessionID(key, id string) error {
	ctx := context.Background()
	const q = `
		INSERT INTO session_ids (key, session_id) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET session_id = EXCLUDED.session_id`
	if _, err := s.pool.Exec(ctx, q, key, id); err != nil {
		return fmt.Errorf("session: postgres: save session id: %w", err)
	}
	return nil
}

// SavePlayerSnapshot implements [Backend].
func (s *PostgresStore) SavePlayerSnapshot(snap PlayerSnapshot) error {
	if snap.GuildID == "" {
		return fmt.Errorf("session: postgres: snapshot missing guildId")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: postgres: marshal snapshot: %w", err)
	}

	ctx := context.Background()
	const q = `
		INSERT INTO player_snapshots (guild_id, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (guild_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, snap.GuildID, data); err != nil {
		return fmt.Errorf("session: postgres: save snapshot for %q: %w", snap.GuildID, err)
	}
	return nil
}

// LoadPlayerSnapshot implements [Backend].
func (s *PostgresStore) LoadPlayerSnapshot(guildID string) (PlayerSnapshot, error) {
	var (
		snap PlayerSnapshot
		data []byte
	)
	ctx := context.Background()
	err := s.pool.QueryRow(ctx, `SELECT data FROM player_snapshots WHERE guild_id = $1`, guildID).Scan(&data)
	if err != nil {
		return snap, fmt.Errorf("session: postgres: load snapshot for %q: %w", guildID, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("session: postgres: decode snapshot for %q: %w", guildID, err)
	}
	return snap, nil
}

// ListPlayerSnapshots implements [Backend].
func (s *PostgresStore) ListPlayerSnapshots() ([]string, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `SELECT guild_id FROM player_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("session: postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	guildIDs := make([]string, 0)
	for rows.Next() {
		var guildID string
		if err := rows.Scan(&guildID); err != nil {
			return nil, fmt.Errorf("session: postgres: scan guild id: %w", err)
		}
		guildIDs = append(guildIDs, guildID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: postgres: list snapshots: %w", err)
	}
	return guildIDs, nil
}

// DeletePlayerSnapshot implements [Backend].
func (s *PostgresStore) DeletePlayerSnapshot(guildID string) error {
	ctx := context.Background()
	if _, err := s.pool.Exec(ctx, `DELETE FROM player_snapshots WHERE guild_id = $1`, guildID); err != nil {
		return fmt.Errorf("session: postgres: delete snapshot for %q: %w", guildID, err)
	}
	return nil
}
