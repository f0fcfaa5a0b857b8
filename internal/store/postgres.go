package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/duelfield/duel-server-go/internal/game"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const matchesSchema = `
CREATE TABLE IF NOT EXISTS matches (
    match_id   TEXT PRIMARY KEY,
    version    BIGINT NOT NULL,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists match records in a single versioned row per
// match. CompareAndSwap relies on a conditional UPDATE, so concurrent
// writers serialize without any advisory locking.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ game.MatchStore = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, matchesSchema); err != nil {
		return fmt.Errorf("ensure matches schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Create(ctx context.Context, state *game.MatchState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", state.MatchID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO matches (match_id, version, state) VALUES ($1, 1, $2)`,
		state.MatchID, payload,
	)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", state.MatchID, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, matchID string) (*game.MatchState, int64, error) {
	var (
		payload []byte
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT state, version FROM matches WHERE match_id = $1`,
		matchID,
	).Scan(&payload, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, game.ErrMatchNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load match %s: %w", matchID, err)
	}

	var state game.MatchState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, 0, fmt.Errorf("decode match %s: %w", matchID, err)
	}
	return &state, version, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, matchID string, version int64, state *game.MatchState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", matchID, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET state = $3, version = version + 1, updated_at = now()
		 WHERE match_id = $1 AND version = $2`,
		matchID, version, payload,
	)
	if err != nil {
		return fmt.Errorf("update match %s: %w", matchID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: either the match is gone or another writer bumped the
	// version first.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM matches WHERE match_id = $1)`, matchID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check match %s: %w", matchID, err)
	}
	if !exists {
		return game.ErrMatchNotFound
	}
	s.logger.Debug("version conflict", zap.String("match_id", matchID), zap.Int64("expected_version", version))
	return game.ErrVersionConflict
}

// Delete removes a match row, for match teardown.
func (s *PostgresStore) Delete(ctx context.Context, matchID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM matches WHERE match_id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("delete match %s: %w", matchID, err)
	}
	return nil
}
