// Package journal is the optional Postgres event log. Every room transition
// that matters for audit lands here as one append-only row. Writes are best
// effort: a journal failure never affects the game.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_events (
    id          BIGSERIAL PRIMARY KEY,
    room_code   VARCHAR(4) NOT NULL,
    event_type  VARCHAR(64) NOT NULL,
    payload     JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_room_events_room_code ON room_events(room_code);
CREATE INDEX IF NOT EXISTS idx_room_events_created_at ON room_events(created_at);
`

type Journal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects to Postgres and ensures the events table exists.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}
	return &Journal{pool: pool, logger: logger}, nil
}

// Record appends one event row. The insert runs off the caller's goroutine
// so a slow database never stalls a room loop; failures are logged and
// swallowed.
func (j *Journal) Record(_ context.Context, roomCode, eventType string, payload any) {
	var data []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			j.logger.Warn("failed to encode journal payload",
				zap.String("event_type", eventType), zap.Error(err))
		} else {
			data = encoded
		}
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := j.pool.Exec(writeCtx,
			`INSERT INTO room_events (room_code, event_type, payload) VALUES ($1, $2, $3)`,
			roomCode, eventType, data)
		if err != nil {
			j.logger.Warn("failed to record journal event",
				zap.String("room_code", roomCode),
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}()
}

func (j *Journal) Close() {
	j.pool.Close()
}
