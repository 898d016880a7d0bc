// Package store persists room snapshots in Redis. Snapshots are the only
// durable room state; rooms rehydrate from here after a restart.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kazerdira/nighthost/internal/config"
)

const (
	snapshotKeyPrefix = "nighthost:snapshot:"
	liveRoomsKey      = "nighthost:rooms"

	// Snapshots expire on their own so a room the janitor never reaped does
	// not live in Redis forever.
	snapshotTTL = 24 * time.Hour
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func snapshotKey(roomCode string) string {
	return snapshotKeyPrefix + roomCode
}

// Save writes a snapshot and adds the room to the live set.
func (s *RedisStore) Save(ctx context.Context, roomCode string, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, snapshotKey(roomCode), data, snapshotTTL)
	pipe.SAdd(ctx, liveRoomsKey, roomCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot for room %s: %w", roomCode, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, roomCode string) ([]byte, error) {
	data, err := s.client.Get(ctx, snapshotKey(roomCode)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no snapshot for room %s", roomCode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for room %s: %w", roomCode, err)
	}
	return data, nil
}

// Delete removes the snapshot and the room's live-set membership.
func (s *RedisStore) Delete(ctx context.Context, roomCode string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, snapshotKey(roomCode))
	pipe.SRem(ctx, liveRoomsKey, roomCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot for room %s: %w", roomCode, err)
	}
	return nil
}

// ListLive returns every room code with a saved snapshot.
func (s *RedisStore) ListLive(ctx context.Context) ([]string, error) {
	codes, err := s.client.SMembers(ctx, liveRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list live rooms: %w", err)
	}
	return codes, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
