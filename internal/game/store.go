package game

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SnapshotStore mirrors session snapshots outside the process so state can
// still be read after the in-memory session is gone.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RedisSnapshotStore keeps the latest snapshot of each session in Redis.
type RedisSnapshotStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisSnapshotStore creates a store whose keys expire after ttl.
func NewRedisSnapshotStore(redis *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisSnapshotStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisSnapshotStore{
		redis:  redis,
		ttl:    ttl,
		logger: logger,
	}
}

func snapshotKey(id uuid.UUID) string {
	return fmt.Sprintf("session:snapshot:%s", id.String())
}

// Save writes snap unless an equal or newer version is already stored.
func (s *RedisSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// Versions are compared server-side so out-of-order writes from
	// concurrent publishers never regress the mirror.
	script := `
		local cur = redis.call("hget", KEYS[1], "version")
		if cur and tonumber(cur) >= tonumber(ARGV[1]) then
			return 0
		end
		redis.call("hset", KEYS[1], "version", ARGV[1], "data", ARGV[2])
		redis.call("pexpire", KEYS[1], ARGV[3])
		return 1
	`
	key := snapshotKey(snap.ID)
	if err := s.redis.Eval(ctx, script, []string{key}, snap.Version, data, s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or nil when none exists.
func (s *RedisSnapshotStore) Load(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	data, err := s.redis.HGet(ctx, snapshotKey(id), "data").Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the stored snapshot.
func (s *RedisSnapshotStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.redis.Del(ctx, snapshotKey(id)).Err()
}
