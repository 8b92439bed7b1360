package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	// SnapshotKey holds the latest serialized snapshot for restart recovery
	// and multi-instance reads
	SnapshotKey = "ranking:snapshot"

	// VersionKey tracks the global snapshot version for cheap change detection
	VersionKey = "ranking:version"

	// VisitsKey counts page visits to the ranking endpoints
	VisitsKey = "ranking:visits"
)

// RedisRepository handles all Redis operations
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// SaveSnapshot stores the serialized snapshot and bumps the version counter
// in a single pipeline.
func (r *RedisRepository) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, SnapshotKey, data, 0)
	pipe.Incr(ctx, VersionKey)
	_, err = pipe.Exec(ctx)
	return err
}

// LoadSnapshot retrieves the cached snapshot, (nil, nil) when none is stored
func (r *RedisRepository) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	data, err := r.client.Get(ctx, SnapshotKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal cached snapshot: %w", err)
	}
	return &snap, nil
}

// GetVersion returns the current snapshot version, zero when unset
func (r *RedisRepository) GetVersion(ctx context.Context) (int64, error) {
	version, err := r.client.Get(ctx, VersionKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// IncrVisits increments and returns the visit counter
func (r *RedisRepository) IncrVisits(ctx context.Context) (int64, error) {
	return r.client.Incr(ctx, VisitsKey).Result()
}

// GetVisits returns the visit counter, zero when unset
func (r *RedisRepository) GetVisits(ctx context.Context) (int64, error) {
	visits, err := r.client.Get(ctx, VisitsKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return visits, nil
}

// Ping checks Redis connectivity
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
