package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	eventsKey          = "booking_pal:events"
	connectionStateKey = "booking_pal:connection_state"
)

type RedisStateStore struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (r *RedisStateStore) SaveEvents(ctx context.Context, set models.CachedEventSet) error {
	return r.setJSON(ctx, eventsKey, set)
}

func (r *RedisStateStore) LoadEvents(ctx context.Context) (models.CachedEventSet, error) {
	var set models.CachedEventSet
	if _, err := r.getJSON(ctx, eventsKey, &set); err != nil {
		return models.CachedEventSet{}, err
	}
	return set, nil
}

func (r *RedisStateStore) SaveConnectionState(ctx context.Context, state models.ConnectionState) error {
	return r.setJSON(ctx, connectionStateKey, state)
}

func (r *RedisStateStore) LoadConnectionState(ctx context.Context) (models.ConnectionState, bool, error) {
	var state models.ConnectionState
	found, err := r.getJSON(ctx, connectionStateKey, &state)
	if err != nil {
		return models.ConnectionState{}, false, err
	}
	return state, found, nil
}

func (r *RedisStateStore) setJSON(ctx context.Context, key string, v interface{}) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisStateStore) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
