package auth

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xtxerr/salesdb/config"
	"github.com/xtxerr/salesdb/internal/errors"
)

// RedisDirectory keeps users in a single Redis hash so several salesdb
// processes can share one user base. Registration uses HSETNX, which makes
// a username write-once across all of them.
type RedisDirectory struct {
	client *redis.Client
	key    string
	hasher Hasher
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Cost     int
}

// NewRedisDirectory connects to Redis and verifies the connection.
func NewRedisDirectory(ctx context.Context, cfg RedisConfig) (*RedisDirectory, error) {
	if cfg.Key == "" {
		cfg.Key = config.DefaultRedisKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &RedisDirectory{
		client: client,
		key:    cfg.Key,
		hasher: Hasher{Cost: cfg.Cost},
	}, nil
}

// Register implements Directory.
func (d *RedisDirectory) Register(ctx context.Context, user, pass string) error {
	if err := validateCredentials(user, pass); err != nil {
		return err
	}

	hash, err := d.hasher.Hash(pass)
	if err != nil {
		return err
	}

	created, err := d.client.HSetNX(ctx, d.key, user, hash).Result()
	if err != nil {
		return fmt.Errorf("redis hsetnx: %w", err)
	}
	if !created {
		return errors.ErrUserExists
	}
	return nil
}

// Authenticate implements Directory.
func (d *RedisDirectory) Authenticate(ctx context.Context, user, pass string) error {
	hash, err := d.client.HGet(ctx, d.key, user).Bytes()
	if errors.Is(err, redis.Nil) {
		return d.hasher.RejectUnknown(pass)
	}
	if err != nil {
		return fmt.Errorf("redis hget: %w", err)
	}
	return d.hasher.Verify(hash, pass)
}

// Close releases the Redis connection pool.
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}
