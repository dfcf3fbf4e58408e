package results

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKey is the list results are pushed to.
const DefaultRedisKey = "mqttbench:results"

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisSink pushes each result as JSON onto a Redis list, oldest first.
type RedisSink struct {
	redisClient *redis.Client
	key         string
	logger      zerolog.Logger
}

// NewRedisSink connects to Redis and pings it before returning.
func NewRedisSink(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisSink{
		redisClient: rdb,
		key:         key,
		logger:      logger.With().Str("component", "RedisSink").Str("key", key).Logger(),
	}, nil
}

// Write appends res to the list.
func (s *RedisSink) Write(ctx context.Context, res RunResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := s.redisClient.RPush(ctx, s.key, data).Err(); err != nil {
		s.logger.Error().Err(err).Str("run_id", res.RunID).Msg("Failed to push result to Redis.")
		return fmt.Errorf("failed to push result to redis: %w", err)
	}
	s.logger.Debug().Str("run_id", res.RunID).Msg("Pushed run result to Redis.")
	return nil
}

// Recent returns up to n of the newest results, oldest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]RunResult, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.redisClient.LRange(ctx, s.key, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read results from redis: %w", err)
	}
	out := make([]RunResult, 0, len(raw))
	for _, item := range raw {
		var res RunResult
		if err := json.Unmarshal([]byte(item), &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Close closes the Redis client connection.
func (s *RedisSink) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
