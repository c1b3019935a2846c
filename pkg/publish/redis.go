// Package publish forwards pipeline readings to external stores.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/spop/grupetto/pkg/config"
	"github.com/spop/grupetto/pkg/pipeline"
	"github.com/spop/grupetto/pkg/watchdog"
)

var _ pipeline.Sink = (*Redis)(nil)

// redisClient is the part of *redis.Client the publisher uses.
type redisClient interface {
	Pipeline() redis.Pipeliner
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis keeps the latest readings in a hash and announces changes on
// "<channel> <quantity>" pub/sub channels.
type Redis struct {
	client  redisClient
	key     string
	channel string

	mu   sync.Mutex
	last map[string]string
}

// NewRedis connects to the configured redis server.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(connectCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return newRedis(client, cfg), nil
}

func newRedis(client redisClient, cfg config.RedisConfig) *Redis {
	return &Redis{
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
		last:    make(map[string]string),
	}
}

// Name implements pipeline.Sink.
func (r *Redis) Name() string { return "redis" }

// Publish stores the reading and publishes it if the displayed value changed.
func (r *Redis) Publish(ctx context.Context, reading pipeline.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	value := strconv.FormatFloat(reading.Value, 'f', 2, 64)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.key,
		reading.Channel, value,
		reading.Channel+":raw", strconv.FormatFloat(reading.Raw, 'f', 2, 64),
		"session", reading.Session,
		"updated", reading.Timestamp.UnixMilli(),
	)

	changed := r.last[reading.Channel] != value
	if changed {
		payload, err := json.Marshal(reading)
		if err != nil {
			return fmt.Errorf("failed to encode %s reading: %w", reading.Channel, err)
		}
		pipe.Publish(ctx, r.channel+" "+reading.Channel, payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish %s reading: %w", reading.Channel, err)
	}

	if changed {
		r.last[reading.Channel] = value
	}
	return nil
}

// Alert stores and publishes a dead source advisory.
func (r *Redis) Alert(ctx context.Context, ev watchdog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.key,
		"advisory", ev.Message,
		"advisory:time", ev.Time.UnixMilli(),
	)
	pipe.Publish(ctx, r.channel+" advisory", ev.Message)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish advisory: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
