package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// RedisClients holds one connection pool for the report export queue and
// one for the dashboard_updates broadcast. Export workers park in BLPOP on
// Queue, so snapshot publishes and the hub subscription go through PubSub.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

// NewRedisClients connects both pools and fails unless both answer PING.
func NewRedisClients(redisURL string) (*RedisClients, error) {
	return newRedisClients(redisURL, connectTimeout)
}

func newRedisClients(redisURL string, timeout time.Duration) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	queue, err := connect(ctx, opt, "perfeval-export-queue")
	if err != nil {
		return nil, fmt.Errorf("export queue: %w", err)
	}
	broadcast, err := connect(ctx, opt, "perfeval-dashboard-updates")
	if err != nil {
		queue.Close()
		return nil, fmt.Errorf("dashboard broadcast: %w", err)
	}

	return &RedisClients{Queue: queue, PubSub: broadcast}, nil
}

// connect opens a pool with its own copy of opt, named so CLIENT LIST shows
// which side of the gateway a connection belongs to.
func connect(ctx context.Context, opt *redis.Options, name string) (*redis.Client, error) {
	o := *opt
	o.ClientName = name
	client := redis.NewClient(&o)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// Ping backs the /health check.
func (r *RedisClients) Ping(ctx context.Context) error {
	if err := r.Queue.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("export queue: %w", err)
	}
	if err := r.PubSub.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("dashboard broadcast: %w", err)
	}
	return nil
}

func (r *RedisClients) Close() {
	r.Queue.Close()
	r.PubSub.Close()
}
