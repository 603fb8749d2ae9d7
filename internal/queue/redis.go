package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey          = "taskpool:pending"
	DefaultPollInterval = time.Second
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Key is the list holding pending ids.
	Key string

	// PollInterval bounds how long a blocked Dequeue waits before it
	// rechecks for shutdown, so Shutdown releases idle dequeuers (and
	// Pool.Stop on an idle pool returns) within one interval rather than
	// immediately. Redis rounds anything below a second up.
	PollInterval time.Duration
}

// Redis is a Queue backed by a Redis list.
type Redis struct {
	client       *redis.Client
	key          string
	pollInterval time.Duration
	closed       atomic.Bool
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return &Redis{client: client, key: key, pollInterval: poll}, nil
}

// Close releases the Redis connection.
func (q *Redis) Close() error {
	return q.client.Close()
}

func (q *Redis) Enqueue(ctx context.Context, id string) error {
	if err := q.client.RPush(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if q.closed.Load() {
			id, err := q.client.LPop(ctx, q.key).Result()
			if err == redis.Nil {
				return "", ErrClosed
			}
			if err != nil {
				return "", fmt.Errorf("dequeue task: %w", err)
			}
			return id, nil
		}

		result, err := q.client.BLPop(ctx, q.pollInterval, q.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("dequeue task: %w", err)
		}
		return result[1], nil
	}
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(n), nil
}

func (q *Redis) Shutdown() {
	q.closed.Store(true)
}

func (q *Redis) Resume() {
	q.closed.Store(false)
}
