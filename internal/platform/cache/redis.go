package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Options configures the shared Redis connection.
type Options struct {
	Addr         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = time.Second
	}
	return o
}

// Open creates a Redis client and pings it. The client is returned even when the
// ping fails so callers may run degraded.
func Open(ctx context.Context, opts Options) (*redis.Client, error) {
	opts = opts.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// QueueOpt returns the asynq connection settings for the same Redis.
func QueueOpt(opts Options) asynq.RedisClientOpt {
	opts = opts.withDefaults()
	return asynq.RedisClientOpt{
		Addr:         opts.Addr,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
}
