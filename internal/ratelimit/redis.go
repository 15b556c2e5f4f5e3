package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// NewRedis shares the counters between server instances through client.
// While Redis is unreachable hits are counted in process instead of locking
// everybody out.
func NewRedis(client redis.UniversalClient, max int, window time.Duration, log *zap.Logger) (*Window, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   keyPrefix,
		MaxRetry: 3,
	})
	if err != nil {
		return nil, err
	}
	return &Window{
		limiter:  limiter.New(store, rate(max, window)),
		fallback: NewMemory(max, window),
		log:      log,
		now:      time.Now,
	}, nil
}

// New picks the Redis limiter when url is set and reachable, otherwise an
// in-memory one. The returned close function releases the Redis client.
func New(ctx context.Context, url string, max int, window time.Duration, log *zap.Logger) (Limiter, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}
	if url == "" {
		return NewMemory(max, window), func() {}, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis not reachable at startup, rate limiting stays in-process", zap.Error(err))
		_ = client.Close()
		return NewMemory(max, window), func() {}, nil
	}

	l, err := NewRedis(client, max, window, log)
	if err != nil {
		log.Warn("cannot prepare redis rate limit store, rate limiting stays in-process", zap.Error(err))
		_ = client.Close()
		return NewMemory(max, window), func() {}, nil
	}
	return l, func() { _ = client.Close() }, nil
}
