// Package ratelimit counts login attempts per client in fixed windows,
// in process or shared through Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

const keyPrefix = "emberframe:ratelimit"

// Limiter counts hits per key inside a fixed window. Allow reports whether
// the hit is within the limit and, if not, how long until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// Window is a fixed-window Limiter on top of a limiter store. When the store
// fails, hits go to fallback.
type Window struct {
	limiter  *limiter.Limiter
	fallback Limiter
	log      *zap.Logger
	now      func() time.Time
}

func rate(max int, window time.Duration) limiter.Rate {
	return limiter.Rate{Period: window, Limit: int64(max)}
}

// NewMemory returns an in-process limiter allowing max hits per window.
func NewMemory(max int, window time.Duration) *Window {
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          keyPrefix,
		CleanUpInterval: window,
	})
	return &Window{
		limiter: limiter.New(store, rate(max, window)),
		log:     zap.NewNop(),
		now:     time.Now,
	}
}

func (w *Window) Allow(ctx context.Context, key string) (bool, time.Duration) {
	lc, err := w.limiter.Get(ctx, key)
	if err != nil {
		if w.fallback == nil {
			w.log.Error("rate limit store failed, letting request through", zap.Error(err))
			return true, 0
		}
		w.log.Warn("rate limit store unavailable, using in-memory fallback", zap.Error(err))
		return w.fallback.Allow(ctx, key)
	}
	if !lc.Reached {
		return true, 0
	}

	wait := time.Unix(lc.Reset, 0).Sub(w.now())
	if wait < time.Second {
		wait = time.Second
	}
	return false, wait
}
