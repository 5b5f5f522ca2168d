package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker wraps a Store with a circuit breaker so that a struggling backend
// fails fast instead of stacking up timeouts. Open-circuit rejections are
// reported as ErrConnectivity, which the cache layer already treats as a
// miss.
type Breaker struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

// DefaultBreakerSettings trips after five consecutive failures and probes
// again after ten seconds.
func DefaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:    name,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// NewBreaker returns a Store whose calls route through a circuit breaker
// built from settings.
func NewBreaker(inner Store, settings gobreaker.Settings) *Breaker {
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return v, err
}

// Get implements Store.Get.
func (b *Breaker) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type result struct {
		data []byte
		ok   bool
	}
	v, err := b.execute(func() (any, error) {
		data, ok, err := b.inner.Get(ctx, key)
		return result{data, ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(result)
	return res.data, res.ok, nil
}

// Set implements Store.Set.
func (b *Breaker) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Set(ctx, key, value, ttl)
	})
	return err
}

// SetNX implements Store.SetNX.
func (b *Breaker) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.SetNX(ctx, key, value, ttl)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Del implements Store.Del.
func (b *Breaker) Del(ctx context.Context, keys ...string) (int64, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Del(ctx, keys...)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Exists implements Store.Exists.
func (b *Breaker) Exists(ctx context.Context, key string) (bool, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Exists(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Expire implements Store.Expire.
func (b *Breaker) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Expire(ctx, key, ttl)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// TTL implements Store.TTL.
func (b *Breaker) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	type result struct {
		d  time.Duration
		ok bool
	}
	v, err := b.execute(func() (any, error) {
		d, ok, err := b.inner.TTL(ctx, key)
		return result{d, ok}, err
	})
	if err != nil {
		return 0, false, err
	}
	res := v.(result)
	return res.d, res.ok, nil
}

// Scan implements Store.Scan.
func (b *Breaker) Scan(ctx context.Context, pattern string, batch int64) ([]string, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Scan(ctx, pattern, batch)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// CompareAndDelete implements Store.CompareAndDelete.
func (b *Breaker) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.CompareAndDelete(ctx, key, expected)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// CompareAndExpire implements Store.CompareAndExpire.
func (b *Breaker) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.CompareAndExpire(ctx, key, expected, ttl)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Ping implements Store.Ping.
func (b *Breaker) Ping(ctx context.Context) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Ping(ctx)
	})
	return err
}

// State exposes the current breaker state for health reporting.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
