package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-coord/metrics"
)

// Get retrieves and decodes the value for key in the named cache. Any
// transport or decode failure is treated as a miss and recorded, never
// returned.
//
// The functions in this file are package-level because Go methods cannot
// carry their own type parameters.
func Get[T any](ctx context.Context, s *Store, cacheName, key string) (T, bool) {
	var zero T
	cc := s.cfg.Cache(cacheName)
	ctx, done := s.observe(ctx, cacheName, metrics.OpGet)

	data, ok, err := s.remote.Get(ctx, s.fullKey(cc, key))
	if err != nil {
		done(false)
		s.log.WithError(err).WithFields(logrus.Fields{"cache": cacheName, "key": key}).Warn("get failed, treating as miss")
		return zero, false
	}
	if !ok {
		done(false)
		return zero, false
	}
	var v T
	if err := codecFor(cc.SerializationFormat).Unmarshal(data, &v); err != nil {
		done(false)
		s.log.WithError(err).WithFields(logrus.Fields{"cache": cacheName, "key": key}).Warn("decode failed, treating as miss")
		return zero, false
	}
	done(true)
	return v, true
}

// Put encodes and stores value under key. A non-positive ttl uses the
// cache's configured TTL. Encode and store failures are recorded as put
// errors and otherwise swallowed.
func Put[T any](ctx context.Context, s *Store, cacheName, key string, value T, ttl time.Duration) {
	cc := s.cfg.Cache(cacheName)
	if ttl <= 0 {
		ttl = cc.TTL
	}
	ctx, done := s.observe(ctx, cacheName, metrics.OpPut)

	data, err := codecFor(cc.SerializationFormat).Marshal(value)
	if err != nil {
		done(false)
		s.log.WithError(err).WithFields(logrus.Fields{"cache": cacheName, "key": key}).Warn("encode failed, skipping put")
		return
	}
	if err := s.remote.Set(ctx, s.fullKey(cc, key), data, ttl); err != nil {
		done(false)
		s.log.WithError(err).WithFields(logrus.Fields{"cache": cacheName, "key": key}).Warn("put failed")
		return
	}
	done(true)
}

// GetOrCompute returns the cached value for key, or calls compute on a
// miss and writes the result back before returning it. Concurrent callers
// inside one process are deduplicated per key; callers in other processes
// may still compute the same value independently. Callers needing hard
// stampede protection must wrap the computation in lock.RunExclusive.
func GetOrCompute[T any](ctx context.Context, s *Store, cacheName, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := Get[T](ctx, s, cacheName, key); ok {
		return v, nil
	}
	cc := s.cfg.Cache(cacheName)
	v, err, _ := s.group.Do(s.fullKey(cc, key), func() (any, error) {
		if v, ok := Get[T](ctx, s, cacheName, key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		Put(ctx, s, cacheName, key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// MultiGet is a best-effort batched convenience over Get. Missing keys are
// simply absent from the result.
func MultiGet[T any](ctx context.Context, s *Store, cacheName string, keys []string) map[string]T {
	out := make(map[string]T, len(keys))
	for _, key := range keys {
		if v, ok := Get[T](ctx, s, cacheName, key); ok {
			out[key] = v
		}
	}
	return out
}

// MultiPut is a best-effort batched convenience over Put.
func MultiPut[T any](ctx context.Context, s *Store, cacheName string, values map[string]T, ttl time.Duration) {
	for key, v := range values {
		Put(ctx, s, cacheName, key, v, ttl)
	}
}

// Warm loads the entries produced by loader into the named cache, using the
// cache's default TTL. It serves eager warmup at startup; loader errors are
// returned so the host can decide whether startup proceeds.
func Warm[T any](ctx context.Context, s *Store, cacheName string, loader func(ctx context.Context) (map[string]T, error)) error {
	entries, err := loader(ctx)
	if err != nil {
		return err
	}
	MultiPut(ctx, s, cacheName, entries, 0)
	s.log.WithFields(logrus.Fields{"cache": cacheName, "entries": len(entries)}).Info("cache warmed")
	return nil
}
