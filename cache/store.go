// Package cache implements the namespaced, typed cache layer over the
// remote store. Every operation fails open: a store outage degrades to a
// miss or a skipped write, never to an error in business logic. The cache
// is an optimization, not a source of truth.
package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-coord/config"
	"github.com/mirkobrombin/go-coord/metrics"
	"github.com/mirkobrombin/go-coord/store"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-coord/cache")

// Store provides cache operations over a shared remote key space. Keys are
// namespaced as <globalPrefix>:<cachePrefixOrName>:<key>, so no two logical
// caches can collide and pattern eviction targets exactly one cache.
type Store struct {
	remote store.Store
	cfg    *config.Config
	rec    metrics.Recorder
	log    *logrus.Entry
	group  singleflight.Group

	traceEnabled bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRecorder reports every operation to rec.
func WithRecorder(rec metrics.Recorder) StoreOption {
	return func(s *Store) { s.rec = rec }
}

// WithLogger sets the store's logger.
func WithLogger(log *logrus.Entry) StoreOption {
	return func(s *Store) { s.log = log }
}

// WithTracing enables OpenTelemetry spans for cache operations.
func WithTracing() StoreOption {
	return func(s *Store) { s.traceEnabled = true }
}

// NewStore returns a cache Store over remote, configured by cfg.
func NewStore(remote store.Store, cfg *config.Config, opts ...StoreOption) *Store {
	s := &Store{remote: remote, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "cache")
	}
	return s
}

func (s *Store) fullKey(cc config.CacheConfig, key string) string {
	return s.cfg.KeyPrefix + ":" + cc.KeyPrefix + ":" + key
}

// observe starts a span when tracing is enabled and returns a completion
// func recording metrics for the operation.
func (s *Store) observe(ctx context.Context, cacheName string, op metrics.Op) (context.Context, func(success bool)) {
	start := time.Now()
	var span trace.Span
	if s.traceEnabled {
		ctx, span = tracer.Start(ctx, "Cache."+string(op))
		span.SetAttributes(attribute.String("coord.cache.name", cacheName))
	}
	return ctx, func(success bool) {
		if s.rec != nil {
			s.rec.RecordOperation(cacheName, op, time.Since(start), success)
		}
		if span != nil {
			span.SetAttributes(attribute.Bool("coord.cache.success", success))
			span.End()
		}
	}
}

// Evict removes one key from the named cache. It reports whether the key
// existed; evicting an absent key is a safe no-op returning false.
func (s *Store) Evict(ctx context.Context, cacheName, key string) bool {
	cc := s.cfg.Cache(cacheName)
	ctx, done := s.observe(ctx, cacheName, metrics.OpEvict)
	n, err := s.remote.Del(ctx, s.fullKey(cc, key))
	if err != nil {
		done(false)
		s.log.WithError(err).WithFields(logrus.Fields{"cache": cacheName, "key": key}).Warn("evict failed")
		return false
	}
	done(true)
	return n > 0
}

// EvictByPattern removes every key of the named cache matching pattern and
// returns how many were deleted.
func (s *Store) EvictByPattern(ctx context.Context, cacheName, pattern string) int {
	ctx, done := s.observe(ctx, cacheName, metrics.OpEvict)
	n, ok := s.evictPattern(ctx, cacheName, pattern)
	done(ok)
	return n
}

// Clear removes every entry of the named cache.
func (s *Store) Clear(ctx context.Context, cacheName string) int {
	ctx, done := s.observe(ctx, cacheName, metrics.OpClear)
	n, ok := s.evictPattern(ctx, cacheName, "*")
	done(ok)
	return n
}

// evictPattern enumerates matching keys with a cursor scan and deletes them
// in bounded batches, so a large cache never turns into one unbounded
// multi-key command.
func (s *Store) evictPattern(ctx context.Context, cacheName, pattern string) (int, bool) {
	cc := s.cfg.Cache(cacheName)
	batch := s.cfg.Invalidation.BatchSize

	keys, err := s.remote.Scan(ctx, s.fullKey(cc, pattern), int64(batch))
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"cache": cacheName, "pattern": pattern}).Warn("pattern scan failed")
		return 0, false
	}
	removed := 0
	for start := 0; start < len(keys); start += batch {
		end := start + batch
		if end > len(keys) {
			end = len(keys)
		}
		n, err := s.remote.Del(ctx, keys[start:end]...)
		if err != nil {
			s.log.WithError(err).WithField("cache", cacheName).Warn("batch delete failed")
			return removed, false
		}
		removed += int(n)
	}
	return removed, true
}

// Exists reports whether the key is present, treating store failures as
// absent.
func (s *Store) Exists(ctx context.Context, cacheName, key string) bool {
	cc := s.cfg.Cache(cacheName)
	ok, err := s.remote.Exists(ctx, s.fullKey(cc, key))
	if err != nil {
		s.log.WithError(err).WithField("cache", cacheName).Debug("exists probe failed")
		return false
	}
	return ok
}

// TTLRemaining returns the remaining lifetime of the key. The boolean is
// false when the key is absent, has no expiry or the store is unreachable.
func (s *Store) TTLRemaining(ctx context.Context, cacheName, key string) (time.Duration, bool) {
	cc := s.cfg.Cache(cacheName)
	d, ok, err := s.remote.TTL(ctx, s.fullKey(cc, key))
	if err != nil {
		s.log.WithError(err).WithField("cache", cacheName).Debug("ttl probe failed")
		return 0, false
	}
	return d, ok
}

// CacheNames returns the configured cache names.
func (s *Store) CacheNames() []string {
	names := make([]string, 0, len(s.cfg.Caches))
	for name := range s.cfg.Caches {
		names = append(names, name)
	}
	return names
}

// Config exposes the store's configuration to collaborators such as the
// invalidation coordinator.
func (s *Store) Config() *config.Config {
	return s.cfg
}
