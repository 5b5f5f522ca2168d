// Package invalidation maps domain events to cache key patterns and drives
// event-driven, optionally cascading, cache invalidation. Failures are
// logged and skipped, never retried and never propagated: invalidation is
// best effort, with the entry TTL as the backstop.
package invalidation

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-coord/cache"
	"github.com/mirkobrombin/go-coord/config"
)

// idPlaceholder is substituted with the entity id of the triggering event.
const idPlaceholder = "{id}"

// Listener is a side effect attached to an event type. Listeners run after
// the event's patterns have been processed.
type Listener func(eventType, entityID string)

// Coordinator routes domain events to cache evictions. Rules and relations
// come from configuration and are read-only at runtime; listeners may be
// registered at any time.
type Coordinator struct {
	cache *cache.Store
	cfg   config.InvalidationConfig
	log   *logrus.Entry

	mu        sync.RWMutex
	listeners map[string][]Listener

	wg sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator returns a Coordinator evicting through cs, configured by
// the store's invalidation section.
func NewCoordinator(cs *cache.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		cache:     cs,
		cfg:       cs.Config().Invalidation,
		listeners: make(map[string][]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "invalidation")
	}
	return c
}

// RegisterListener attaches a callback to eventType without modifying the
// coordinator's rules.
func (c *Coordinator) RegisterListener(eventType string, fn Listener) {
	c.mu.Lock()
	c.listeners[eventType] = append(c.listeners[eventType], fn)
	c.mu.Unlock()
}

// InvalidateByEvent evicts every pattern configured for eventType,
// substituting entityID for the {id} placeholder when present. Each
// pattern is isolated: one failure never aborts its siblings. When async
// invalidation is configured the work runs in the background and the call
// returns immediately.
func (c *Coordinator) InvalidateByEvent(ctx context.Context, eventType, entityID string) {
	if !c.cfg.Enabled {
		return
	}
	if c.cfg.Async {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			// Detached from the caller's context so a finished request
			// cannot cancel an in-flight eviction.
			c.invalidate(context.Background(), eventType, entityID)
		}()
		return
	}
	c.invalidate(ctx, eventType, entityID)
}

func (c *Coordinator) invalidate(ctx context.Context, eventType, entityID string) {
	patterns := c.cfg.Patterns[eventType]
	if len(patterns) == 0 {
		c.log.WithField("event", eventType).Debug("no invalidation patterns configured")
	}
	for _, p := range patterns {
		if p.Cache == "" || p.Key == "" {
			c.log.WithFields(logrus.Fields{"event": eventType, "pattern": p.Key}).Warn("malformed invalidation pattern, skipping")
			continue
		}
		key := expand(p.Key, entityID)
		removed := c.cache.EvictByPattern(ctx, p.Cache, key)
		c.log.WithFields(logrus.Fields{
			"event":   eventType,
			"cache":   p.Cache,
			"pattern": key,
			"removed": removed,
		}).Debug("invalidated by event")
	}
	c.notify(eventType, entityID)
}

// expand substitutes the {id} placeholder. Without an entity id the
// placeholder widens to a wildcard so the whole family of keys goes.
func expand(pattern, entityID string) string {
	if !strings.Contains(pattern, idPlaceholder) {
		return pattern
	}
	if entityID == "" {
		return strings.ReplaceAll(pattern, idPlaceholder, "*")
	}
	return strings.ReplaceAll(pattern, idPlaceholder, entityID)
}

func (c *Coordinator) notify(eventType, entityID string) {
	c.mu.RLock()
	listeners := append([]Listener(nil), c.listeners[eventType]...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(eventType, entityID)
	}
}

// Cascade invalidates rootEventType and every event type reachable from it
// through the configured relation graph. The traversal is breadth-first
// with a visited set, so it terminates even when relations form a cycle.
func (c *Coordinator) Cascade(ctx context.Context, rootEventType, entityID string) {
	if !c.cfg.Enabled {
		return
	}
	visited := map[string]bool{rootEventType: true}
	queue := []string{rootEventType}
	for len(queue) > 0 {
		event := queue[0]
		queue = queue[1:]
		c.invalidate(ctx, event, entityID)
		for _, next := range c.cfg.Relations[event] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
}

// InvalidateAll clears every configured cache. Destructive and admin-only;
// it must never be wired into a request-handling path.
func (c *Coordinator) InvalidateAll(ctx context.Context) int {
	c.log.Warn("invalidating all caches")
	total := 0
	for _, name := range c.cache.CacheNames() {
		total += c.cache.Clear(ctx, name)
	}
	return total
}

// Wait blocks until all asynchronous invalidations in flight have
// finished. Intended for shutdown and tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
