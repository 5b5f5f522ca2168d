package invalidation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-coord/cache"
	"github.com/mirkobrombin/go-coord/config"
	"github.com/mirkobrombin/go-coord/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.KeyPrefix = "app"
	cfg.Caches = map[string]config.CacheConfig{
		"users":    {TTL: time.Hour},
		"coupons":  {TTL: time.Hour},
		"sessions": {TTL: time.Hour},
	}
	cfg.Invalidation.Patterns = map[string][]config.Pattern{
		"user.updated": {
			{Cache: "users", Key: "user:{id}*"},
			{Cache: "sessions", Key: "session:user:{id}*"},
		},
		"coupon.redeemed": {
			{Cache: "coupons", Key: "coupon:{id}"},
		},
		"broken.event": {
			{Cache: "", Key: "oops"},
			{Cache: "users", Key: "user:{id}*"},
		},
	}
	cfg.Invalidation.Relations = map[string][]string{
		"user.updated":    {"coupon.redeemed"},
		"coupon.redeemed": {"user.updated"}, // deliberate cycle
	}
	return cfg
}

func newTestCoordinator(t *testing.T, mutate func(*config.Config)) (*Coordinator, *cache.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	cs := cache.NewStore(store.NewRedis(client), cfg)
	return NewCoordinator(cs), cs
}

func TestInvalidateByEventSubstitutesID(t *testing.T) {
	c, cs := newTestCoordinator(t, nil)
	ctx := context.Background()

	cache.Put(ctx, cs, "users", "user:42", "a", 0)
	cache.Put(ctx, cs, "users", "user:42:profile", "b", 0)
	cache.Put(ctx, cs, "users", "user:43", "c", 0)

	c.InvalidateByEvent(ctx, "user.updated", "42")

	assert.False(t, cs.Exists(ctx, "users", "user:42"))
	assert.False(t, cs.Exists(ctx, "users", "user:42:profile"))
	assert.True(t, cs.Exists(ctx, "users", "user:43"), "other entities must survive")
}

func TestInvalidateByEventWithoutIDWidens(t *testing.T) {
	c, cs := newTestCoordinator(t, nil)
	ctx := context.Background()

	cache.Put(ctx, cs, "users", "user:1", "a", 0)
	cache.Put(ctx, cs, "users", "user:2", "b", 0)

	c.InvalidateByEvent(ctx, "user.updated", "")

	assert.False(t, cs.Exists(ctx, "users", "user:1"))
	assert.False(t, cs.Exists(ctx, "users", "user:2"))
}

func TestMalformedPatternDoesNotAbortSiblings(t *testing.T) {
	c, cs := newTestCoordinator(t, nil)
	ctx := context.Background()

	cache.Put(ctx, cs, "users", "user:7", "a", 0)
	c.InvalidateByEvent(ctx, "broken.event", "7")
	assert.False(t, cs.Exists(ctx, "users", "user:7"), "the valid sibling pattern must still run")
}

func TestUnknownEventIsNoOp(t *testing.T) {
	c, cs := newTestCoordinator(t, nil)
	ctx := context.Background()

	cache.Put(ctx, cs, "users", "user:1", "a", 0)
	c.InvalidateByEvent(ctx, "nobody.cares", "1")
	assert.True(t, cs.Exists(ctx, "users", "user:1"))
}

func TestCascadeFollowsRelationsAndTerminatesOnCycle(t *testing.T) {
	c, cs := newTestCoordinator(t, nil)
	ctx := context.Background()

	cache.Put(ctx, cs, "users", "user:5", "a", 0)
	cache.Put(ctx, cs, "coupons", "coupon:5", "b", 0)

	done := make(chan struct{})
	go func() {
		c.Cascade(ctx, "user.updated", "5")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cascade did not terminate on cyclic relations")
	}

	assert.False(t, cs.Exists(ctx, "users", "user:5"))
	assert.False(t, cs.Exists(ctx, "coupons", "coupon:5"), "related events must be invalidated too")
}

func TestListenersRunAfterEviction(t *testing.T) {
	c, cs := newTestCoordinator(t, nil)
	ctx := context.Background()

	cache.Put(ctx, cs, "coupons", "coupon:9", "v", 0)

	var gotEvent, gotID string
	c.RegisterListener("coupon.redeemed", func(eventType, entityID string) {
		gotEvent, gotID = eventType, entityID
		assert.False(t, cs.Exists(ctx, "coupons", "coupon:9"), "listener must observe the eviction")
	})

	c.InvalidateByEvent(ctx, "coupon.redeemed", "9")
	assert.Equal(t, "coupon.redeemed", gotEvent)
	assert.Equal(t, "9", gotID)
}

func TestAsyncInvalidation(t *testing.T) {
	c, cs := newTestCoordinator(t, func(cfg *config.Config) {
		cfg.Invalidation.Async = true
	})
	ctx := context.Background()

	cache.Put(ctx, cs, "users", "user:3", "v", 0)
	c.InvalidateByEvent(ctx, "user.updated", "3")
	c.Wait()
	assert.False(t, cs.Exists(ctx, "users", "user:3"))
}

func TestDisabledCoordinatorDoesNothing(t *testing.T) {
	c, cs := newTestCoordinator(t, func(cfg *config.Config) {
		cfg.Invalidation.Enabled = false
	})
	ctx := context.Background()

	cache.Put(ctx, cs, "users", "user:1", "v", 0)
	c.InvalidateByEvent(ctx, "user.updated", "1")
	assert.True(t, cs.Exists(ctx, "users", "user:1"))
}

func TestInvalidateAll(t *testing.T) {
	c, cs := newTestCoordinator(t, nil)
	ctx := context.Background()

	cache.Put(ctx, cs, "users", "a", 1, 0)
	cache.Put(ctx, cs, "coupons", "b", 2, 0)
	cache.Put(ctx, cs, "sessions", "c", 3, 0)

	removed := c.InvalidateAll(ctx)
	assert.Equal(t, 3, removed)
	require.False(t, cs.Exists(ctx, "users", "a"))
	require.False(t, cs.Exists(ctx, "coupons", "b"))
	require.False(t, cs.Exists(ctx, "sessions", "c"))
}
