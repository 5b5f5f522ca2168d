package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// cadScript deletes a key only while its value matches the caller's token.
// Running it server-side closes the race where the key changes owner between
// a client-side read and delete.
var cadScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// carScript resets a key's TTL only while its value matches the caller's
// token. PEXPIRE is used instead of a re-SET so the value can never be
// overwritten by a renewal racing another writer.
var carScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

// Redis implements Store using a go-redis client.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis returns a Store backed by the provided client. The client's own
// dial and read timeouts bound every round trip.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// connErr wraps transport failures so callers can test errors.Is(err,
// ErrConnectivity) without depending on the redis package.
func connErr(err error) error {
	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}

// Get implements Store.Get.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, connErr(err)
	}
	return data, true, nil
}

// Set implements Store.Set.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return connErr(err)
	}
	return nil
}

// SetNX implements Store.SetNX.
func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, connErr(err)
	}
	return ok, nil
}

// Del implements Store.Del.
func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, connErr(err)
	}
	return n, nil
}

// Exists implements Store.Exists.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, connErr(err)
	}
	return n > 0, nil
}

// Expire implements Store.Expire.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, connErr(err)
	}
	return ok, nil
}

// TTL implements Store.TTL.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, connErr(err)
	}
	// go-redis reports missing keys as -2ns and keys without expiry as -1ns.
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// Scan implements Store.Scan.
func (r *Redis) Scan(ctx context.Context, pattern string, batch int64) ([]string, error) {
	if batch <= 0 {
		batch = 100
	}
	var (
		keys   []string
		cursor uint64
	)
	for {
		page, next, err := r.client.Scan(ctx, cursor, pattern, batch).Result()
		if err != nil {
			return nil, connErr(err)
		}
		keys = append(keys, page...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// CompareAndDelete implements Store.CompareAndDelete.
func (r *Redis) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := cadScript.Run(ctx, r.client, []string{key}, expected).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, connErr(err)
	}
	return n == 1, nil
}

// CompareAndExpire implements Store.CompareAndExpire.
func (r *Redis) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	n, err := carScript.Run(ctx, r.client, []string{key}, expected, ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, connErr(err)
	}
	return n == 1, nil
}

// Ping implements Store.Ping.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return connErr(err)
	}
	return nil
}
