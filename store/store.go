// Package store defines the remote key-value contract shared by the lock
// manager and the cache store, together with its Redis implementation.
//
// The contract is intentionally small: TTL writes, pattern scans and two
// atomic scripted operations (compare-and-delete, compare-and-expire). Any
// backend offering server-side scripting or optimistic transactions can
// implement it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrConnectivity reports that the remote store could not be reached or
// timed out. Callers that cannot fail open (the lock manager) must surface
// it; the cache store degrades to a miss instead.
var ErrConnectivity = errors.New("store: connectivity failure")

// Store is the remote key space used by the coordination layer.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the raw value for key. The boolean reports whether the
	// key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key with the given TTL. A non-positive TTL
	// stores the key without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent. It returns true when the
	// write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes the given keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Expire resets the TTL of key. It returns false if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key. The boolean is false when
	// the key is absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	// Scan returns every key matching pattern, iterating the server-side
	// cursor in batches of the given size. It never uses a blocking
	// full-keyspace command.
	Scan(ctx context.Context, pattern string, batch int64) ([]string, error)
	// CompareAndDelete deletes key only if its current value equals
	// expected. The check and delete execute as one server-side operation.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// CompareAndExpire resets the TTL of key only if its current value
	// equals expected, atomically.
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
	// Ping probes connectivity.
	Ping(ctx context.Context) error
}
