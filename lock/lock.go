// Package lock provides lease-based distributed mutual exclusion on top of
// the remote store's atomic primitives. Leases are cooperative: they do not
// stop writers that bypass the manager, and an expired lease becomes
// acquirable by anyone. The store's clock is authoritative, never the
// client's.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-coord/metrics"
	"github.com/mirkobrombin/go-coord/store"
)

// ErrNotAcquired is returned by RunExclusive when the lock is busy and the
// wait window runs out.
var ErrNotAcquired = errors.New("lock: not acquired")

// ErrBadRenewInterval is returned when an auto-renew interval is not
// strictly below the lease TTL.
var ErrBadRenewInterval = errors.New("lock: renew interval must be positive and below the lease ttl")

// acquireBackoff is the fixed pause between acquisition retries.
const acquireBackoff = 100 * time.Millisecond

// releaseTimeout bounds the deferred release in RunExclusive, which runs on
// a fresh context so cancellation of the body never leaks the lock.
const releaseTimeout = 5 * time.Second

// Lease is a time-bounded claim on a named lock. It is valid only while the
// store's value for the lock key equals ID; the token is never reused
// across acquisitions.
type Lease struct {
	Name       string
	ID         string
	AcquiredAt time.Time
	TTL        time.Duration
}

// Manager coordinates leases against a shared remote store. All exclusivity
// comes from the store's atomic operations; the manager holds no in-process
// lock state beyond auto-renew bookkeeping.
type Manager struct {
	store   store.Store
	prefix  string
	rec     metrics.Recorder
	log     *logrus.Entry
	renewer *renewer
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix sets the global key prefix. The default is "coord".
func WithPrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

// WithRecorder reports every acquire/release/renew to rec under the "locks"
// scope.
func WithRecorder(rec metrics.Recorder) Option {
	return func(m *Manager) { m.rec = rec }
}

// WithLogger sets the manager's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager returns a Manager backed by st.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{store: st, prefix: "coord"}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "lock")
	}
	m.renewer = newRenewer(m)
	return m
}

// Close stops the auto-renew worker. Held leases simply expire.
func (m *Manager) Close() {
	m.renewer.stop()
}

func (m *Manager) key(name string) string {
	return m.prefix + ":lock:" + name
}

func (m *Manager) report(op metrics.Op, start time.Time, success bool) {
	if m.rec != nil {
		m.rec.RecordOperation("locks", op, time.Since(start), success)
	}
}

// TryAcquire attempts to take the named lock. While maxWait has not
// elapsed it retries on a fixed backoff; maxWait zero fails fast. A nil
// lease with nil error means the lock is held elsewhere. Connectivity
// failures are returned, never hidden: exclusivity must not silently fail
// open.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl, maxWait time.Duration) (*Lease, error) {
	start := time.Now()
	deadline := start.Add(maxWait)
	for {
		id := uuid.NewString()
		ok, err := m.store.SetNX(ctx, m.key(name), id, ttl)
		if err != nil {
			m.report(metrics.OpPut, start, false)
			return nil, err
		}
		if ok {
			m.report(metrics.OpPut, start, true)
			return &Lease{Name: name, ID: id, AcquiredAt: time.Now(), TTL: ttl}, nil
		}
		if maxWait <= 0 || !time.Now().Add(acquireBackoff).Before(deadline) {
			m.report(metrics.OpPut, start, true)
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireBackoff):
		}
	}
}

// Release frees the lease. It returns false when the lease was no longer
// the current owner, an expected race outcome rather than an error. The
// ownership check and delete execute as one server-side operation.
func (m *Manager) Release(ctx context.Context, lease *Lease) (bool, error) {
	start := time.Now()
	ok, err := m.store.CompareAndDelete(ctx, m.key(lease.Name), lease.ID)
	m.report(metrics.OpEvict, start, err == nil)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Renew extends the lease to newTTL. It returns false when ownership was
// lost; a lost lease must never touch the new holder's TTL, which the
// atomic compare-and-expire guarantees.
func (m *Manager) Renew(ctx context.Context, lease *Lease, newTTL time.Duration) (bool, error) {
	start := time.Now()
	ok, err := m.store.CompareAndExpire(ctx, m.key(lease.Name), lease.ID, newTTL)
	m.report(metrics.OpPut, start, err == nil)
	if err != nil {
		return false, err
	}
	if ok {
		lease.TTL = newTTL
	}
	return ok, nil
}

// AutoRenew schedules periodic renewal of lease on the manager's shared
// renew worker. The interval must be strictly below the lease TTL. Renewal
// stops silently the moment ownership is lost, logging instead of
// panicking into unrelated goroutines. The returned function cancels the
// schedule; it is safe to call more than once.
func (m *Manager) AutoRenew(lease *Lease, interval time.Duration) (func(), error) {
	if interval <= 0 || interval >= lease.TTL {
		return nil, ErrBadRenewInterval
	}
	return m.renewer.add(lease, interval), nil
}

// RunExclusive acquires the named lock, runs body and releases the lock on
// every exit path. It returns ErrNotAcquired when the lock stayed busy for
// the whole wait window.
func (m *Manager) RunExclusive(ctx context.Context, name string, ttl, maxWait time.Duration, body func(ctx context.Context) error) error {
	lease, err := m.TryAcquire(ctx, name, ttl, maxWait)
	if err != nil {
		return err
	}
	if lease == nil {
		return ErrNotAcquired
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		ok, err := m.Release(rctx, lease)
		if err != nil {
			m.log.WithError(err).WithField("lock", name).Warn("release failed")
		} else if !ok {
			m.log.WithField("lock", name).Warn("lease expired before release")
		}
	}()
	return body(ctx)
}
