package lock

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// renewTimeout bounds each renewal round trip.
const renewTimeout = 3 * time.Second

// entry is one scheduled renewal. Cancelled entries stay in the heap and
// are discarded when they surface, which keeps removal O(1).
type entry struct {
	lease     *Lease
	interval  time.Duration
	next      time.Time
	cancelled bool
}

type renewHeap []*entry

func (h renewHeap) Len() int           { return len(h) }
func (h renewHeap) Less(i, j int) bool { return h[i].next.Before(h[j].next) }
func (h renewHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *renewHeap) Push(x any)        { *h = append(*h, x.(*entry)) }
func (h *renewHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// renewer multiplexes every auto-renewed lease onto a single worker
// goroutine draining a deadline min-heap, so lock churn never grows the
// goroutine count.
type renewer struct {
	m *Manager

	mu   sync.Mutex
	heap renewHeap

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newRenewer(m *Manager) *renewer {
	r := &renewer{
		m:    m,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *renewer) stop() {
	r.once.Do(func() { close(r.done) })
}

// add schedules lease for renewal every interval and returns a cancel
// function.
func (r *renewer) add(lease *Lease, interval time.Duration) func() {
	e := &entry{lease: lease, interval: interval, next: time.Now().Add(interval)}
	r.mu.Lock()
	heap.Push(&r.heap, e)
	r.mu.Unlock()
	r.notify()
	return func() {
		r.mu.Lock()
		e.cancelled = true
		r.mu.Unlock()
	}
}

func (r *renewer) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *renewer) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		r.mu.Lock()
		wait := time.Hour
		if len(r.heap) > 0 {
			wait = time.Until(r.heap[0].next)
		}
		r.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-r.done:
			return
		case <-r.wake:
		case <-timer.C:
			r.renewDue()
		}
	}
}

// renewDue pops every entry whose deadline has passed, renews it and
// reschedules the survivors. An entry whose renewal reports lost ownership
// is dropped silently, per the cooperative lease contract.
func (r *renewer) renewDue() {
	now := time.Now()
	for {
		r.mu.Lock()
		if len(r.heap) == 0 || r.heap[0].next.After(now) {
			r.mu.Unlock()
			return
		}
		e := heap.Pop(&r.heap).(*entry)
		cancelled := e.cancelled
		r.mu.Unlock()
		if cancelled {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), renewTimeout)
		ok, err := r.m.Renew(ctx, e.lease, e.lease.TTL)
		cancel()
		switch {
		case err != nil:
			r.m.log.WithError(err).WithField("lock", e.lease.Name).Warn("auto-renew failed, dropping lease")
		case !ok:
			r.m.log.WithField("lock", e.lease.Name).Info("lease ownership lost, auto-renew stopped")
		default:
			e.next = now.Add(e.interval)
			r.mu.Lock()
			heap.Push(&r.heap, e)
			r.mu.Unlock()
		}
	}
}
