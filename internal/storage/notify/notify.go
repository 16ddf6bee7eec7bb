// Package notify implements the wake-up machinery behind blocking predicate
// queries on the current day.
//
// Waiters register interest under one or more product names. Every recorded
// event for a product re-evaluates the predicates of exactly the waiters
// registered under that name. A day rollover advances the epoch and
// invalidates every outstanding waiter.
//
// The Notifier does not own a lock. It shares the current-day lock of the
// store: Notify and AdvanceEpoch must be called with that lock held
// exclusively, and predicates are evaluated under it.
package notify

import (
	"context"
	"sync"

	"github.com/xtxerr/salesdb/internal/errors"
)

// Predicate reports whether a waiter's condition holds.
// It is always evaluated with the current-day lock held.
type Predicate func() bool

// waiter is a single blocked request.
// done is closed exactly once, after err is set.
type waiter struct {
	products []string
	pred     Predicate
	done     chan struct{}
	err      error
	resolved bool
}

func (w *waiter) resolve(err error) {
	if w.resolved {
		return
	}
	w.resolved = true
	w.err = err
	close(w.done)
}

// Notifier tracks blocked waiters by product.
type Notifier struct {
	mu       sync.Locker
	epoch    uint64
	closed   error
	interest map[string]map[*waiter]struct{}
	waiting  int
}

// New creates a Notifier built on the given lock.
func New(mu sync.Locker) *Notifier {
	return &Notifier{
		mu:       mu,
		interest: make(map[string]map[*waiter]struct{}),
	}
}

// Epoch returns the current day epoch. Callers that do not hold the lock
// get a value that may already be stale, which Await reports as ErrDayEnded.
func (n *Notifier) Epoch() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.epoch
}

// EpochLocked is Epoch for callers already holding the lock.
func (n *Notifier) EpochLocked() uint64 {
	return n.epoch
}

// Waiting returns the number of registered waiters. Lock must be held.
func (n *Notifier) Waiting() int {
	return n.waiting
}

// Await blocks until pred holds or the day epoch moves past epoch.
//
// The predicate is checked under the lock before the waiter sleeps and again
// on every event for one of products, so a wake-up between the check and the
// registration cannot be missed. On rollover Await returns ErrDayEnded.
// Cancelling ctx deregisters the waiter and returns ctx.Err().
func (n *Notifier) Await(ctx context.Context, products []string, epoch uint64, pred Predicate) error {
	n.mu.Lock()
	if n.closed != nil {
		n.mu.Unlock()
		return n.closed
	}
	if n.epoch != epoch {
		n.mu.Unlock()
		return errors.ErrDayEnded
	}
	if pred() {
		n.mu.Unlock()
		return nil
	}

	w := &waiter{
		products: dedupe(products),
		pred:     pred,
		done:     make(chan struct{}),
	}
	n.register(w)
	n.mu.Unlock()

	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if w.resolved {
		return w.err
	}
	n.deregister(w)
	w.resolve(ctx.Err())
	return ctx.Err()
}

// Notify re-evaluates every waiter registered under product and releases
// those whose predicate now holds. Lock must be held.
func (n *Notifier) Notify(product string) int {
	set := n.interest[product]
	if len(set) == 0 {
		return 0
	}

	var ready []*waiter
	for w := range set {
		if w.pred() {
			ready = append(ready, w)
		}
	}
	for _, w := range ready {
		n.deregister(w)
		w.resolve(nil)
	}
	return len(ready)
}

// AdvanceEpoch starts a new day epoch and fails every registered waiter with
// ErrDayEnded. Lock must be held.
func (n *Notifier) AdvanceEpoch() int {
	n.epoch++
	return n.failAll(errors.ErrDayEnded)
}

// Close fails every registered waiter with err and rejects future waits.
// Lock must be held.
func (n *Notifier) Close(err error) int {
	if n.closed == nil {
		n.closed = err
	}
	return n.failAll(err)
}

func (n *Notifier) failAll(err error) int {
	var all []*waiter
	seen := make(map[*waiter]struct{})
	for _, set := range n.interest {
		for w := range set {
			if _, ok := seen[w]; !ok {
				seen[w] = struct{}{}
				all = append(all, w)
			}
		}
	}
	for _, w := range all {
		n.deregister(w)
		w.resolve(err)
	}
	return len(all)
}

func (n *Notifier) register(w *waiter) {
	for _, p := range w.products {
		set, ok := n.interest[p]
		if !ok {
			set = make(map[*waiter]struct{})
			n.interest[p] = set
		}
		set[w] = struct{}{}
	}
	n.waiting++
}

func (n *Notifier) deregister(w *waiter) {
	for _, p := range w.products {
		set := n.interest[p]
		delete(set, w)
		if len(set) == 0 {
			delete(n.interest, p)
		}
	}
	n.waiting--
}

// Interested returns how many waiters are registered under product.
// Lock must be held.
func (n *Notifier) Interested(product string) int {
	return len(n.interest[product])
}

func dedupe(products []string) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		dup := false
		for _, q := range out {
			if q == p {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}
