// Package sync provides synchronization primitives shared by the client and
// the server.
package sync

import (
	"sync"
)

// ErrLatch records the first error of a group of goroutines and broadcasts
// it by closing a channel. Later errors are dropped. Once tripped it stays
// tripped; build a new latch for a new connection.
//
// The zero value is ready to use. ErrLatch is safe for concurrent use.
//
// Example usage:
//
//	var failed ErrLatch
//
//	// reader goroutine
//	if err := conn.Receive(); err != nil {
//		failed.Trip(err)
//	}
//
//	// caller
//	select {
//	case resp := <-slot:
//	case <-failed.Done():
//		return failed.Err()
//	}
type ErrLatch struct {
	mu   sync.Mutex
	done chan struct{}
	err  error
}

// closedChan is returned by Done for a latch tripped before Done was first
// called, so no channel is allocated for it.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Trip records err and releases every Done waiter. It returns true if this
// call tripped the latch. A nil err trips the latch with ErrTripped.
func (l *ErrLatch) Trip(err error) bool {
	if err == nil {
		err = ErrTripped
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return false
	}
	l.err = err
	if l.done == nil {
		l.done = closedChan
	} else {
		close(l.done)
	}
	return true
}

// Done returns a channel closed when the latch trips.
func (l *ErrLatch) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done == nil {
		l.done = make(chan struct{})
	}
	return l.done
}

// Err returns the error the latch tripped with, or nil.
func (l *ErrLatch) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Tripped reports whether Trip has been called.
func (l *ErrLatch) Tripped() bool {
	return l.Err() != nil
}

type trippedError struct{}

func (trippedError) Error() string { return "latch tripped" }

// ErrTripped is recorded when Trip is called with a nil error.
var ErrTripped error = trippedError{}
