package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/salesdb/internal/errors"
)

// fakeDay is a minimal current day guarded by the notifier's lock.
type fakeDay struct {
	mu     sync.Mutex
	counts map[string]int
	n      *Notifier
}

func newFakeDay() *fakeDay {
	d := &fakeDay{counts: make(map[string]int)}
	d.n = New(&d.mu)
	return d
}

func (d *fakeDay) record(product string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[product]++
	d.n.Notify(product)
}

func (d *fakeDay) rollover() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts = make(map[string]int)
	d.n.AdvanceEpoch()
}

func (d *fakeDay) waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n.Waiting()
}

func (d *fakeDay) awaitBoth(ctx context.Context, a, b string) error {
	return d.n.Await(ctx, []string{a, b}, d.n.Epoch(), func() bool {
		return d.counts[a] > 0 && d.counts[b] > 0
	})
}

func (d *fakeDay) awaitCount(ctx context.Context, p string, n int) error {
	return d.n.Await(ctx, []string{p}, d.n.Epoch(), func() bool {
		return d.counts[p] >= n
	})
}

func waitForWaiters(t *testing.T, d *fakeDay, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return d.waiting() == n }, time.Second, time.Millisecond)
}

func TestAwait_AlreadySatisfied(t *testing.T) {
	d := newFakeDay()
	d.record("a")
	d.record("b")

	require.NoError(t, d.awaitBoth(context.Background(), "a", "b"))
	assert.Equal(t, 0, d.waiting())
}

func TestAwait_SimultaneousWakesOnlyWhenBothSold(t *testing.T) {
	d := newFakeDay()
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- d.awaitBoth(context.Background(), "a", "b") }()
	}
	waitForWaiters(t, d, 2)

	d.record("a")
	select {
	case err := <-done:
		t.Fatalf("waiter released after one product: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	d.record("b")
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter not released")
		}
	}
	assert.Equal(t, 0, d.waiting())
}

func TestAwait_ConsecutiveReleasesOnNthEvent(t *testing.T) {
	d := newFakeDay()
	done := make(chan error, 1)
	go func() { done <- d.awaitCount(context.Background(), "p", 3) }()
	waitForWaiters(t, d, 1)

	d.record("p")
	d.record("p")
	d.record("other")
	select {
	case <-done:
		t.Fatal("released before third event")
	case <-time.After(50 * time.Millisecond):
	}

	d.record("p")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("not released on third event")
	}
}

func TestAwait_RolloverInvalidates(t *testing.T) {
	d := newFakeDay()
	done := make(chan error, 2)
	go func() { done <- d.awaitBoth(context.Background(), "a", "b") }()
	go func() { done <- d.awaitCount(context.Background(), "c", 10) }()
	waitForWaiters(t, d, 2)

	d.record("a")
	d.rollover()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, errors.ErrDayEnded)
		case <-time.After(time.Second):
			t.Fatal("waiter hung across rollover")
		}
	}
	assert.Equal(t, 0, d.waiting())
}

func TestAwait_StaleEpoch(t *testing.T) {
	d := newFakeDay()
	epoch := d.n.Epoch()
	d.rollover()

	err := d.n.Await(context.Background(), []string{"a"}, epoch, func() bool { return true })
	assert.ErrorIs(t, err, errors.ErrDayEnded)
}

func TestAwait_ContextCancelDeregisters(t *testing.T) {
	d := newFakeDay()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.awaitCount(ctx, "p", 1) }()
	waitForWaiters(t, d, 1)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancel ignored")
	}
	assert.Equal(t, 0, d.waiting())

	d.mu.Lock()
	assert.Equal(t, 0, d.n.Interested("p"))
	d.mu.Unlock()
}

func TestAwait_SameProductTwice(t *testing.T) {
	d := newFakeDay()
	done := make(chan error, 1)
	go func() { done <- d.awaitBoth(context.Background(), "a", "a") }()
	waitForWaiters(t, d, 1)

	d.mu.Lock()
	assert.Equal(t, 1, d.n.Interested("a"))
	d.mu.Unlock()

	d.record("a")
	require.NoError(t, <-done)
}

func TestClose_FailsWaitersAndRejectsNew(t *testing.T) {
	d := newFakeDay()
	done := make(chan error, 1)
	go func() { done <- d.awaitCount(context.Background(), "p", 1) }()
	waitForWaiters(t, d, 1)

	d.mu.Lock()
	d.n.Close(errors.ErrStoreClosed)
	d.mu.Unlock()

	assert.ErrorIs(t, <-done, errors.ErrStoreClosed)
	assert.ErrorIs(t, d.awaitCount(context.Background(), "p", 1), errors.ErrStoreClosed)
}
