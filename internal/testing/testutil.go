// Package testing provides test helpers for salesdb.
//
// Using t.Fatal() or t.FailNow() in goroutines causes undefined behavior because
// these methods call runtime.Goexit() which only terminates the current goroutine,
// not the test goroutine. GoroutineTest collects errors instead and reports
// them from the test goroutine.
package testing

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// GoroutineTest runs functions concurrently and fails the test with the
// first error once Wait is called.
//
//	gt := salestest.NewGoroutineTest(t, 5*time.Second)
//	for i := 0; i < 10; i++ {
//	    gt.Go(func(ctx context.Context) error {
//	        _, err := c.AddEvent(ctx, "apples", 1, 1)
//	        return err
//	    })
//	}
//	gt.Wait()
type GoroutineTest struct {
	t      *testing.T
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a GoroutineTest whose context expires after
// timeout. The context is also cancelled as soon as one function fails.
func NewGoroutineTest(t *testing.T, timeout time.Duration) *GoroutineTest {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	g, gctx := errgroup.WithContext(ctx)
	t.Cleanup(cancel)
	return &GoroutineTest{t: t, g: g, ctx: gctx, cancel: cancel}
}

// Go runs fn in a goroutine. fn must return an error instead of calling
// t.Fatal.
func (gt *GoroutineTest) Go(fn func(ctx context.Context) error) {
	gt.g.Go(func() error { return fn(gt.ctx) })
}

// Wait blocks until every function returned and fails the test if any of
// them returned an error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	err := gt.g.Wait()
	gt.cancel()
	if err != nil {
		gt.t.Fatalf("goroutine failed: %v", err)
	}
}

// Context returns the shared context.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}
