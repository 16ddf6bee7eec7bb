package storage

import (
	"context"

	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/validation"
)

// AwaitSimultaneous blocks until the current day holds at least one sale of
// both a and b. It fails with ErrDayEnded if the day of epoch closes first.
func (s *Store) AwaitSimultaneous(ctx context.Context, a, b string, epoch uint64) error {
	if err := validation.ValidateProduct(a); err != nil {
		return err
	}
	if err := validation.ValidateProduct(b); err != nil {
		return err
	}

	return s.await(ctx, []string{a, b}, epoch, func() bool {
		return len(s.today[a]) > 0 && len(s.today[b]) > 0
	})
}

// AwaitConsecutive blocks until the current day holds at least n sales of
// product. It fails with ErrDayEnded if the day of epoch closes first.
func (s *Store) AwaitConsecutive(ctx context.Context, product string, n int, epoch uint64) error {
	if err := validation.ValidateProduct(product); err != nil {
		return err
	}
	if err := validation.ValidateCount(n); err != nil {
		return err
	}

	return s.await(ctx, []string{product}, epoch, func() bool {
		return len(s.today[product]) >= n
	})
}

func (s *Store) await(ctx context.Context, products []string, epoch uint64, pred func() bool) error {
	waitingRequests.Inc()
	err := s.notifier.Await(ctx, products, epoch, pred)
	waitingRequests.Dec()

	switch {
	case err == nil:
	case errors.Is(err, errors.ErrDayEnded):
		log.Debug("wait invalidated", "products", products, "epoch", epoch)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		waitsTotal.WithLabelValues(outcomeCancelled).Inc()
	}
	return err
}
