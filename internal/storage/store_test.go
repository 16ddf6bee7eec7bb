package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtxerr/salesdb/internal/auth"
	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/storage/archive"
	"github.com/xtxerr/salesdb/internal/storage/config"
	"github.com/xtxerr/salesdb/internal/storage/dayfile"
	"github.com/xtxerr/salesdb/internal/storage/types"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, mutate func(*config.Config)) *Store {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg, auth.NewMemoryDirectory(bcrypt.MinCost), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s *Store, product string, qty int32, price float64) {
	t.Helper()
	require.NoError(t, s.RecordEvent(product, qty, price))
}

func advance(t *testing.T, s *Store) int {
	t.Helper()
	id, err := s.AdvanceDay()
	require.NoError(t, err)
	return id
}

// =============================================================================
// Aggregates
// =============================================================================

func TestStore_ApplesExample(t *testing.T) {
	s := newTestStore(t, nil)

	record(t, s, "apples", 10, 2.0)
	record(t, s, "apples", 5, 3.0)
	advance(t, s)

	qty, err := s.TotalQuantity("apples", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(15), qty)

	vol, err := s.TotalVolume("apples", 1)
	require.NoError(t, err)
	assert.Equal(t, 35.0, vol)

	max, err := s.MaxPrice("apples", 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, max)

	avg, err := s.AveragePrice("apples", 1)
	require.NoError(t, err)
	assert.InDelta(t, 35.0/15.0, avg, 1e-12)
}

func TestStore_WindowSumsAcrossDays(t *testing.T) {
	s := newTestStore(t, nil)

	record(t, s, "apples", 1, 1.0)
	advance(t, s)
	advance(t, s) // empty day
	record(t, s, "apples", 2, 4.0)
	advance(t, s)

	qty, err := s.TotalQuantity("apples", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), qty)

	qty, err = s.TotalQuantity("apples", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), qty)

	// Positions past the last closed day are skipped.
	qty, err = s.TotalQuantity("apples", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), qty)

	max, err := s.MaxPrice("apples", 3)
	require.NoError(t, err)
	assert.Equal(t, 4.0, max)
}

func TestStore_NeverSoldYieldsZero(t *testing.T) {
	s := newTestStore(t, nil)
	record(t, s, "apples", 1, 1.0)
	advance(t, s)

	avg, err := s.AveragePrice("kiwis", 1)
	require.NoError(t, err)
	assert.Zero(t, avg)

	max, err := s.MaxPrice("kiwis", 1)
	require.NoError(t, err)
	assert.Zero(t, max)
}

func TestStore_CurrentDayNotInWindow(t *testing.T) {
	s := newTestStore(t, nil)
	record(t, s, "apples", 3, 1.0)

	qty, err := s.TotalQuantity("apples", 1)
	require.NoError(t, err)
	assert.Zero(t, qty)

	today, err := s.Today("apples")
	require.NoError(t, err)
	assert.Equal(t, 1, today.Count)
	assert.Equal(t, int64(3), today.TotalQuantity)
}

func TestStore_Validation(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) { c.RetentionDays = 3 })

	assert.ErrorIs(t, s.RecordEvent("", 1, 1), errors.ErrInvalidProduct)
	assert.ErrorIs(t, s.RecordEvent("apples", 0, 1), errors.ErrInvalidQuantity)
	assert.ErrorIs(t, s.RecordEvent("apples", -2, 1), errors.ErrInvalidQuantity)
	assert.ErrorIs(t, s.RecordEvent("apples", 1, -0.5), errors.ErrInvalidPrice)

	_, err := s.TotalQuantity("apples", 0)
	assert.ErrorIs(t, err, errors.ErrInvalidDays)
	_, err = s.TotalQuantity("apples", 4)
	assert.ErrorIs(t, err, errors.ErrInvalidDays)
	_, err = s.TotalVolume("", 1)
	assert.ErrorIs(t, err, errors.ErrInvalidProduct)
	_, err = s.FilteredEvents(nil, 1)
	assert.ErrorIs(t, err, errors.ErrInvalidProduct)
	_, err = s.PriceQuantile("apples", 1, 1.5)
	assert.ErrorIs(t, err, errors.ErrInvalidQuantile)
}

func TestStore_ConcurrentRecordEvent(t *testing.T) {
	s := newTestStore(t, nil)

	const writers, perWriter = 32, 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				assert.NoError(t, s.RecordEvent("apples", 1, 1.0))
			}
		}()
	}
	wg.Wait()

	today, err := s.Today("apples")
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, today.Count)

	advance(t, s)
	qty, err := s.TotalQuantity("apples", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), qty)
}

// =============================================================================
// Retention and residency
// =============================================================================

func TestStore_RetentionBound(t *testing.T) {
	const d = 3
	s := newTestStore(t, func(c *config.Config) { c.RetentionDays = d })

	record(t, s, "apples", 7, 1.0)
	first := advance(t, s)
	require.FileExists(t, dayfile.Path(s.cfg.DataDir, first))

	for i := 0; i < d; i++ {
		record(t, s, "apples", 1, 1.0)
		advance(t, s)
	}

	assert.NoFileExists(t, dayfile.Path(s.cfg.DataDir, first))
	qty, err := s.TotalQuantity("apples", d)
	require.NoError(t, err)
	assert.Equal(t, int64(d), qty)
	assert.Equal(t, d, s.Status().Retained)
}

func TestStore_ResidencyTrimmedAtRollover(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) {
		c.RetentionDays = 5
		c.ResidentDays = 2
	})

	for i := 0; i < 5; i++ {
		record(t, s, "apples", int32(i+1), 1.0)
		advance(t, s)
		assert.LessOrEqual(t, s.ResidentCount(), 2)
	}

	assert.Equal(t, []int{2, 1}, s.ResidentPositions())
	assert.True(t, s.days[0].IsResident())
	assert.True(t, s.days[1].IsResident())
	assert.False(t, s.days[2].IsResident())
}

func TestStore_ResidencyEvictsLeastRecentlyUsed(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) {
		c.RetentionDays = 5
		c.ResidentDays = 2
	})
	for i := 0; i < 5; i++ {
		record(t, s, "apples", 1, 1.0)
		advance(t, s)
	}
	require.Equal(t, []int{2, 1}, s.ResidentPositions())

	// Position 2 is least recently used and must be the one to go.
	require.NoError(t, s.EnsureResident(4))
	assert.Equal(t, []int{1, 4}, s.ResidentPositions())
	assert.False(t, s.days[1].IsResident())
	assert.True(t, s.days[3].IsResident())

	require.NoError(t, s.EnsureResident(1))
	assert.Equal(t, []int{4, 1}, s.ResidentPositions())

	require.NoError(t, s.EnsureResident(3))
	assert.Equal(t, []int{1, 3}, s.ResidentPositions())
	assert.False(t, s.days[3].IsResident())
	assert.Equal(t, 2, s.ResidentCount())
}

func TestStore_QueryPagesInAndKeepsBound(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) {
		c.RetentionDays = 4
		c.ResidentDays = 1
	})
	for i := 0; i < 4; i++ {
		record(t, s, "apples", int32(i+1), 1.0)
		advance(t, s)
	}

	qty, err := s.TotalQuantity("apples", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1+2+3+4), qty)
	assert.Equal(t, 1, s.ResidentCount())
	assert.Equal(t, []int{4}, s.ResidentPositions())
}

func TestStore_EvictReloadIdempotent(t *testing.T) {
	s := newTestStore(t, nil)
	record(t, s, "apples", 10, 2.0)
	record(t, s, "apples", 5, 3.0)
	record(t, s, "pears", 1, 0.5)
	advance(t, s)

	before, err := s.WindowStats("apples", 1)
	require.NoError(t, err)
	eventsBefore, err := s.FilteredEvents([]string{"apples", "pears"}, 1)
	require.NoError(t, err)

	s.EvictAll()
	assert.Equal(t, 0, s.ResidentCount())

	after, err := s.WindowStats("apples", 1)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	eventsAfter, err := s.FilteredEvents([]string{"apples", "pears"}, 1)
	require.NoError(t, err)
	assert.Equal(t, eventsBefore, eventsAfter)
	assert.Equal(t, 1, s.ResidentCount())
}

func TestStore_ConcurrentQueriesDuringRollover(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) {
		c.RetentionDays = 6
		c.ResidentDays = 2
	})
	for i := 0; i < 6; i++ {
		record(t, s, "apples", 1, 1.0)
		advance(t, s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for ctx.Err() == nil {
				_, err := s.TotalQuantity("apples", 1+i%6)
				assert.NoError(t, err)
				_, err = s.FilteredEvents([]string{"apples"}, 1+i%6)
				assert.NoError(t, err)
			}
		}(i)
	}

	for i := 0; i < 20; i++ {
		record(t, s, "apples", 1, 1.0)
		advance(t, s)
	}
	cancel()
	wg.Wait()

	assert.LessOrEqual(t, s.ResidentCount(), 2)
	qty, err := s.TotalQuantity("apples", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(6), qty)
}

// =============================================================================
// Filter and quantile
// =============================================================================

func TestStore_FilteredEvents(t *testing.T) {
	s := newTestStore(t, nil)
	record(t, s, "apples", 10, 2.0)
	record(t, s, "pears", 1, 0.5)
	record(t, s, "apples", 5, 3.0)
	advance(t, s)

	got, err := s.FilteredEvents([]string{"apples", "kiwis"}, 1)
	require.NoError(t, err)

	ts := fixedNow.UnixMilli()
	assert.Equal(t, map[string]types.Series{
		"apples": {
			{Quantity: 10, Price: 2.0, Timestamp: ts},
			{Quantity: 5, Price: 3.0, Timestamp: ts},
		},
	}, got)

	empty, err := s.FilteredEvents([]string{"apples"}, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_PriceQuantile(t *testing.T) {
	s := newTestStore(t, nil)
	for p := 1; p <= 100; p++ {
		record(t, s, "apples", 1, float64(p))
	}
	advance(t, s)
	record(t, s, "apples", 100, 1000)
	advance(t, s)

	median, err := s.PriceQuantile("apples", 1, 0.5)
	require.NoError(t, err)
	assert.InEpsilon(t, 1000, median, 0.02)

	median, err = s.PriceQuantile("apples", 2, 0.25)
	require.NoError(t, err)
	assert.InEpsilon(t, 50, median, 0.03)

	none, err := s.PriceQuantile("kiwis", 2, 0.5)
	require.NoError(t, err)
	assert.Zero(t, none)
}

// =============================================================================
// Blocking waits
// =============================================================================

func awaitAsync(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func TestStore_AwaitSimultaneous(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	epoch := s.Epoch()
	done := awaitAsync(func() error { return s.AwaitSimultaneous(ctx, "apples", "pears", epoch) })
	require.Eventually(t, func() bool { return s.Status().Waiters == 1 }, time.Second, time.Millisecond)

	record(t, s, "apples", 1, 1.0)
	record(t, s, "apples", 1, 1.0)
	select {
	case err := <-done:
		t.Fatalf("released after one product only: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	record(t, s, "pears", 1, 1.0)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait not released")
	}
}

func TestStore_AwaitConsecutive(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	epoch := s.Epoch()
	done := awaitAsync(func() error { return s.AwaitConsecutive(ctx, "apples", 3, epoch) })
	require.Eventually(t, func() bool { return s.Status().Waiters == 1 }, time.Second, time.Millisecond)

	record(t, s, "apples", 1, 1.0)
	record(t, s, "pears", 1, 1.0)
	record(t, s, "apples", 1, 1.0)
	select {
	case err := <-done:
		t.Fatalf("released before the third sale: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	record(t, s, "apples", 1, 1.0)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait not released")
	}
}

func TestStore_AwaitInvalidatedByRollover(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	epoch := s.Epoch()
	sim := awaitAsync(func() error { return s.AwaitSimultaneous(ctx, "apples", "pears", epoch) })
	cons := awaitAsync(func() error { return s.AwaitConsecutive(ctx, "apples", 5, epoch) })
	require.Eventually(t, func() bool { return s.Status().Waiters == 2 }, time.Second, time.Millisecond)

	record(t, s, "apples", 1, 1.0)
	advance(t, s)

	for _, ch := range []<-chan error{sim, cons} {
		select {
		case err := <-ch:
			assert.ErrorIs(t, err, errors.ErrDayEnded)
		case <-time.After(time.Second):
			t.Fatal("wait not invalidated")
		}
	}
	assert.Equal(t, 0, s.Status().Waiters)
}

func TestStore_AwaitStaleEpoch(t *testing.T) {
	s := newTestStore(t, nil)

	epoch := s.Epoch()
	advance(t, s)
	record(t, s, "apples", 1, 1.0)

	err := s.AwaitConsecutive(context.Background(), "apples", 1, epoch)
	assert.ErrorIs(t, err, errors.ErrDayEnded)
}

func TestStore_AwaitAlreadySatisfied(t *testing.T) {
	s := newTestStore(t, nil)
	record(t, s, "apples", 1, 1.0)
	record(t, s, "pears", 1, 1.0)

	require.NoError(t, s.AwaitSimultaneous(context.Background(), "apples", "pears", s.Epoch()))
	assert.ErrorIs(t, s.AwaitConsecutive(context.Background(), "apples", 0, s.Epoch()), errors.ErrInvalidCount)
}

func TestStore_AwaitCancelled(t *testing.T) {
	s := newTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := awaitAsync(func() error { return s.AwaitConsecutive(ctx, "apples", 2, s.Epoch()) })
	require.Eventually(t, func() bool { return s.Status().Waiters == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait not cancelled")
	}
	assert.Equal(t, 0, s.Status().Waiters)
}

func TestStore_CloseFailsWaiters(t *testing.T) {
	s := newTestStore(t, nil)

	done := awaitAsync(func() error { return s.AwaitConsecutive(context.Background(), "apples", 2, s.Epoch()) })
	require.Eventually(t, func() bool { return s.Status().Waiters == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrStoreClosed)
	case <-time.After(time.Second):
		t.Fatal("wait not failed on close")
	}

	assert.ErrorIs(t, s.RecordEvent("apples", 1, 1), errors.ErrStoreClosed)
	_, err := s.AdvanceDay()
	assert.ErrorIs(t, err, errors.ErrStoreClosed)
}

// =============================================================================
// Disk
// =============================================================================

func TestStore_PersistFailureServedFromMemory(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) {
		c.RetentionDays = 3
		c.ResidentDays = 1
	})

	// Replace the data dir by a plain file so day files cannot be written.
	require.NoError(t, os.RemoveAll(s.cfg.DataDir))
	require.NoError(t, os.WriteFile(s.cfg.DataDir, []byte("x"), 0644))

	record(t, s, "apples", 4, 2.0)
	advance(t, s)
	record(t, s, "apples", 1, 1.0)
	advance(t, s) // evicts the unpersisted first day

	qty, err := s.TotalQuantity("apples", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), qty)

	events, err := s.FilteredEvents([]string{"apples"}, 2)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStore_ArchivesAgedOutDay(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) {
		c.RetentionDays = 1
		c.Archive.Enabled = true
		c.Archive.Keep = 1
	})

	record(t, s, "apples", 3, 1.5)
	first := advance(t, s)
	record(t, s, "pears", 1, 1.0)
	second := advance(t, s)
	advance(t, s)

	got, err := archive.ReadDay(s.cfg.ArchiveDir(), second)
	require.NoError(t, err)
	assert.Equal(t, types.Day{"pears": {{Quantity: 1, Price: 1.0, Timestamp: fixedNow.UnixMilli()}}}, got)

	// Only the newest archive is kept.
	assert.NoFileExists(t, archive.Path(s.cfg.ArchiveDir(), first))
	assert.NoFileExists(t, dayfile.Path(s.cfg.DataDir, first))
	assert.NoFileExists(t, dayfile.Path(s.cfg.DataDir, second))
}

func TestStore_StartupSweep(t *testing.T) {
	dir := t.TempDir()
	stale := dayfile.Path(dir, 42)
	require.NoError(t, dayfile.Write(dir, 42, types.Day{"apples": {{Quantity: 1, Price: 1}}}))

	newTestStore(t, func(c *config.Config) { c.DataDir = dir })

	assert.NoFileExists(t, stale)
}

// =============================================================================
// Users, status, metrics
// =============================================================================

func TestStore_Users(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	ok, err := s.RegisterUser(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RegisterUser(ctx, "alice", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Authenticate(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.RegisterUser(ctx, "", "x")
	assert.ErrorIs(t, err, errors.ErrInvalidUsername)
}

func TestStore_Status(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) { c.ResidentDays = 1 })

	st := s.Status()
	assert.Equal(t, uint64(0), st.Epoch)
	assert.Equal(t, 1, st.DayID)

	record(t, s, "apples", 1, 1)
	advance(t, s)
	advance(t, s)
	record(t, s, "apples", 1, 1)

	st = s.Status()
	assert.Equal(t, uint64(2), st.Epoch)
	assert.Equal(t, 3, st.DayID)
	assert.Equal(t, 2, st.Retained)
	assert.Equal(t, 1, st.Resident)
	assert.Equal(t, 1, st.Today)
}

func TestStore_Metrics(t *testing.T) {
	s := newTestStore(t, nil)

	events := testutil.ToFloat64(eventsRecordedTotal)
	rollovers := testutil.ToFloat64(rolloversTotal)

	record(t, s, "apples", 1, 1)
	record(t, s, "apples", 1, 1)
	advance(t, s)

	assert.Equal(t, events+2, testutil.ToFloat64(eventsRecordedTotal))
	assert.Equal(t, rollovers+1, testutil.ToFloat64(rolloversTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(retainedDays))
}

func TestStore_RunClosesDays(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) { c.DayLength = 5 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Status().Retained >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
