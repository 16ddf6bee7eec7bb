package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/salesdb/internal/auth"
	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/logging"
	"github.com/xtxerr/salesdb/internal/storage/archive"
	"github.com/xtxerr/salesdb/internal/storage/config"
	"github.com/xtxerr/salesdb/internal/storage/notify"
	"github.com/xtxerr/salesdb/internal/storage/residency"
	"github.com/xtxerr/salesdb/internal/storage/retention"
	"github.com/xtxerr/salesdb/internal/storage/series"
	"github.com/xtxerr/salesdb/internal/storage/types"
	"github.com/xtxerr/salesdb/internal/validation"
)

var log = logging.Component("storage")

// Store is the retention engine.
//
// Lock order: cur before window, window before any series lock. The
// notifier shares cur, so Notify and AdvanceEpoch run inside the same
// critical sections that write the current day.
type Store struct {
	cfg         *config.Config
	users       auth.Directory
	archiveOpts archive.Options
	sweeper     *retention.Manager
	now         func() time.Time

	cur      sync.RWMutex
	today    types.Day
	notifier *notify.Notifier
	nextID   int
	closed   bool

	window      sync.RWMutex
	days        []*series.Series // days[i] is days-ago position i+1
	resident    *residency.Set
	unpersisted map[int]bool // day IDs whose day file could not be written
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store. Day files left in the data directory by an
// earlier process are removed when cfg.SweepOnStart is set, since the
// retention window itself is not recovered.
func New(cfg *config.Config, users auth.Directory, opts ...Option) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	if users == nil {
		users = auth.NewMemoryDirectory(0)
	}

	retCfg := retention.Config{DataDir: cfg.DataDir}
	if cfg.Archive.Enabled {
		retCfg.ArchiveDir = cfg.ArchiveDir()
		retCfg.ArchiveKeep = cfg.Archive.Keep
	}

	s := &Store{
		cfg:         cfg,
		users:       users,
		archiveOpts: archive.Options{Compression: archive.ParseCompressionType(cfg.Archive.Compression)},
		sweeper:     retention.New(retCfg),
		now:         time.Now,
		today:       make(types.Day),
		nextID:      1,
		resident:    residency.New(cfg.ResidentDays),
		unpersisted: make(map[int]bool),
	}
	s.notifier = notify.New(&s.cur)
	for _, opt := range opts {
		opt(s)
	}

	if cfg.SweepOnStart {
		res := s.sweeper.Sweep(nil)
		for _, err := range res.Errors {
			log.Warn("startup sweep", "error", err)
		}
		days, archives := s.sweeper.DiskUsage()
		log.Info("startup sweep done",
			"deleted", res.FilesDeleted,
			"freed_bytes", res.BytesFreed,
			"day_files", days.FileCount,
			"archives", archives.FileCount)
	}

	return s, nil
}

// Config returns the store configuration.
func (s *Store) Config() *config.Config { return s.cfg }

// Close fails every blocked wait with ErrStoreClosed and rejects further
// writes and rollovers. Closed days already on disk are left in place.
func (s *Store) Close() error {
	s.cur.Lock()
	defer s.cur.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if n := s.notifier.Close(errors.ErrStoreClosed); n > 0 {
		waitsTotal.WithLabelValues(outcomeCancelled).Add(float64(n))
		log.Info("store closed", "failed_waiters", n)
	}
	return nil
}

// =============================================================================
// Users
// =============================================================================

// RegisterUser creates a user. It returns false if the name is taken.
func (s *Store) RegisterUser(ctx context.Context, user, pass string) (bool, error) {
	err := s.users.Register(ctx, user, pass)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errors.ErrUserExists):
		return false, nil
	default:
		return false, err
	}
}

// Authenticate reports whether pass matches the stored hash of user.
func (s *Store) Authenticate(ctx context.Context, user, pass string) (bool, error) {
	err := s.users.Authenticate(ctx, user, pass)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errors.ErrInvalidCredentials):
		return false, nil
	default:
		return false, err
	}
}

// =============================================================================
// Current day
// =============================================================================

// RecordEvent appends a sale to the current day and wakes the waiters
// interested in product. The append and the wake-up are atomic with respect
// to every predicate check.
func (s *Store) RecordEvent(product string, qty int32, price float64) error {
	if err := validation.ValidateProduct(product); err != nil {
		return err
	}
	if err := validation.ValidateQuantity(qty); err != nil {
		return err
	}
	if err := validation.ValidatePrice(price); err != nil {
		return err
	}

	s.cur.Lock()
	defer s.cur.Unlock()

	if s.closed {
		return errors.ErrStoreClosed
	}

	s.today[product] = append(s.today[product], types.Event{
		Quantity:  qty,
		Price:     price,
		Timestamp: s.now().UnixMilli(),
	})
	eventsRecordedTotal.Inc()

	if woken := s.notifier.Notify(product); woken > 0 {
		waitsTotal.WithLabelValues(outcomeSatisfied).Add(float64(woken))
	}
	return nil
}

// Today returns the running aggregate of product for the current day.
func (s *Store) Today(product string) (types.Stats, error) {
	if err := validation.ValidateProduct(product); err != nil {
		return types.Stats{}, err
	}

	s.cur.RLock()
	defer s.cur.RUnlock()

	st, _ := types.Compute(s.today[product])
	return st, nil
}

// Epoch returns the current day epoch. Blocking waits capture it on entry.
func (s *Store) Epoch() uint64 {
	return s.notifier.Epoch()
}

// =============================================================================
// Rollover
// =============================================================================

// AdvanceDay closes the current day and rotates the retention window.
//
// The closed day is persisted and enters residency at position 1, every
// other position moves up by one, the day leaving position D is archived
// (if enabled) and destroyed, residency is trimmed back to S and every
// outstanding wait is invalidated. It returns the ID of the closed day.
func (s *Store) AdvanceDay() (int, error) {
	s.cur.Lock()
	defer s.cur.Unlock()

	if s.closed {
		return 0, errors.ErrStoreClosed
	}

	s.window.Lock()
	defer s.window.Unlock()

	id := s.nextID
	s.nextID++

	closed := series.New(id, s.cfg.DataDir, s.today, s.cfg.SketchAccuracy)
	if err := closed.Persist(); err != nil {
		persistErrorsTotal.Inc()
		s.unpersisted[id] = true
		log.Warn("persist failed, day kept in memory", "day_id", id, "error", err)
	}

	maxPos := s.cfg.RetentionDays
	if len(s.days) == maxPos {
		s.retireLocked(s.days[maxPos-1])
		s.days = s.days[:maxPos-1]
	}
	s.days = append([]*series.Series{closed}, s.days...)

	s.resident.Shift(maxPos)
	s.resident.Add(1)
	for _, pos := range s.resident.Trim() {
		s.evictLocked(pos)
	}

	if s.cfg.Archive.Enabled && s.cfg.Archive.Keep > 0 {
		res := s.sweeper.Sweep(s.isLiveLocked)
		for _, err := range res.Errors {
			log.Warn("archive prune", "error", err)
		}
	}

	s.today = make(types.Day)
	invalidated := s.notifier.AdvanceEpoch()

	rolloversTotal.Inc()
	retainedDays.Set(float64(len(s.days)))
	residentDays.Set(float64(s.resident.Len()))
	if invalidated > 0 {
		waitsTotal.WithLabelValues(outcomeInvalidated).Add(float64(invalidated))
	}

	log.Info("day closed",
		"day_id", id,
		"epoch", s.notifier.EpochLocked(),
		"retained", len(s.days),
		"resident", s.resident.Len(),
		"invalidated_waits", invalidated)
	return id, nil
}

// retireLocked archives and destroys a day leaving the window.
// Caller holds window exclusively.
func (s *Store) retireLocked(old *series.Series) {
	id := old.ID()

	if s.cfg.Archive.Enabled {
		if day, err := old.Snapshot(); err != nil {
			log.Warn("archive skipped", "day_id", id, "error", err)
		} else if path, err := archive.WriteDay(s.cfg.ArchiveDir(), id, day, s.archiveOpts); err != nil {
			log.Warn("archive failed", "day_id", id, "error", err)
		} else {
			archivedTotal.Inc()
			log.Debug("day archived", "day_id", id, "path", path)
		}
	}

	if err := old.Destroy(); err != nil {
		log.Warn("remove day file", "day_id", id, "error", err)
	}
	delete(s.unpersisted, id)
}

// isLiveLocked reports whether dayID belongs to the window.
func (s *Store) isLiveLocked(dayID int) bool {
	for _, d := range s.days {
		if d.ID() == dayID {
			return true
		}
	}
	return false
}

// evictLocked drops the raw events of the day at pos. A day whose file was
// never written gets one more persist attempt; if that fails too, its
// aggregates are computed first so window queries still see it.
func (s *Store) evictLocked(pos int) {
	if pos < 1 || pos > len(s.days) {
		return
	}
	sr := s.days[pos-1]

	if s.unpersisted[sr.ID()] {
		if err := sr.Persist(); err == nil {
			delete(s.unpersisted, sr.ID())
		} else {
			persistErrorsTotal.Inc()
			warmCache(sr)
			log.Warn("evicting unpersisted day", "day_id", sr.ID(), "error", err)
		}
	}

	sr.Evict()
	evictionsTotal.Inc()
	log.Debug("day evicted", "day_id", sr.ID(), "position", pos)
}

func warmCache(sr *series.Series) {
	products, err := sr.Products()
	if err != nil {
		return
	}
	for _, p := range products {
		_, _, _ = sr.CachedAggregate(p)
	}
}

// Run closes a day every cfg.DayLength until ctx is done. It returns at once
// when no day length is configured.
func (s *Store) Run(ctx context.Context) error {
	if s.cfg.DayLength <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.cfg.DayLength)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.AdvanceDay(); err != nil {
				if errors.Is(err, errors.ErrStoreClosed) {
					return nil
				}
				log.Error("scheduled rollover", "error", err)
			}
		}
	}
}

// =============================================================================
// Status
// =============================================================================

// Status is a point-in-time view of the engine.
type Status struct {
	Epoch    uint64
	DayID    int // ID the current day receives when it closes
	Retained int
	Resident int
	Waiters  int
	Today    int // events recorded on the current day
}

// Status reports the engine state.
func (s *Store) Status() Status {
	s.cur.RLock()
	defer s.cur.RUnlock()
	s.window.RLock()
	defer s.window.RUnlock()

	return Status{
		Epoch:    s.notifier.EpochLocked(),
		DayID:    s.nextID,
		Retained: len(s.days),
		Resident: s.resident.Len(),
		Waiters:  s.notifier.Waiting(),
		Today:    s.today.EventCount(),
	}
}
