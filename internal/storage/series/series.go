// Package series implements the closed-day event series.
//
// A Series is immutable once created: its raw events may be evicted from
// memory and reloaded from the day file any number of times, but the
// per-product aggregates computed from them never change. Aggregates are
// therefore cached for the lifetime of the Series regardless of residency.
package series

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	salesErrors "github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/logging"
	"github.com/xtxerr/salesdb/internal/storage/dayfile"
	"github.com/xtxerr/salesdb/internal/storage/types"
)

var log = logging.Component("series")

// ErrEvicted is returned by the non-loading accessors when the raw events
// are needed but not resident.
var ErrEvicted = errors.New("series evicted")

// entry is one cached per-product aggregate. ok is false when the product
// had no sales that day; the absence is cached as well.
type entry struct {
	stats  types.Stats
	ok     bool
	sketch *ddsketch.DDSketch
}

// Series holds the events of one closed day.
//
// Series is safe for concurrent use. Cached reads take the shared lock;
// computing an aggregate, evicting and reloading take the exclusive lock.
type Series struct {
	id       int
	dir      string
	accuracy float64

	mu     sync.RWMutex
	events types.Day // nil when evicted
	cache  map[string]entry
}

// New creates a resident Series for day id from the frozen events.
// The caller must not modify events afterwards.
func New(id int, dir string, events types.Day, accuracy float64) *Series {
	if events == nil {
		events = types.Day{}
	}
	return &Series{
		id:       id,
		dir:      dir,
		accuracy: accuracy,
		events:   events,
		cache:    make(map[string]entry),
	}
}

// ID returns the day ID, which is also the day file key.
func (s *Series) ID() int { return s.id }

// IsResident reports whether the raw events are held in memory.
func (s *Series) IsResident() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events != nil
}

// Evict discards the raw events. Cached aggregates are kept. Idempotent.
func (s *Series) Evict() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// Persist writes the series to its day file.
// It must be called while the series is still resident.
func (s *Series) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.events == nil {
		return fmt.Errorf("persist day %d: %w", s.id, ErrEvicted)
	}
	if err := dayfile.Write(s.dir, s.id, s.events); err != nil {
		return fmt.Errorf("persist day %d: %w", s.id, err)
	}
	return nil
}

// Reload reads the day file back into memory. It is a no-op when the series
// is already resident or when the file does not exist.
func (s *Series) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *Series) reloadLocked() error {
	if s.events != nil {
		return nil
	}

	day, err := dayfile.Read(s.dir, s.id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("day file missing", "day_id", s.id)
			return nil
		}
		return fmt.Errorf("reload day %d: %w: %v", s.id, salesErrors.ErrDayUnavailable, err)
	}
	s.events = day
	return nil
}

// Destroy drops the raw events and deletes the day file.
func (s *Series) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	return dayfile.Remove(s.dir, s.id)
}

// AggregateFor returns the aggregate of product for this day, loading the
// raw events from disk when needed. ok is false when the product did not
// sell that day.
func (s *Series) AggregateFor(product string) (types.Stats, bool, error) {
	e, err := s.lookup(product, true)
	return e.stats, e.ok, err
}

// CachedAggregate is AggregateFor without disk access. It returns ErrEvicted
// when the aggregate is not cached and the events are not resident.
func (s *Series) CachedAggregate(product string) (types.Stats, bool, error) {
	e, err := s.lookup(product, false)
	return e.stats, e.ok, err
}

// PriceSketch returns a copy of the quantity-weighted price sketch of product.
// The copy may be merged into by the caller.
func (s *Series) PriceSketch(product string, load bool) (*ddsketch.DDSketch, error) {
	e, err := s.lookup(product, load)
	if err != nil || !e.ok || e.sketch == nil {
		return nil, err
	}
	return e.sketch.Copy(), nil
}

// lookup returns the cached entry, computing it on first use.
func (s *Series) lookup(product string, load bool) (entry, error) {
	s.mu.RLock()
	e, ok := s.cache[product]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have filled the cache while we waited.
	if e, ok := s.cache[product]; ok {
		return e, nil
	}

	if s.events == nil {
		if !load {
			return entry{}, ErrEvicted
		}
		if err := s.reloadLocked(); err != nil {
			return entry{}, err
		}
		if s.events == nil {
			return entry{}, fmt.Errorf("day %d: %w", s.id, salesErrors.ErrDayUnavailable)
		}
	}

	e = s.compute(s.events[product])
	s.cache[product] = e
	return e, nil
}

func (s *Series) compute(events types.Series) entry {
	stats, ok := types.Compute(events)
	if !ok {
		return entry{}
	}

	sketch, err := ddsketch.NewDefaultDDSketch(s.accuracy)
	if err != nil {
		log.Debug("price sketch disabled", "day_id", s.id, "error", err)
		return entry{stats: stats, ok: true}
	}
	for _, ev := range events {
		if err := sketch.AddWithCount(ev.Price, float64(ev.Quantity)); err != nil {
			log.Debug("price sketch add failed", "day_id", s.id, "error", err)
		}
	}
	return entry{stats: stats, ok: true, sketch: sketch}
}

// Events returns a copy of the raw events of product. It returns ErrEvicted
// when the series is not resident and load is false.
func (s *Series) Events(product string, load bool) (types.Series, bool, error) {
	s.mu.RLock()
	if s.events != nil {
		events, ok := s.events[product]
		s.mu.RUnlock()
		return events.Clone(), ok && len(events) > 0, nil
	}
	s.mu.RUnlock()

	if !load {
		return nil, false, ErrEvicted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, false, err
	}
	if s.events == nil {
		return nil, false, fmt.Errorf("day %d: %w", s.id, salesErrors.ErrDayUnavailable)
	}
	events, ok := s.events[product]
	return events.Clone(), ok && len(events) > 0, nil
}

// Snapshot returns a copy of every raw event of the day, loading the day
// file when the series is evicted. The series stays in its current
// residency state.
func (s *Series) Snapshot() (types.Day, error) {
	s.mu.RLock()
	if s.events != nil {
		day := s.events.Clone()
		s.mu.RUnlock()
		return day, nil
	}
	s.mu.RUnlock()

	day, err := dayfile.Read(s.dir, s.id)
	if err != nil {
		return nil, fmt.Errorf("snapshot day %d: %w: %v", s.id, salesErrors.ErrDayUnavailable, err)
	}
	return day, nil
}

// Products lists the products sold that day in lexical order.
// It returns ErrEvicted when the series is not resident.
func (s *Series) Products() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.events == nil {
		return nil, ErrEvicted
	}
	names := make([]string, 0, len(s.events))
	for name := range s.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CachedProducts returns how many per-product aggregates are cached.
func (s *Series) CachedProducts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
