package storage

import (
	"fmt"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/storage/series"
	"github.com/xtxerr/salesdb/internal/storage/types"
	"github.com/xtxerr/salesdb/internal/validation"
)

// maxResidentAttempts bounds how often a reader retries after the day it
// paged in was evicted again before the reader got to it.
const maxResidentAttempts = 8

// =============================================================================
// Window queries
// =============================================================================

// TotalQuantity sums the quantity sold over days-ago positions 1..days.
func (s *Store) TotalQuantity(product string, days int) (int64, error) {
	st, err := s.windowStats(product, days)
	return st.TotalQuantity, err
}

// TotalVolume sums quantity × price over days-ago positions 1..days.
func (s *Store) TotalVolume(product string, days int) (float64, error) {
	st, err := s.windowStats(product, days)
	return st.TotalVolume, err
}

// AveragePrice returns volume / quantity over positions 1..days, or 0 when
// nothing was sold.
func (s *Store) AveragePrice(product string, days int) (float64, error) {
	st, err := s.windowStats(product, days)
	return st.AveragePrice(), err
}

// MaxPrice returns the greatest unit price over positions 1..days, or 0
// when nothing was sold.
func (s *Store) MaxPrice(product string, days int) (float64, error) {
	st, err := s.windowStats(product, days)
	return st.MaxPrice, err
}

// WindowStats merges the per-day aggregates of product over positions
// 1..days. Positions without a day, without sales of product or whose day
// could not be reloaded are skipped.
func (s *Store) WindowStats(product string, days int) (types.Stats, error) {
	return s.windowStats(product, days)
}

func (s *Store) windowStats(product string, days int) (types.Stats, error) {
	if err := s.validateWindow(product, days); err != nil {
		return types.Stats{}, err
	}

	var total types.Stats
	for _, sr := range s.snapshot(1, days) {
		var (
			st types.Stats
			ok bool
		)
		err := s.withSeries(sr, func(sr *series.Series) error {
			var err error
			st, ok, err = sr.CachedAggregate(product)
			return err
		})
		if err != nil {
			if errors.Is(err, errors.ErrDayUnavailable) {
				log.Warn("day skipped", "day_id", sr.ID(), "error", err)
				continue
			}
			return types.Stats{}, err
		}
		if ok {
			total.Merge(st)
		}
	}
	return total, nil
}

// PriceQuantile returns the q-quantile of the unit price over positions
// 1..days, weighted by quantity. The result is within the configured
// relative accuracy of the exact value. It returns 0 when nothing was sold.
func (s *Store) PriceQuantile(product string, days int, q float64) (float64, error) {
	if err := s.validateWindow(product, days); err != nil {
		return 0, err
	}
	if err := validation.ValidateQuantile(q); err != nil {
		return 0, err
	}

	var merged *ddsketch.DDSketch
	for _, sr := range s.snapshot(1, days) {
		var sketch *ddsketch.DDSketch
		err := s.withSeries(sr, func(sr *series.Series) error {
			var err error
			sketch, err = sr.PriceSketch(product, false)
			return err
		})
		if err != nil {
			if errors.Is(err, errors.ErrDayUnavailable) {
				log.Warn("day skipped", "day_id", sr.ID(), "error", err)
				continue
			}
			return 0, err
		}
		if sketch == nil {
			continue
		}
		if merged == nil {
			merged = sketch
			continue
		}
		if err := merged.MergeWith(sketch); err != nil {
			return 0, fmt.Errorf("merge price sketches: %w", err)
		}
	}

	if merged == nil || merged.IsEmpty() {
		return 0, nil
	}
	return merged.GetValueAtQuantile(q)
}

// FilteredEvents returns the raw events of the requested products for the
// single days-ago position days. Products without sales that day are
// omitted.
func (s *Store) FilteredEvents(products []string, days int) (map[string]types.Series, error) {
	if err := validation.ValidateProducts(products); err != nil {
		return nil, err
	}
	if err := validation.ValidateDays(days, s.cfg.RetentionDays); err != nil {
		return nil, err
	}

	out := make(map[string]types.Series)
	snap := s.snapshot(days, days)
	if len(snap) == 0 {
		return out, nil
	}

	sr := snap[0]
	err := s.withSeries(sr, func(sr *series.Series) error {
		clear(out)
		for _, p := range products {
			events, ok, err := sr.Events(p, false)
			if err != nil {
				return err
			}
			if ok {
				out[p] = events
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrDayUnavailable) {
			log.Warn("day skipped", "day_id", sr.ID(), "error", err)
			return make(map[string]types.Series), nil
		}
		return nil, err
	}
	return out, nil
}

func (s *Store) validateWindow(product string, days int) error {
	if err := validation.ValidateProduct(product); err != nil {
		return err
	}
	return validation.ValidateDays(days, s.cfg.RetentionDays)
}

// =============================================================================
// Residency
// =============================================================================

// snapshot returns the days at positions from..to that exist, in position
// order. The slice is a consistent view of the window at one instant.
func (s *Store) snapshot(from, to int) []*series.Series {
	s.window.RLock()
	defer s.window.RUnlock()

	if to > len(s.days) {
		to = len(s.days)
	}
	if from > to {
		return nil
	}
	out := make([]*series.Series, to-from+1)
	copy(out, s.days[from-1:to])
	return out
}

// withSeries pages sr in and runs fn with the window held shared, so sr
// cannot be evicted while fn runs. fn must use the non-loading series
// accessors; if sr was evicted between paging in and fn, it retries.
//
// A day that has left the window while the caller was working is served
// from its aggregate cache only.
func (s *Store) withSeries(sr *series.Series, fn func(*series.Series) error) error {
	for attempt := 0; attempt < maxResidentAttempts; attempt++ {
		s.window.Lock()
		pos := s.positionLocked(sr)
		var err error
		if pos > 0 {
			err = s.ensureResidentLocked(pos)
		}
		s.window.Unlock()

		if err != nil && !errors.Is(err, errors.ErrDayUnavailable) {
			return err
		}
		unavailable := err != nil || pos == 0

		s.window.RLock()
		ferr := fn(sr)
		s.window.RUnlock()

		if !errors.Is(ferr, series.ErrEvicted) {
			return ferr
		}
		if unavailable {
			if err == nil {
				err = fmt.Errorf("day %d left the window: %w", sr.ID(), errors.ErrDayUnavailable)
			}
			return err
		}
	}
	return fmt.Errorf("day %d: %w: evicted repeatedly", sr.ID(), errors.ErrDayUnavailable)
}

// positionLocked returns the days-ago position of sr, or 0 if sr is no
// longer in the window.
func (s *Store) positionLocked(sr *series.Series) int {
	for i, d := range s.days {
		if d == sr {
			return i + 1
		}
	}
	return 0
}

// ensureResidentLocked makes the day at pos resident and most recently used,
// evicting the least recently used days first if residency is full.
// Caller holds window exclusively.
func (s *Store) ensureResidentLocked(pos int) error {
	sr := s.days[pos-1]

	if s.resident.Contains(pos) {
		if sr.IsResident() {
			s.resident.Touch(pos)
			return nil
		}
		s.resident.Remove(pos)
	}

	for s.resident.Full() {
		victim, ok := s.resident.PopLRU()
		if !ok {
			break
		}
		s.evictLocked(victim)
	}

	if err := sr.Reload(); err != nil {
		residentDays.Set(float64(s.resident.Len()))
		return err
	}
	if !sr.IsResident() {
		residentDays.Set(float64(s.resident.Len()))
		return fmt.Errorf("day %d: %w: day file missing", sr.ID(), errors.ErrDayUnavailable)
	}

	s.resident.Add(pos)
	reloadsTotal.Inc()
	residentDays.Set(float64(s.resident.Len()))
	log.Debug("day reloaded", "day_id", sr.ID(), "position", pos)
	return nil
}

// ResidentPositions returns the resident positions from least to most
// recently used.
func (s *Store) ResidentPositions() []int {
	s.window.RLock()
	defer s.window.RUnlock()
	return s.resident.Positions()
}

// ResidentCount returns how many closed days hold raw events in memory,
// counted from the days themselves rather than the residency list.
func (s *Store) ResidentCount() int {
	s.window.RLock()
	defer s.window.RUnlock()

	n := 0
	for _, d := range s.days {
		if d.IsResident() {
			n++
		}
	}
	return n
}

// EnsureResident pages in the day at position pos. It is a no-op for an
// empty position.
func (s *Store) EnsureResident(pos int) error {
	if err := validation.ValidateDays(pos, s.cfg.RetentionDays); err != nil {
		return err
	}

	s.window.Lock()
	defer s.window.Unlock()

	if pos > len(s.days) {
		return nil
	}
	return s.ensureResidentLocked(pos)
}

// EvictAll drops the raw events of every closed day. Aggregate caches
// survive.
func (s *Store) EvictAll() {
	s.window.Lock()
	defer s.window.Unlock()

	for {
		pos, ok := s.resident.PopLRU()
		if !ok {
			break
		}
		s.evictLocked(pos)
	}
	residentDays.Set(0)
}
