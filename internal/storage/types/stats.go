package types

// Stats is the aggregate of one product on one closed day.
// It is derived from the raw events and is constant once the day is closed.
type Stats struct {
	TotalQuantity int64   // Σ quantity
	TotalVolume   float64 // Σ quantity × price
	MaxPrice      float64 // greatest unit price
	Count         int     // number of events
}

// Compute aggregates a series in a single linear scan.
// It returns false for an empty series.
func Compute(s Series) (Stats, bool) {
	if len(s) == 0 {
		return Stats{}, false
	}

	var st Stats
	for _, e := range s {
		st.TotalQuantity += int64(e.Quantity)
		st.TotalVolume += e.Volume()
		if e.Price > st.MaxPrice {
			st.MaxPrice = e.Price
		}
	}
	st.Count = len(s)
	return st, true
}

// AveragePrice returns volume / quantity, or 0 when nothing was sold.
func (s Stats) AveragePrice() float64 {
	if s.TotalQuantity == 0 {
		return 0
	}
	return s.TotalVolume / float64(s.TotalQuantity)
}

// Merge accumulates other into s. MaxPrice keeps the larger of the two.
func (s *Stats) Merge(other Stats) {
	s.TotalQuantity += other.TotalQuantity
	s.TotalVolume += other.TotalVolume
	if other.MaxPrice > s.MaxPrice {
		s.MaxPrice = other.MaxPrice
	}
	s.Count += other.Count
}
