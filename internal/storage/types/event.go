package types

import "time"

// Event is a single sale. It is never mutated after it is recorded.
type Event struct {
	Quantity  int32   // Units sold, always > 0
	Price     float64 // Unit price, always >= 0
	Timestamp int64   // Server clock at insertion, Unix milliseconds
}

// Volume returns quantity × price.
func (e Event) Volume() float64 {
	return float64(e.Quantity) * e.Price
}

// Time returns the insertion time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Series is the append-only, arrival-ordered event list of one product
// within one day. Arrival order defines "consecutive sales".
type Series []Event

// Clone returns a copy that does not alias s.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Day maps product name to its series for one day.
type Day map[string]Series

// Clone returns a deep copy of the day.
func (d Day) Clone() Day {
	out := make(Day, len(d))
	for p, s := range d {
		out[p] = s.Clone()
	}
	return out
}

// EventCount returns the total number of events across all products.
func (d Day) EventCount() int {
	n := 0
	for _, s := range d {
		n += len(s)
	}
	return n
}
