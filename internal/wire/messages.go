package wire

import (
	"fmt"
	"sort"

	"github.com/xtxerr/salesdb/internal/errors"
	"github.com/xtxerr/salesdb/internal/storage/types"
)

// eventSize is the encoded size of one event: qty(4) + price(8) + ts(8).
const eventSize = 20

// =============================================================================
// Requests
// =============================================================================

// Credentials is the payload of REGISTER and LOGIN.
type Credentials struct {
	User string
	Pass string
}

func (c Credentials) Encode() ([]byte, error) {
	return NewEncoder(4 + len(c.User) + len(c.Pass)).String(c.User).String(c.Pass).Bytes()
}

func DecodeCredentials(data []byte) (Credentials, error) {
	d := NewDecoder(data)
	c := Credentials{User: d.String(), Pass: d.String()}
	return c, d.Finish()
}

// AddEvent is the payload of ADD_EVENT.
type AddEvent struct {
	Product  string
	Quantity int32
	Price    float64
}

func (a AddEvent) Encode() ([]byte, error) {
	return NewEncoder(14 + len(a.Product)).String(a.Product).Int32(a.Quantity).Float64(a.Price).Bytes()
}

func DecodeAddEvent(data []byte) (AddEvent, error) {
	d := NewDecoder(data)
	a := AddEvent{Product: d.String(), Quantity: d.Int32(), Price: d.Float64()}
	return a, d.Finish()
}

// WindowQuery is the payload of GET_QUANTITY, GET_VOLUME, GET_AVG_PRICE and
// GET_MAX_PRICE.
type WindowQuery struct {
	Product string
	Days    int32
}

func (q WindowQuery) Encode() ([]byte, error) {
	return NewEncoder(6 + len(q.Product)).String(q.Product).Int32(q.Days).Bytes()
}

func DecodeWindowQuery(data []byte) (WindowQuery, error) {
	d := NewDecoder(data)
	q := WindowQuery{Product: d.String(), Days: d.Int32()}
	return q, d.Finish()
}

// QuantileQuery is the payload of PRICE_QUANTILE.
type QuantileQuery struct {
	Product  string
	Days     int32
	Quantile float64
}

func (q QuantileQuery) Encode() ([]byte, error) {
	return NewEncoder(14 + len(q.Product)).String(q.Product).Int32(q.Days).Float64(q.Quantile).Bytes()
}

func DecodeQuantileQuery(data []byte) (QuantileQuery, error) {
	d := NewDecoder(data)
	q := QuantileQuery{Product: d.String(), Days: d.Int32(), Quantile: d.Float64()}
	return q, d.Finish()
}

// Simultaneous is the payload of SIMULTANEOUS_SALES.
type Simultaneous struct {
	ProductA string
	ProductB string
}

func (s Simultaneous) Encode() ([]byte, error) {
	return NewEncoder(4 + len(s.ProductA) + len(s.ProductB)).String(s.ProductA).String(s.ProductB).Bytes()
}

func DecodeSimultaneous(data []byte) (Simultaneous, error) {
	d := NewDecoder(data)
	s := Simultaneous{ProductA: d.String(), ProductB: d.String()}
	return s, d.Finish()
}

// Consecutive is the payload of CONSECUTIVE_SALES.
type Consecutive struct {
	Product string
	N       int32
}

func (c Consecutive) Encode() ([]byte, error) {
	return NewEncoder(6 + len(c.Product)).String(c.Product).Int32(c.N).Bytes()
}

func DecodeConsecutive(data []byte) (Consecutive, error) {
	d := NewDecoder(data)
	c := Consecutive{Product: d.String(), N: d.Int32()}
	return c, d.Finish()
}

// FilterQuery is the payload of FILTER_EVENTS.
type FilterQuery struct {
	Days     int32
	Products []string
}

func (f FilterQuery) Encode() ([]byte, error) {
	e := NewEncoder(8 + 16*len(f.Products)).Int32(f.Days).Int32(int32(len(f.Products)))
	for _, p := range f.Products {
		e.String(p)
	}
	return e.Bytes()
}

func DecodeFilterQuery(data []byte) (FilterQuery, error) {
	d := NewDecoder(data)
	f := FilterQuery{Days: d.Int32()}
	count := d.Int32()
	if d.Err() == nil && (count < 0 || int(count) > d.Remaining()/2) {
		return f, fmt.Errorf("%w: product count %d", errors.ErrMalformedPayload, count)
	}
	f.Products = make([]string, 0, count)
	for i := int32(0); i < count; i++ {
		f.Products = append(f.Products, d.String())
	}
	return f, d.Finish()
}

// =============================================================================
// Responses
// =============================================================================

// EncodeInt64 encodes a single int64 response.
func EncodeInt64(v int64) []byte {
	b, _ := NewEncoder(8).Int64(v).Bytes()
	return b
}

// DecodeInt64 decodes a single int64 response.
func DecodeInt64(data []byte) (int64, error) {
	d := NewDecoder(data)
	v := d.Int64()
	return v, d.Finish()
}

// EncodeFloat64 encodes a single float64 response.
func EncodeFloat64(v float64) []byte {
	b, _ := NewEncoder(8).Float64(v).Bytes()
	return b
}

// DecodeFloat64 decodes a single float64 response.
func DecodeFloat64(data []byte) (float64, error) {
	d := NewDecoder(data)
	v := d.Float64()
	return v, d.Finish()
}

// EncodeFilterResult encodes FILTER_EVENTS results.
//
// Layout: a dictionary [count][id name]×count, then per product
// [id eventCount event×eventCount]. Ids start at 1 and follow the
// lexical order of product names.
func EncodeFilterResult(res map[string]types.Series) ([]byte, error) {
	names := make([]string, 0, len(res))
	size := 4
	for name, s := range res {
		names = append(names, name)
		size += 14 + len(name) + eventSize*len(s)
	}
	sort.Strings(names)

	e := NewEncoder(size).Int32(int32(len(names)))
	for i, name := range names {
		e.Int32(int32(i + 1)).String(name)
	}
	for i, name := range names {
		s := res[name]
		e.Int32(int32(i + 1)).Int32(int32(len(s)))
		for _, ev := range s {
			e.Int32(ev.Quantity).Float64(ev.Price).Int64(ev.Timestamp)
		}
	}
	return e.Bytes()
}

// DecodeFilterResult decodes a FILTER_EVENTS response.
func DecodeFilterResult(data []byte) (map[string]types.Series, error) {
	d := NewDecoder(data)

	count := d.Int32()
	if d.Err() == nil && (count < 0 || int(count) > d.Remaining()/6) {
		return nil, fmt.Errorf("%w: dictionary size %d", errors.ErrMalformedPayload, count)
	}
	dict := make(map[int32]string, count)
	for i := int32(0); i < count; i++ {
		id := d.Int32()
		dict[id] = d.String()
	}

	out := make(map[string]types.Series, count)
	for i := int32(0); i < count && d.Err() == nil; i++ {
		id := d.Int32()
		n := d.Int32()
		name, ok := dict[id]
		if d.Err() == nil && (!ok || n < 0 || int(n) > d.Remaining()/eventSize) {
			return nil, fmt.Errorf("%w: product id %d with %d events", errors.ErrMalformedPayload, id, n)
		}
		s := make(types.Series, 0, n)
		for j := int32(0); j < n; j++ {
			s = append(s, types.Event{Quantity: d.Int32(), Price: d.Float64(), Timestamp: d.Int64()})
		}
		out[name] = s
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// Today is the GET_TODAY response.
type Today struct {
	Count         int32
	TotalQuantity int64
	TotalVolume   float64
}

func (t Today) Encode() []byte {
	b, _ := NewEncoder(20).Int32(t.Count).Int64(t.TotalQuantity).Float64(t.TotalVolume).Bytes()
	return b
}

func DecodeToday(data []byte) (Today, error) {
	d := NewDecoder(data)
	t := Today{Count: d.Int32(), TotalQuantity: d.Int64(), TotalVolume: d.Float64()}
	return t, d.Finish()
}

// Status is the STATUS response.
type Status struct {
	Epoch    int64
	DayID    int32
	Retained int32
	Resident int32
	Waiters  int32
}

func (s Status) Encode() []byte {
	b, _ := NewEncoder(24).Int64(s.Epoch).Int32(s.DayID).Int32(s.Retained).Int32(s.Resident).Int32(s.Waiters).Bytes()
	return b
}

func DecodeStatus(data []byte) (Status, error) {
	d := NewDecoder(data)
	s := Status{Epoch: d.Int64(), DayID: d.Int32(), Retained: d.Int32(), Resident: d.Int32(), Waiters: d.Int32()}
	return s, d.Finish()
}

// =============================================================================
// Status strings
// =============================================================================

// Status strings carried by OK responses of operations without a result.
const (
	StatusRegistered   = "user registered"
	StatusWelcome      = "welcome "
	StatusRecorded     = "event recorded"
	StatusSimultaneous = "simultaneous sale detected"
	StatusConsecutive  = "consecutive sales detected"
)
