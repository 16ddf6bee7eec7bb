// Package residency tracks which retention-window positions currently hold
// raw events in memory, ordered by recency of access.
package residency

import "container/list"

// Set is a capacity-bounded LRU set of days-ago positions.
//
// The least recently used position sits at the front, the most recently
// used at the back. Set is not safe for concurrent use; the owner guards it
// with the retention-window lock.
type Set struct {
	capacity int
	order    *list.List
	index    map[int]*list.Element
}

// New creates a Set holding at most capacity positions.
func New(capacity int) *Set {
	if capacity < 1 {
		capacity = 1
	}
	return &Set{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[int]*list.Element),
	}
}

// Capacity returns the configured bound.
func (s *Set) Capacity() int { return s.capacity }

// Len returns the number of resident positions.
func (s *Set) Len() int { return s.order.Len() }

// Full reports whether adding a new position requires an eviction.
func (s *Set) Full() bool { return s.order.Len() >= s.capacity }

// Contains reports whether pos is resident.
func (s *Set) Contains(pos int) bool {
	_, ok := s.index[pos]
	return ok
}

// Touch marks a resident position as most recently used.
// It returns false if pos is not resident.
func (s *Set) Touch(pos int) bool {
	el, ok := s.index[pos]
	if !ok {
		return false
	}
	s.order.MoveToBack(el)
	return true
}

// Add inserts pos as most recently used. Adding a present position only
// touches it. Add never evicts; callers call Trim or PopLRU.
func (s *Set) Add(pos int) {
	if s.Touch(pos) {
		return
	}
	s.index[pos] = s.order.PushBack(pos)
}

// Remove drops pos from the set.
func (s *Set) Remove(pos int) bool {
	el, ok := s.index[pos]
	if !ok {
		return false
	}
	s.order.Remove(el)
	delete(s.index, pos)
	return true
}

// PopLRU removes and returns the least recently used position.
func (s *Set) PopLRU() (int, bool) {
	front := s.order.Front()
	if front == nil {
		return 0, false
	}
	pos := front.Value.(int)
	s.order.Remove(front)
	delete(s.index, pos)
	return pos, true
}

// Trim evicts least recently used positions until the bound holds and
// returns them in eviction order.
func (s *Set) Trim() []int {
	var evicted []int
	for s.order.Len() > s.capacity {
		pos, _ := s.PopLRU()
		evicted = append(evicted, pos)
	}
	return evicted
}

// Shift renumbers every position by +1 after a day rollover, preserving
// recency order. Positions that would exceed maxPos are dropped and returned.
func (s *Set) Shift(maxPos int) []int {
	var dropped []int
	s.index = make(map[int]*list.Element, s.order.Len())

	for el := s.order.Front(); el != nil; {
		next := el.Next()
		pos := el.Value.(int) + 1
		if pos > maxPos {
			dropped = append(dropped, pos-1)
			s.order.Remove(el)
		} else {
			el.Value = pos
			s.index[pos] = el
		}
		el = next
	}
	return dropped
}

// Positions returns the resident positions from least to most recently used.
func (s *Set) Positions() []int {
	out := make([]int, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(int))
	}
	return out
}
