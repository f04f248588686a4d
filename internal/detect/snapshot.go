// Package detect compares a freshly observed seat snapshot against the
// previously known state and classifies the differences.
package detect

import "strings"

// Snapshot maps course codes to seat counts and remembers the order in which
// the observer first produced each code.
//
// Setting an existing code overwrites its quantity but keeps its position.
// The zero value is an empty snapshot ready to use.
type Snapshot struct {
	order []string
	qty   map[string]int
}

// Item is one (code, quantity) pair in detection order.
type Item struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// NewSnapshot builds a snapshot from items in the given order.
func NewSnapshot(items ...Item) Snapshot {
	var s Snapshot
	for _, it := range items {
		s.Set(it.Code, it.Quantity)
	}
	return s
}

// Set records quantity for code. Empty codes and negative quantities are ignored.
func (s *Snapshot) Set(code string, quantity int) {
	code = strings.TrimSpace(code)
	if code == "" || quantity < 0 {
		return
	}
	if s.qty == nil {
		s.qty = map[string]int{}
	}
	if _, ok := s.qty[code]; !ok {
		s.order = append(s.order, code)
	}
	s.qty[code] = quantity
}

// Get returns the quantity for code.
func (s Snapshot) Get(code string) (int, bool) {
	q, ok := s.qty[code]
	return q, ok
}

func (s Snapshot) Len() int { return len(s.order) }

// Items returns a copy of the entries in detection order.
func (s Snapshot) Items() []Item {
	out := make([]Item, 0, len(s.order))
	for _, c := range s.order {
		out = append(out, Item{Code: c, Quantity: s.qty[c]})
	}
	return out
}

// Map returns a fresh code -> quantity map (what gets persisted as known items).
func (s Snapshot) Map() map[string]int {
	out := make(map[string]int, len(s.qty))
	for k, v := range s.qty {
		out[k] = v
	}
	return out
}
