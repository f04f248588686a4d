package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is the durable state of the agent.
type Record struct {
	KnownItems   map[string]int `json:"known_items"`
	ReleaseHours []int          `json:"release_hours"`
	FailureLog   []string       `json:"failure_log"`
}

// Empty returns the record used on first run.
func Empty() Record {
	return Record{
		KnownItems:   map[string]int{},
		ReleaseHours: []int{},
		FailureLog:   []string{},
	}
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := Record{
		KnownItems:   make(map[string]int, len(r.KnownItems)),
		ReleaseHours: append([]int{}, r.ReleaseHours...),
		FailureLog:   append([]string{}, r.FailureLog...),
	}
	for k, v := range r.KnownItems {
		out.KnownItems[k] = v
	}
	return out
}

// normalize replaces nil collections so the encoded form always carries {} and [].
func (r *Record) normalize() {
	if r.KnownItems == nil {
		r.KnownItems = map[string]int{}
	}
	if r.ReleaseHours == nil {
		r.ReleaseHours = []int{}
	}
	if r.FailureLog == nil {
		r.FailureLog = []string{}
	}
}

// UnmarshalJSON also accepts the field names of older agent_memory.json files
// ("known_courses", "failures"). Current names win when both are present.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw struct {
		KnownItems   map[string]int `json:"known_items"`
		KnownCourses map[string]int `json:"known_courses"`
		ReleaseHours []int          `json:"release_hours"`
		FailureLog   []string       `json:"failure_log"`
		Failures     []string       `json:"failures"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Record{
		KnownItems:   raw.KnownItems,
		ReleaseHours: raw.ReleaseHours,
		FailureLog:   raw.FailureLog,
	}
	if out.KnownItems == nil {
		out.KnownItems = raw.KnownCourses
	}
	if out.FailureLog == nil {
		out.FailureLog = raw.Failures
	}
	out.normalize()
	if err := out.validate(); err != nil {
		return err
	}
	*r = out
	return nil
}

func (r Record) validate() error {
	for code, q := range r.KnownItems {
		if q < 0 {
			return fmt.Errorf("known_items[%q]: negative quantity %d", code, q)
		}
	}
	for i, h := range r.ReleaseHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("release_hours[%d]: hour %d out of range", i, h)
		}
	}
	return nil
}

// Encode renders r in the persisted (indented JSON) form.
func Encode(r Record) ([]byte, error) {
	r.normalize()
	b, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses the persisted form. Any failure wraps ErrCorrupt.
func Decode(b []byte) (Record, error) {
	if t := bytes.TrimSpace(b); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return Record{}, fmt.Errorf("%w: empty document", ErrCorrupt)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return r, nil
}
