package agent

import (
	"sort"
	"sync"
	"time"

	"seatwatch/internal/detect"
	"seatwatch/internal/memory"
	"seatwatch/internal/schedule"
)

// Status is a point-in-time copy of the loop for the ops server and bot commands.
type Status struct {
	State          State         `json:"state"`
	StartedAt      time.Time     `json:"started_at"`
	Cycles         int64         `json:"cycles"`
	LastCycleAt    time.Time     `json:"last_cycle_at,omitzero"`
	LastOutcome    Outcome       `json:"last_outcome,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	LastNewCodes   []string      `json:"last_new_codes,omitempty"`
	LastChanges    int           `json:"last_changes"`
	Failures       int           `json:"failures"`
	NextDelay      time.Duration `json:"next_delay_ns"`
	NextRule       schedule.Rule `json:"next_rule,omitempty"`
	NextRunAt      time.Time     `json:"next_run_at,omitzero"`
	KnownItems     []detect.Item `json:"known_items"`
	ReleaseSamples int           `json:"release_samples"`
	ModeHour       *int          `json:"mode_hour,omitempty"`
	FailureLogSize int           `json:"failure_log_size"`
	SaveFailing    bool          `json:"save_failing"`
}

// Status returns a copy; safe from any goroutine.
func (a *Agent) Status() Status { return a.status.get() }

type statusBox struct {
	mu sync.Mutex
	s  Status
}

func (b *statusBox) init(now time.Time, rec memory.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s = Status{State: StateIdle, StartedAt: now}
	b.fillRecord(rec)
}

func (b *statusBox) setState(st State) {
	b.mu.Lock()
	b.s.State = st
	b.mu.Unlock()
}

func (b *statusBox) record(res CycleResult, now time.Time, rec memory.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s.Cycles++
	b.s.LastCycleAt = res.Started
	b.s.LastOutcome = res.Outcome
	b.s.LastError = ""
	if res.Err != nil {
		b.s.LastError = res.Err.Error()
	}
	b.s.LastNewCodes = append([]string(nil), res.Decision.NewCodes...)
	b.s.LastChanges = len(res.Decision.QuantityChanges)
	b.s.Failures = res.Failures
	b.s.NextDelay = res.Delay
	b.s.NextRule = res.Rule
	b.s.NextRunAt = now.Add(res.Delay)
	b.s.SaveFailing = res.SaveErr != nil
	b.fillRecord(rec)
}

func (b *statusBox) fillRecord(rec memory.Record) {
	items := make([]detect.Item, 0, len(rec.KnownItems))
	for code, q := range rec.KnownItems {
		items = append(items, detect.Item{Code: code, Quantity: q})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	b.s.KnownItems = items
	b.s.ReleaseSamples = len(rec.ReleaseHours)
	b.s.FailureLogSize = len(rec.FailureLog)
	b.s.ModeHour = nil
	if h, ok := schedule.ModeHour(rec.ReleaseHours); ok {
		b.s.ModeHour = &h
	}
}

func (b *statusBox) get() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.s
	out.KnownItems = append([]detect.Item(nil), b.s.KnownItems...)
	out.LastNewCodes = append([]string(nil), b.s.LastNewCodes...)
	if b.s.ModeHour != nil {
		h := *b.s.ModeHour
		out.ModeHour = &h
	}
	return out
}
