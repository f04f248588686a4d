// Package schedule computes how long the agent waits before its next cycle.
package schedule

import (
	"math/rand"
	"sync"
	"time"
)

// Config holds the cadence knobs. Zero values take the defaults below.
type Config struct {
	BaseInterval      time.Duration // default 120s
	FastInterval      time.Duration // default 30s
	BackoffStep       time.Duration // default 60s
	BackoffMax        time.Duration // default 600s
	Jitter            time.Duration // default 20s; upper bound, inclusive
	FailureThreshold  int           // default 3
	MinReleaseSamples int           // default 3
}

func (c Config) withDefaults() Config {
	if c.BaseInterval <= 0 {
		c.BaseInterval = 120 * time.Second
	}
	if c.FastInterval <= 0 {
		c.FastInterval = 30 * time.Second
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = 60 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 600 * time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	} else if c.Jitter == 0 {
		c.Jitter = 20 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.MinReleaseSamples <= 0 {
		c.MinReleaseSamples = 3
	}
	return c
}

// Rule names which branch produced a delay (for logs and metrics).
type Rule string

const (
	RulePredictive Rule = "predictive"
	RuleBackoff    Rule = "backoff"
	RuleDefault    Rule = "default"
)

// IntN returns a uniform integer in [0, n). *rand.Rand satisfies it.
type IntN interface {
	Intn(n int) int
}

// Scheduler is safe for concurrent use; the random source is guarded.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	rnd IntN
}

// New returns a scheduler. A nil rnd uses a time-seeded math/rand source.
func New(cfg Config, rnd IntN) *Scheduler {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{cfg: cfg.withDefaults(), rnd: rnd}
}

// Apply swaps the cadence knobs (config hot reload).
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// NextDelay picks the wait before the next cycle. First matching rule wins:
//
//  1. predictive: enough release samples and nowHour within one hour of the
//     most frequent release hour (no wraparound at midnight)
//  2. backoff: failures >= threshold -> min(base+step, max)
//  3. default: base + uniform jitter in [0, Jitter] whole seconds
func (s *Scheduler) NextDelay(releaseHours []int, failures, nowHour int) (time.Duration, Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg

	if len(releaseHours) >= cfg.MinReleaseSamples {
		if mode, ok := ModeHour(releaseHours); ok && absInt(nowHour-mode) <= 1 {
			return cfg.FastInterval, RulePredictive
		}
	}

	if failures >= cfg.FailureThreshold {
		d := cfg.BaseInterval + cfg.BackoffStep
		if d > cfg.BackoffMax {
			d = cfg.BackoffMax
		}
		return d, RuleBackoff
	}

	jitter := 0
	if secs := int(cfg.Jitter / time.Second); secs > 0 {
		jitter = s.rnd.Intn(secs + 1)
	}
	return cfg.BaseInterval + time.Duration(jitter)*time.Second, RuleDefault
}

// ModeHour returns the most frequent hour. Ties go to the smallest hour.
// ok is false for an empty input.
func ModeHour(hours []int) (mode int, ok bool) {
	if len(hours) == 0 {
		return 0, false
	}
	var counts [24]int
	for _, h := range hours {
		if h >= 0 && h < 24 {
			counts[h]++
		}
	}
	best := -1
	for h, n := range counts {
		if n > 0 && (best < 0 || n > counts[best]) {
			best = h
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
