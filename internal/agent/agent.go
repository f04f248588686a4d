package agent

import (
	"context"
	"sync/atomic"
	"time"

	"seatwatch/internal/detect"
	"seatwatch/internal/eventbus"
	"seatwatch/internal/memory"
	"seatwatch/internal/schedule"
	"seatwatch/pkg/logx"
)

// Observer produces one snapshot of the watched items.
type Observer interface {
	Observe(ctx context.Context) (detect.Snapshot, error)
}

// Notifier delivers one composed message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Clock is injectable for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config tunes the loop itself; cadence lives in the scheduler.
type Config struct {
	// Location is the hour-of-day source for release samples. nil means time.Local.
	Location *time.Location
	// NotifyTimeout bounds one Notify call. Default 10s.
	NotifyTimeout time.Duration
	// SaveTimeout bounds one Save attempt. Default 30s.
	SaveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 30 * time.Second
	}
	return c
}

// Deps are the collaborators the loop drives.
type Deps struct {
	Observer  Observer
	Notifier  Notifier
	Store     memory.Store
	Scheduler *schedule.Scheduler
}

type Option func(*Agent)

func WithLogger(log logx.Logger) Option { return func(a *Agent) { a.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(a *Agent) { a.bus = bus } }
func WithClock(c Clock) Option          { return func(a *Agent) { a.clock = c } }

// WithHeartbeat registers a callback run once per completed cycle
// (the systemd watchdog ping).
func WithHeartbeat(fn func()) Option { return func(a *Agent) { a.heartbeat = fn } }

// Agent is the control loop. Run and RunOnce must not be called concurrently.
type Agent struct {
	cfg   Config
	deps  Deps
	log   logx.Logger
	bus   eventbus.Bus
	clock Clock

	heartbeat func()

	notifyTimeout atomic.Int64 // time.Duration; follows config reloads

	// owned by the loop goroutine
	rec      memory.Record
	failures int

	status statusBox
}

// New builds an agent around an already loaded record.
func New(cfg Config, rec memory.Record, deps Deps, opts ...Option) *Agent {
	a := &Agent{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		log:   logx.Nop(),
		bus:   eventbus.Nop{},
		clock: realClock{},
		rec:   rec.Clone(),
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	if a.deps.Scheduler == nil {
		a.deps.Scheduler = schedule.New(schedule.Config{}, nil)
	}
	a.notifyTimeout.Store(int64(a.cfg.NotifyTimeout))
	a.status.init(a.clock.Now(), a.rec)
	return a
}

// SetNotifyTimeout changes the bound on later Notify calls; a call in
// flight keeps its deadline. d <= 0 is ignored.
func (a *Agent) SetNotifyTimeout(d time.Duration) {
	if d > 0 {
		a.notifyTimeout.Store(int64(d))
	}
}

// Record returns a copy of the in-memory record. Only safe while the loop is not running.
func (a *Agent) Record() memory.Record { return a.rec.Clone() }

// Failures is the consecutive failure count.
func (a *Agent) Failures() int { return a.failures }

// Run loops until ctx is cancelled. Cancellation only interrupts the sleep
// between cycles; a cycle that started always persists before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent started",
		logx.Int("known_items", len(a.rec.KnownItems)),
		logx.Int("release_samples", len(a.rec.ReleaseHours)),
	)
	defer func() {
		a.status.setState(StateStopped)
		a.log.Info("agent stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		res := a.RunOnce(ctx)
		if res.Aborted || ctx.Err() != nil {
			return nil
		}

		a.status.setState(StateSleeping)
		select {
		case <-ctx.Done():
			return nil
		case <-a.clock.After(res.Delay):
		}
		a.status.setState(StateIdle)
	}
}
