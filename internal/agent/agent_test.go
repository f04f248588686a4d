package agent

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"seatwatch/internal/detect"
	"seatwatch/internal/eventbus"
	"seatwatch/internal/memory"
	"seatwatch/internal/schedule"
	"seatwatch/pkg/logx"
)

type step struct {
	snap  detect.Snapshot
	err   error
	panic any
}

type fakeObserver struct {
	mu    sync.Mutex
	steps []step
	calls int
	// onCall runs before the step is returned (e.g. to cancel ctx).
	onCall func(n int)
}

func (f *fakeObserver) Observe(ctx context.Context) (detect.Snapshot, error) {
	f.mu.Lock()
	n := f.calls
	f.calls++
	var s step
	if n < len(f.steps) {
		s = f.steps[n]
	} else if len(f.steps) > 0 {
		s = f.steps[len(f.steps)-1]
	}
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if s.panic != nil {
		panic(s.panic)
	}
	return s.snap, s.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	msgs  []string
	err   error
	panic any
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	if f.panic != nil {
		panic(f.panic)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, text)
	return nil
}

type flakyStore struct {
	memory.Store
	failNext int
	saves    int
}

func (s *flakyStore) Save(ctx context.Context, r memory.Record) error {
	s.saves++
	if s.failNext > 0 {
		s.failNext--
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, r)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type zeroRand struct{}

func (zeroRand) Intn(int) int { return 0 }

func openFileStore(t *testing.T) (memory.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent_memory.json")
	st, err := memory.Open(context.Background(), memory.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func snap(items ...detect.Item) detect.Snapshot { return detect.NewSnapshot(items...) }

func item(code string, q int) detect.Item { return detect.Item{Code: code, Quantity: q} }

func newTestAgent(t *testing.T, rec memory.Record, obs Observer, n Notifier, st memory.Store, clk *fakeClock, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithClock(clk)}, opts...)
	return New(Config{Location: time.UTC}, rec, Deps{
		Observer:  obs,
		Notifier:  n,
		Store:     st,
		Scheduler: schedule.New(schedule.Config{}, zeroRand{}),
	}, opts...)
}

func TestTwoRunScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openFileStore(t)
	clk := &fakeClock{now: time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)}
	notif := &fakeNotifier{}

	// first run
	obs := &fakeObserver{steps: []step{{snap: snap(item("X1", 3))}}}
	a := newTestAgent(t, memory.Empty(), obs, notif, st, clk)
	res := a.RunOnce(ctx)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("run 1 outcome = %s (%v)", res.Outcome, res.Err)
	}
	if !reflect.DeepEqual(res.Decision.NewCodes, []string{"X1"}) {
		t.Fatalf("run 1 new codes = %v", res.Decision.NewCodes)
	}
	if len(notif.msgs) != 1 || !strings.Contains(notif.msgs[0], "X1") {
		t.Fatalf("run 1 messages = %q", notif.msgs)
	}

	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec.ReleaseHours, []int{10}) {
		t.Fatalf("release hours = %v, want [10]", rec.ReleaseHours)
	}
	if !reflect.DeepEqual(rec.KnownItems, map[string]int{"X1": 3}) {
		t.Fatalf("known items = %v", rec.KnownItems)
	}

	// second run, fresh process state loaded from the store
	obs2 := &fakeObserver{steps: []step{{snap: snap(item("X1", 1))}}}
	b := newTestAgent(t, rec, obs2, notif, st, clk)
	res = b.RunOnce(ctx)
	want := []detect.Change{{Code: "X1", Quantity: 1}}
	if !reflect.DeepEqual(res.Decision.QuantityChanges, want) || len(res.Decision.NewCodes) != 0 {
		t.Fatalf("run 2 decision = %+v", res.Decision)
	}
	if len(notif.msgs) != 2 || !strings.Contains(notif.msgs[1], "X1") || !strings.Contains(notif.msgs[1], "1") {
		t.Fatalf("run 2 messages = %q", notif.msgs)
	}
	rec, _ = st.Load(ctx)
	if len(rec.ReleaseHours) != 1 {
		t.Fatalf("release hours grew: %v", rec.ReleaseHours)
	}
}

func TestFailurePreservesKnownItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openFileStore(t)
	clk := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	start := memory.Record{KnownItems: map[string]int{"A": 2}, ReleaseHours: []int{}, FailureLog: []string{}}
	obs := &fakeObserver{steps: []step{{err: errors.New("login: timeout")}}}
	notif := &fakeNotifier{}
	a := newTestAgent(t, start, obs, notif, st, clk)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		res := a.RunOnce(ctx)
		if res.Outcome != OutcomeFailed {
			t.Fatalf("cycle %d outcome = %s", i, res.Outcome)
		}
		var oe *ObservationError
		if !errors.As(res.Err, &oe) {
			t.Fatalf("cycle %d err = %T, want *ObservationError", i, res.Err)
		}
		delays = append(delays, res.Delay)
	}
	if a.Failures() != 3 {
		t.Fatalf("failures = %d", a.Failures())
	}
	// 1 and 2 failures stay on default; the third crosses the threshold
	if delays[0] != 120*time.Second || delays[1] != 120*time.Second || delays[2] != 180*time.Second {
		t.Fatalf("delays = %v", delays)
	}

	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(rec.KnownItems, map[string]int{"A": 2}) {
		t.Fatalf("known items changed: %v", rec.KnownItems)
	}
	if len(rec.FailureLog) != 3 || rec.FailureLog[0] != "login: timeout" {
		t.Fatalf("failure log = %q", rec.FailureLog)
	}
	if len(notif.msgs) != 0 {
		t.Fatalf("notified on failure: %q", notif.msgs)
	}

	// recovery resets the counter
	obs.mu.Lock()
	obs.steps = []step{{snap: snap(item("A", 2))}}
	obs.calls = 0
	obs.mu.Unlock()
	res := a.RunOnce(ctx)
	if res.Outcome != OutcomeSuccess || a.Failures() != 0 || res.Rule != schedule.RuleDefault {
		t.Fatalf("recovery: outcome=%s failures=%d rule=%s", res.Outcome, a.Failures(), res.Rule)
	}
}

func TestPanicIsUnexpected(t *testing.T) {
	t.Parallel()
	st, _ := openFileStore(t)
	clk := &fakeClock{now: time.Unix(0, 0).UTC()}
	obs := &fakeObserver{steps: []step{{panic: "nil map"}}}
	a := newTestAgent(t, memory.Empty(), obs, &fakeNotifier{}, st, clk)

	res := a.RunOnce(context.Background())
	var ue *UnexpectedError
	if !errors.As(res.Err, &ue) || ue.Stage != StateObserving {
		t.Fatalf("err = %v, want UnexpectedError while observing", res.Err)
	}
	rec := a.Record()
	if len(rec.FailureLog) != 1 || rec.FailureLog[0] != "unexpected: nil map" {
		t.Fatalf("failure log = %q", rec.FailureLog)
	}
	if a.Failures() != 1 {
		t.Fatalf("failures = %d", a.Failures())
	}
}

func TestNotifierFailureIsIsolated(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		notif *fakeNotifier
	}{
		{"error", &fakeNotifier{err: errors.New("telegram: 502")}},
		{"panic", &fakeNotifier{panic: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openFileStore(t)
			clk := &fakeClock{now: time.Unix(0, 0).UTC()}
			obs := &fakeObserver{steps: []step{{snap: snap(item("N1", 4))}}}
			a := newTestAgent(t, memory.Empty(), obs, tt.notif, st, clk)

			res := a.RunOnce(ctx)
			if res.Outcome != OutcomeSuccess || res.NotifyErr == nil || res.Notified {
				t.Fatalf("res = %+v", res)
			}
			if a.Failures() != 0 {
				t.Fatalf("notify failure counted: %d", a.Failures())
			}
			rec, _ := st.Load(ctx)
			if rec.KnownItems["N1"] != 4 {
				t.Fatalf("record not persisted before notify: %v", rec.KnownItems)
			}
		})
	}
}

func TestSaveRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base, _ := openFileStore(t)
	clk := &fakeClock{now: time.Unix(0, 0).UTC()}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	st := &flakyStore{Store: base, failNext: 1}
	obs := &fakeObserver{steps: []step{{snap: snap(item("A", 1))}}}
	a := newTestAgent(t, memory.Empty(), obs, &fakeNotifier{}, st, clk, WithBus(bus))

	res := a.RunOnce(ctx)
	if res.SaveErr != nil || st.saves != 2 {
		t.Fatalf("one failure should be retried: err=%v saves=%d", res.SaveErr, st.saves)
	}

	st.failNext = 2
	obs.mu.Lock()
	obs.steps = []step{{snap: snap(item("A", 0))}}
	obs.mu.Unlock()
	res = a.RunOnce(ctx)
	if res.SaveErr == nil || st.saves != 4 {
		t.Fatalf("two failures should give up: err=%v saves=%d", res.SaveErr, st.saves)
	}
	if got := a.Record().KnownItems["A"]; got != 0 {
		t.Fatalf("in-memory record not authoritative: A=%d", got)
	}
	if !a.Status().SaveFailing {
		t.Fatal("status should report failing saves")
	}

	var sawPersistFailed bool
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TypePersistFailed {
			sawPersistFailed = true
		}
	}
	if !sawPersistFailed {
		t.Fatal("no persist-failed event")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, _ := openFileStore(t)
	clk := &fakeClock{now: time.Unix(0, 0).UTC()}
	obs := &fakeObserver{steps: []step{{snap: snap(item("A", 1))}}}
	beats := 0
	obs.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	a := newTestAgent(t, memory.Empty(), obs, &fakeNotifier{}, st, clk, WithHeartbeat(func() { beats++ }))

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// the third cycle observed successfully before shutdown, so it was completed and persisted
	if beats != 3 {
		t.Fatalf("heartbeats = %d, want 3", beats)
	}
	if len(clk.sleeps) != 2 {
		t.Fatalf("sleeps = %v, want 2", clk.sleeps)
	}
	if s := a.Status(); s.State != StateStopped || s.Cycles != 3 {
		t.Fatalf("status = %+v", s)
	}
}

func TestInterruptedObservationIsNotAFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	st, _ := openFileStore(t)
	clk := &fakeClock{now: time.Unix(0, 0).UTC()}
	obs := &fakeObserver{steps: []step{{err: context.Canceled}}}
	obs.onCall = func(int) { cancel() }
	a := newTestAgent(t, memory.Empty(), obs, &fakeNotifier{}, st, clk)

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec := a.Record(); len(rec.FailureLog) != 0 {
		t.Fatalf("shutdown recorded as failure: %q", rec.FailureLog)
	}
}

func TestPredictiveDelayAfterReleases(t *testing.T) {
	t.Parallel()
	st, _ := openFileStore(t)
	clk := &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	start := memory.Record{KnownItems: map[string]int{}, ReleaseHours: []int{9, 9, 10}, FailureLog: []string{}}
	obs := &fakeObserver{steps: []step{{err: errors.New("x")}}}
	a := newTestAgent(t, start, obs, &fakeNotifier{}, st, clk)

	for i := 0; i < 4; i++ {
		res := a.RunOnce(context.Background())
		if res.Delay != 30*time.Second || res.Rule != schedule.RulePredictive {
			t.Fatalf("cycle %d: delay=%v rule=%s", i, res.Delay, res.Rule)
		}
	}
	if h := a.Status().ModeHour; h == nil || *h != 9 {
		t.Fatalf("mode hour = %v", h)
	}
}

type deadlineNotifier struct{ left []time.Duration }

func (d *deadlineNotifier) Notify(ctx context.Context, _ string) error {
	dl, ok := ctx.Deadline()
	if !ok {
		return errors.New("no deadline")
	}
	d.left = append(d.left, time.Until(dl))
	return nil
}

func TestSetNotifyTimeoutAppliesToNextCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openFileStore(t)
	clk := &fakeClock{now: time.Unix(0, 0).UTC()}
	obs := &fakeObserver{steps: []step{
		{snap: snap(item("N1", 1))},
		{snap: snap(item("N1", 1), item("N2", 1))},
	}}
	notif := &deadlineNotifier{}
	a := newTestAgent(t, memory.Empty(), obs, notif, st, clk)

	a.RunOnce(ctx)
	a.SetNotifyTimeout(2 * time.Minute)
	a.SetNotifyTimeout(0)
	a.RunOnce(ctx)

	if len(notif.left) != 2 {
		t.Fatalf("notify calls = %d", len(notif.left))
	}
	if notif.left[0] > 10*time.Second {
		t.Fatalf("default bound = %v", notif.left[0])
	}
	if notif.left[1] <= 10*time.Second || notif.left[1] > 2*time.Minute {
		t.Fatalf("reloaded bound = %v", notif.left[1])
	}
}
