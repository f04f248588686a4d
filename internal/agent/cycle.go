package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"seatwatch/internal/detect"
	"seatwatch/internal/eventbus"
	"seatwatch/internal/schedule"
	"seatwatch/pkg/logx"
)

// CycleResult describes one completed (or aborted) cycle.
type CycleResult struct {
	Outcome  Outcome
	Started  time.Time
	Duration time.Duration

	Decision detect.Decision
	Items    int

	// Err is the observation or unexpected error of a failed cycle.
	Err error
	// SaveErr is set when both save attempts failed.
	SaveErr error
	// Notified reports a delivered message; NotifyErr a failed one.
	Notified  bool
	NotifyErr error

	Failures int
	Delay    time.Duration
	Rule     schedule.Rule

	// Aborted means ctx was cancelled before anything was observed;
	// nothing was recorded.
	Aborted bool
}

// RunOnce runs exactly one cycle and reports the delay the loop would sleep.
func (a *Agent) RunOnce(ctx context.Context) (res CycleResult) {
	res.Started = a.clock.Now()
	hour := res.Started.In(a.cfg.Location).Hour()

	a.status.setState(StateObserving)
	snap, err := a.observe(ctx)
	if err != nil {
		if ctx.Err() != nil && !isUnexpected(err) {
			a.log.Info("observation interrupted by shutdown", logx.Err(err))
			res.Aborted = true
			res.Duration = a.clock.Now().Sub(res.Started)
			return res
		}
		a.fail(ctx, &res, err)
		a.finish(&res)
		return res
	}
	res.Items = snap.Len()

	a.status.setState(StateReasoning)
	dec, err := a.reason(snap, hour)
	if err != nil {
		a.fail(ctx, &res, err)
		a.finish(&res)
		return res
	}
	res.Decision = dec
	res.SaveErr = a.persist(ctx)

	a.status.setState(StateActing)
	if !dec.Empty() {
		res.NotifyErr = a.notify(ctx, dec.Message())
		res.Notified = res.NotifyErr == nil
		var ue *UnexpectedError
		if errors.As(res.NotifyErr, &ue) {
			a.log.Error("unexpected error in notifier", logx.Any("panic", ue.Value), logx.Stack(ue.Stack))
		}
	}

	a.failures = 0
	res.Outcome = OutcomeSuccess
	a.finish(&res)
	return res
}

func (a *Agent) observe(ctx context.Context) (snap detect.Snapshot, err error) {
	defer a.recoverInto(StateObserving, &err)
	snap, err = a.deps.Observer.Observe(ctx)
	if err != nil {
		return detect.Snapshot{}, &ObservationError{Err: err}
	}
	return snap, nil
}

// reason compares against known items, records release hours and replaces
// known items with the snapshot.
func (a *Agent) reason(snap detect.Snapshot, hour int) (dec detect.Decision, err error) {
	defer a.recoverInto(StateReasoning, &err)
	dec = detect.Detect(a.rec.KnownItems, snap)
	for range dec.NewCodes {
		a.rec.ReleaseHours = append(a.rec.ReleaseHours, hour)
	}
	a.rec.KnownItems = snap.Map()
	return dec, nil
}

func (a *Agent) fail(ctx context.Context, res *CycleResult, err error) {
	res.Outcome = OutcomeFailed
	res.Err = err

	var ue *UnexpectedError
	if errors.As(err, &ue) {
		a.log.Error("unexpected error in cycle",
			logx.String("stage", ue.Stage.String()),
			logx.Any("panic", ue.Value),
			logx.Stack(ue.Stack),
		)
	} else {
		a.log.Warn("cycle failed", logx.Err(err))
	}

	a.status.setState(StateFailed)
	a.rec.FailureLog = append(a.rec.FailureLog, failureEntry(err))
	res.SaveErr = a.persist(ctx)
	a.failures++
}

// finish computes the next delay and publishes the cycle.
func (a *Agent) finish(res *CycleResult) {
	now := a.clock.Now()
	res.Duration = now.Sub(res.Started)
	res.Failures = a.failures
	res.Delay, res.Rule = a.deps.Scheduler.NextDelay(a.rec.ReleaseHours, a.failures, now.In(a.cfg.Location).Hour())

	fields := []logx.Field{
		logx.String("outcome", string(res.Outcome)),
		logx.Int("items", res.Items),
		logx.Int("new", len(res.Decision.NewCodes)),
		logx.Int("changed", len(res.Decision.QuantityChanges)),
		logx.Int("failures", res.Failures),
		logx.Duration("next", res.Delay),
		logx.String("rule", string(res.Rule)),
		logx.Duration("took", res.Duration),
	}
	a.log.Info("cycle finished", fields...)

	a.status.record(*res, now, a.rec)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeCycle, Time: now, Data: *res})

	if a.heartbeat != nil {
		a.heartbeat()
	}
}

// persist saves the record, retrying once. The in-memory record stays
// authoritative when both attempts fail. Shutdown does not cancel it.
func (a *Agent) persist(ctx context.Context) error {
	base := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = a.saveOnce(base)
		if err == nil {
			return nil
		}
		a.log.Warn("memory save failed", logx.Int("attempt", attempt), logx.Err(err))
	}
	a.log.Error("memory save gave up; keeping in-memory record", logx.Err(err))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypePersistFailed, Time: a.clock.Now(), Data: err})
	return err
}

func (a *Agent) saveOnce(ctx context.Context) (err error) {
	defer a.recoverInto(StateActing, &err)
	sctx, cancel := context.WithTimeout(ctx, a.cfg.SaveTimeout)
	defer cancel()
	return a.deps.Store.Save(sctx, a.rec)
}

// notify delivers text. Failures (including panics) are logged only.
func (a *Agent) notify(ctx context.Context, text string) (err error) {
	defer a.recoverInto(StateActing, &err)
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(a.notifyTimeout.Load()))
	defer cancel()
	if err = a.deps.Notifier.Notify(nctx, text); err != nil {
		a.log.Warn("notification failed", logx.Err(err))
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (a *Agent) recoverInto(stage State, err *error) {
	if r := recover(); r != nil {
		*err = &UnexpectedError{Stage: stage, Value: r, Stack: string(debug.Stack())}
	}
}

func isUnexpected(err error) bool {
	var ue *UnexpectedError
	return errors.As(err, &ue)
}
