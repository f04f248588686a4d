package app

import (
	"context"
	"errors"
	"strings"

	"seatwatch/internal/config"
	"seatwatch/pkg/logx"
)

// validateConfig runs every mapping so a bad value is rejected before it
// becomes current, at startup and on hot reload alike.
func validateConfig(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, err := portalConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := scheduleConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := notifierConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := memoryConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := opsConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := location(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// reloadLoop applies hot-reloadable sections. Everything else is logged as
// needing a restart.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			// keep only the newest of a burst
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(logConfig(next))

	if sc, err := scheduleConfig(next); err != nil {
		a.log.Warn("invalid agent config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	if nc, err := notifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
		if a.agent != nil {
			a.agent.SetNotifyTimeout(notifyTimeout(nc))
		}
	}
	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config applied", fields...)
	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.Strings("sections", ch.Restart))
	}
}
