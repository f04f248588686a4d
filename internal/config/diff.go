package config

import (
	"reflect"
	"slices"

	"seatwatch/pkg/logx"
)

// Sections that apply without a restart.
var hotSections = []string{"agent", "logging", "notifier", "telegram.owner_user_ids"}

// Change summarises a reload.
type Change struct {
	Sections []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
	// Fields are safe to log; secrets are never included.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(name string, changed bool, fields ...logx.Field) {
		if !changed {
			return
		}
		ch.Sections = append(ch.Sections, name)
		if !slices.Contains(hotSections, name) {
			ch.Restart = append(ch.Restart, name)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	op, np := oldCfg.Portal, newCfg.Portal
	mark("portal", !reflect.DeepEqual(op, np),
		logx.String("portal.prefix", np.Prefix),
		logx.Bool("portal.headless", np.IsHeadless()),
		logx.Bool("portal.credentials_changed", op.Username != np.Username || op.Password != np.Password),
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	mark("telegram.owner_user_ids", !slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs),
		logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
	)
	ot.OwnerUserIDs, nt.OwnerUserIDs = nil, nil
	mark("telegram", !reflect.DeepEqual(ot, nt),
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		logx.Bool("telegram.commands", nt.Commands),
	)

	oa, na := oldCfg.Agent, newCfg.Agent
	mark("agent.timezone", oa.Timezone != na.Timezone, logx.String("agent.timezone", na.Timezone))
	oa.Timezone, na.Timezone = "", ""
	mark("agent", oa != na, logx.String("agent.base_interval", na.BaseInterval))
	mark("memory", oldCfg.Memory != newCfg.Memory,
		logx.String("memory.driver", newCfg.Memory.Driver),
		logx.String("memory.backup.schedule", newCfg.Memory.Backup.Schedule),
	)
	on, nn := oldCfg.Notifier, newCfg.Notifier
	mark("notifier.driver", on.Driver != nn.Driver, logx.String("notifier.driver", nn.Driver))
	on.Driver, nn.Driver = "", ""
	mark("notifier", on != nn, logx.Any("notifier.rate_per_sec", nn.RatePerSec))
	mark("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
	)
	mark("ops", oldCfg.Ops != newCfg.Ops,
		logx.Bool("ops.enabled", newCfg.Ops.Enabled),
		logx.String("ops.addr", newCfg.Ops.Addr),
	)
	return ch
}
