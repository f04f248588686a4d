package app

import (
	"fmt"
	"strings"
	"time"

	"seatwatch/internal/agent"
	"seatwatch/internal/backup"
	"seatwatch/internal/config"
	"seatwatch/internal/memory"
	"seatwatch/internal/notifier"
	"seatwatch/internal/opsserver"
	"seatwatch/internal/portal"
	"seatwatch/internal/schedule"
	kit "seatwatch/internal/transport"
	"seatwatch/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func location(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Agent.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("agent.timezone: %w", err)
	}
	return loc, nil
}

func scheduleConfig(cfg *config.Config) (schedule.Config, error) {
	a := cfg.Agent
	var (
		out schedule.Config
		err error
	)
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"agent.base_interval", a.BaseInterval, &out.BaseInterval},
		{"agent.fast_interval", a.FastInterval, &out.FastInterval},
		{"agent.backoff_step", a.BackoffStep, &out.BackoffStep},
		{"agent.backoff_max", a.BackoffMax, &out.BackoffMax},
		{"agent.jitter", a.Jitter, &out.Jitter},
	}
	for _, f := range fields {
		if *f.dst, err = config.ParseDurationField(f.path, f.raw); err != nil {
			return schedule.Config{}, err
		}
	}
	// an explicit "0s" disables jitter
	if strings.TrimSpace(a.Jitter) != "" && out.Jitter == 0 {
		out.Jitter = -1
	}
	out.FailureThreshold = a.FailureThreshold
	out.MinReleaseSamples = a.MinReleaseSamples
	return out, nil
}

func notifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	timeout, err := config.ParseDurationField("notifier.timeout", n.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	var chatID int64
	if notifierDriver(cfg) == "telegram" {
		if chatID, err = cfg.Telegram.ChatIDValue(); err != nil {
			return notifier.Config{}, err
		}
	}
	return notifier.Config{
		Target:      kit.ChatTarget{ChatID: chatID, ThreadID: cfg.Telegram.ThreadID},
		RatePerSec:  n.RatePerSec,
		Timeout:     timeout,
		RetryMax:    n.RetryMax,
		HistorySize: n.HistorySize,
	}, nil
}

func notifierDriver(cfg *config.Config) string {
	d := strings.ToLower(strings.TrimSpace(cfg.Notifier.Driver))
	if d == "" {
		return "telegram"
	}
	return d
}

func agentConfig(cfg *config.Config, loc *time.Location) (agent.Config, error) {
	nc, err := notifierConfig(cfg)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{Location: loc, NotifyTimeout: notifyTimeout(nc)}, nil
}

// notifyTimeout is the agent's bound on one Notify call.
func notifyTimeout(nc notifier.Config) time.Duration {
	if nc.Timeout <= 0 {
		return 10 * time.Second
	}
	return nc.Timeout
}

func portalConfig(cfg *config.Config) (portal.Config, error) {
	p := cfg.Portal
	out := portal.Config{
		LoginURL:  p.LoginURL,
		EnrollURL: p.EnrollURL,
		Username:  p.Username,
		Password:  p.Password,
		Prefix:    p.Prefix,
		Headless:  p.IsHeadless(),
		RemoteURL: p.RemoteURL,
	}
	var err error
	if out.Timeout, err = config.ParseDurationField("portal.timeout", p.Timeout); err != nil {
		return portal.Config{}, err
	}
	if out.WaitTimeout, err = config.ParseDurationField("portal.wait_timeout", p.WaitTimeout); err != nil {
		return portal.Config{}, err
	}
	if out.SlotSettle, err = config.ParseDurationField("portal.slot_settle", p.SlotSettle); err != nil {
		return portal.Config{}, err
	}
	return out, out.Validate()
}

func memoryConfig(cfg *config.Config) (memory.Config, error) {
	m := cfg.Memory
	busy, err := config.ParseDurationField("memory.busy_timeout", m.BusyTimeout)
	if err != nil {
		return memory.Config{}, err
	}
	path := strings.TrimSpace(m.Path)
	switch strings.ToLower(strings.TrimSpace(m.Driver)) {
	case "", "file", "json":
		if path == "" {
			path = config.DefaultMemoryPath
		}
	}
	return memory.Config{
		Driver:      m.Driver,
		Path:        path,
		BusyTimeout: busy,
		S3: memory.S3Config{
			Bucket:          m.S3.Bucket,
			Region:          m.S3.Region,
			Endpoint:        m.S3.Endpoint,
			Prefix:          m.S3.Prefix,
			PathStyle:       m.S3.PathStyle,
			AccessKeyID:     m.S3.AccessKeyID,
			SecretAccessKey: m.S3.SecretAccessKey,
		},
	}, nil
}

func backupConfig(cfg *config.Config, loc *time.Location) backup.Config {
	b := cfg.Memory.Backup
	return backup.Config{Schedule: b.Schedule, Dir: b.Dir, Keep: b.Keep, Location: loc}
}

func opsConfig(cfg *config.Config) (opsserver.Config, error) {
	o := cfg.Ops
	out := opsserver.Config{
		Addr:          o.Addr,
		Token:         o.Token,
		Pprof:         o.Pprof,
		AllowInsecure: o.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("ops.read_timeout", o.ReadTimeout); err != nil {
		return opsserver.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("ops.write_timeout", o.WriteTimeout); err != nil {
		return opsserver.Config{}, err
	}
	return out, nil
}
