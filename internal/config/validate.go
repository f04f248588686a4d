package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks cfg as a whole and reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	p := cfg.Portal
	if strings.TrimSpace(p.LoginURL) == "" {
		add(errors.New("portal.login_url is required"))
	}
	if strings.TrimSpace(p.EnrollURL) == "" {
		add(errors.New("portal.enroll_url is required"))
	}
	if p.Username == "" || p.Password == "" {
		add(errors.New("portal.username and portal.password are required"))
	}
	if strings.TrimSpace(p.Prefix) == "" {
		add(errors.New("portal.prefix is required"))
	}
	dur("portal.timeout", p.Timeout)
	dur("portal.wait_timeout", p.WaitTimeout)
	dur("portal.slot_settle", p.SlotSettle)

	a := cfg.Agent
	dur("agent.base_interval", a.BaseInterval)
	dur("agent.fast_interval", a.FastInterval)
	dur("agent.backoff_step", a.BackoffStep)
	dur("agent.backoff_max", a.BackoffMax)
	dur("agent.jitter", a.Jitter)
	if a.FailureThreshold < 0 || a.MinReleaseSamples < 0 {
		add(errors.New("agent.failure_threshold and agent.min_release_samples must be >= 0"))
	}
	if a.Timezone != "" {
		if _, err := time.LoadLocation(a.Timezone); err != nil {
			add(fmt.Errorf("agent.timezone: %w", err))
		}
	}

	m := cfg.Memory
	switch strings.ToLower(strings.TrimSpace(m.Driver)) {
	case "", "file", "json":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(m.Path) == "" {
			add(errors.New("memory.path is required for the sqlite driver"))
		}
	case "s3":
		if strings.TrimSpace(m.S3.Bucket) == "" {
			add(errors.New("memory.s3.bucket is required for the s3 driver"))
		}
	default:
		add(fmt.Errorf("memory.driver: unknown driver %q", m.Driver))
	}
	dur("memory.busy_timeout", m.BusyTimeout)
	if m.Backup.Schedule != "" {
		if _, err := cron.ParseStandard(m.Backup.Schedule); err != nil {
			add(fmt.Errorf("memory.backup.schedule: %w", err))
		}
		if strings.TrimSpace(m.Backup.Dir) == "" {
			add(errors.New("memory.backup.dir is required when memory.backup.schedule is set"))
		}
		if m.Backup.Keep < 0 {
			add(errors.New("memory.backup.keep must be >= 0"))
		}
	}

	n := cfg.Notifier
	switch strings.ToLower(strings.TrimSpace(n.Driver)) {
	case "", "telegram":
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add(errors.New("telegram.token is required for the telegram notifier"))
		}
		_, err := cfg.Telegram.ChatIDValue()
		add(err)
	case "log":
	default:
		add(fmt.Errorf("notifier.driver: unknown driver %q", n.Driver))
	}
	dur("notifier.timeout", n.Timeout)
	if n.RatePerSec < 0 {
		add(errors.New("notifier.rate_per_sec must be >= 0"))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Telegram.Commands && strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.commands requires telegram.token"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "off":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	o := cfg.Ops
	dur("ops.read_timeout", o.ReadTimeout)
	dur("ops.write_timeout", o.WriteTimeout)
	if o.Enabled {
		addr := o.Addr
		if addr == "" {
			addr = DefaultOpsAddr
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("ops.addr: %w", err))
		} else if !IsLoopbackAddr(addr) && o.Token == "" && !o.AllowInsecure {
			add(errors.New("ops.addr is not loopback: set ops.token or ops.allow_insecure"))
		}
	}

	return errors.Join(errs...)
}

const DefaultOpsAddr = "127.0.0.1:9464"

// DefaultMemoryPath is used by the file driver when memory.path is empty.
const DefaultMemoryPath = "./agent_memory.json"

// IsLoopbackAddr reports whether host:port binds only to loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
