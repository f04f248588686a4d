package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Config is the on-disk configuration. Durations are Go duration strings
// ("30s", "2m"); string values may reference ${ENV_VARS}.
type Config struct {
	Portal   PortalConfig   `json:"portal"`
	Telegram TelegramConfig `json:"telegram"`
	Agent    AgentConfig    `json:"agent"`
	Memory   MemoryConfig   `json:"memory"`
	Notifier NotifierConfig `json:"notifier"`
	Logging  LoggingConfig  `json:"logging"`
	Ops      OpsConfig      `json:"ops"`
}

type PortalConfig struct {
	LoginURL  string `json:"login_url"`
	EnrollURL string `json:"enroll_url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Prefix    string `json:"prefix"`

	// Headless defaults to true when omitted.
	Headless  *bool  `json:"headless,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`

	Timeout     string `json:"timeout,omitempty"`      // default 2m
	WaitTimeout string `json:"wait_timeout,omitempty"` // default 10s
	SlotSettle  string `json:"slot_settle,omitempty"`  // default 3s
}

func (p PortalConfig) IsHeadless() bool { return p.Headless == nil || *p.Headless }

type TelegramConfig struct {
	Token        string  `json:"token"`
	ChatID       ChatID  `json:"chat_id"`
	ThreadID     int     `json:"thread_id,omitempty"`
	Commands     bool    `json:"commands,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"` // default 10s
	// APIURL points at a self-hosted Bot API server; empty means api.telegram.org.
	APIURL string `json:"api_url,omitempty"`
}

// ChatID accepts a JSON number or a string, so it can come from ${TG_CHAT}.
type ChatID string

func (c *ChatID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*c = ChatID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("chat_id: want number or string: %w", err)
	}
	*c = ChatID(s)
	return nil
}

// ChatIDValue parses ChatID.
func (t TelegramConfig) ChatIDValue() (int64, error) {
	s := strings.TrimSpace(string(t.ChatID))
	if s == "" {
		return 0, fmt.Errorf("telegram.chat_id is required")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.chat_id: %q is not an integer", t.ChatID)
	}
	return id, nil
}

// AgentConfig holds cadence knobs; zero values take the scheduler defaults.
type AgentConfig struct {
	BaseInterval      string `json:"base_interval,omitempty"`
	FastInterval      string `json:"fast_interval,omitempty"`
	BackoffStep       string `json:"backoff_step,omitempty"`
	BackoffMax        string `json:"backoff_max,omitempty"`
	Jitter            string `json:"jitter,omitempty"`
	FailureThreshold  int    `json:"failure_threshold,omitempty"`
	MinReleaseSamples int    `json:"min_release_samples,omitempty"`
	// Timezone is an IANA name used for release hours; empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

type MemoryConfig struct {
	Driver      string       `json:"driver,omitempty"` // file | sqlite | s3
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"`
	S3          S3Config     `json:"s3,omitzero"`
	Backup      BackupConfig `json:"backup,omitzero"`
}

type S3Config struct {
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	PathStyle       bool   `json:"path_style,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// BackupConfig schedules copies of the memory record. Empty Schedule disables it.
type BackupConfig struct {
	Schedule string `json:"schedule,omitempty"` // cron spec or @daily/@every 6h
	Dir      string `json:"dir,omitempty"`
	Keep     int    `json:"keep,omitempty"` // default 7
}

type NotifierConfig struct {
	Driver      string  `json:"driver,omitempty"`  // telegram | log
	Timeout     string  `json:"timeout,omitempty"` // default 10s
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	RetryMax    int     `json:"retry_max,omitempty"`
	HistorySize int     `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OpsConfig is the local HTTP endpoint for health, status, metrics and pprof.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default 127.0.0.1:9464
	Token   string `json:"token,omitempty"` // bearer token; required off-loopback
	Pprof   bool   `json:"pprof,omitempty"`
	// AllowInsecure permits a non-loopback Addr without a token.
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`  // default 10s
	WriteTimeout  string `json:"write_timeout,omitempty"` // default 30s
}
