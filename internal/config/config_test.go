package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"
)

const validYAML = `
portal:
  login_url: https://portal.example/Login.aspx
  enroll_url: https://portal.example/StudentPortal/Enrollment.aspx
  username: ${COLLEGE_USER}
  password: ${COLLEGE_PASS}
  prefix: CSA07
  timeout: 2m
telegram:
  token: ${TG_TOKEN}
  chat_id: ${TG_CHAT}
  owner_user_ids: [42]
agent:
  base_interval: 120s
  timezone: Asia/Kolkata
memory:
  driver: sqlite
  path: ./agent_memory.db
  backup: { schedule: "@daily", dir: ./backups, keep: 7 }
notifier:
  timeout: 10s
  rate_per_sec: 1
logging:
  level: info
  console: true
  file: { enabled: false, path: "" }
`

func env(vars map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

var testEnv = env(map[string]string{
	"COLLEGE_USER": "student",
	"COLLEGE_PASS": "s3cret",
	"TG_TOKEN":     "123:abc",
	"TG_CHAT":      "-100200300",
})

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAMLWithEnv(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "seatwatch.yaml", validYAML), WithLookup(testEnv))
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Portal.Username != "student" || cfg.Portal.Password != "s3cret" {
		t.Fatalf("portal credentials not expanded: %+v", cfg.Portal)
	}
	id, err := cfg.Telegram.ChatIDValue()
	if err != nil || id != -100200300 {
		t.Fatalf("chat id = %d, %v", id, err)
	}
	if !cfg.Portal.IsHeadless() {
		t.Fatal("headless should default to true")
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, path, body, wantErr string
	}{
		{"unknown field json", "c.json", `{"portal":{"login_url":"x","bogus":1}}`, "unknown field"},
		{"unknown field yaml", "c.yaml", "agent:\n  base_intervall: 10s\n", "unknown field"},
		{"trailing data", "c.json", `{"portal":{}} {"portal":{}}`, "trailing data"},
		{"trailing array", "c.json", `{"portal":{}} []`, "trailing data"},
		{"trailing garbage", "c.json", `{"portal":{}} }`, "trailing data"},
		{"trailing whitespace", "c.json", "{\"portal\":{}}\n\n", ""},
		{"bad yaml", "c.yml", "portal: [unclosed", "yaml"},
		{"numeric chat id", "c.json", `{"telegram":{"chat_id":-100}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.body))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvReportsMissing(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Portal:   PortalConfig{Username: "${A}", Password: "x${B}y"},
		Telegram: TelegramConfig{Token: "$NOT_A_REF", ChatID: "${B}"},
		Memory:   MemoryConfig{S3: S3Config{Bucket: "${MISSING}"}},
	}
	missing := ExpandEnv(cfg, env(map[string]string{"A": "a", "B": "b"}))
	if !reflect.DeepEqual(missing, []string{"MISSING"}) {
		t.Fatalf("missing = %v", missing)
	}
	if cfg.Portal.Username != "a" || cfg.Portal.Password != "xby" || cfg.Telegram.ChatID != "b" {
		t.Fatalf("expanded = %+v / %+v", cfg.Portal, cfg.Telegram)
	}
	if cfg.Telegram.Token != "$NOT_A_REF" {
		t.Fatalf("bare $ must be left alone: %q", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		cfg, err := Decode("c.yaml", []byte(validYAML))
		if err != nil {
			t.Fatal(err)
		}
		ExpandEnv(cfg, testEnv)
		return cfg
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no prefix", func(c *Config) { c.Portal.Prefix = "" }, "portal.prefix"},
		{"bad duration", func(c *Config) { c.Agent.Jitter = "soon" }, "agent.jitter"},
		{"bad timezone", func(c *Config) { c.Agent.Timezone = "Mars/Olympus" }, "agent.timezone"},
		{"unknown driver", func(c *Config) { c.Memory.Driver = "redis" }, "memory.driver"},
		{"s3 without bucket", func(c *Config) { c.Memory.Driver = "s3" }, "memory.s3.bucket"},
		{"bad cron", func(c *Config) { c.Memory.Backup.Schedule = "every day" }, "memory.backup.schedule"},
		{"backup schedule without dir", func(c *Config) { c.Memory.Backup.Dir = "" }, "memory.backup.dir"},
		{"backup disabled without dir", func(c *Config) { c.Memory.Backup = BackupConfig{} }, ""},
		{"sqlite without path", func(c *Config) { c.Memory.Path = "" }, "memory.path"},
		{"file driver may omit path", func(c *Config) {
			c.Memory.Driver = "file"
			c.Memory.Path = ""
		}, ""},
		{"bad chat id", func(c *Config) { c.Telegram.ChatID = "general" }, "telegram.chat_id"},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"log driver needs no telegram", func(c *Config) {
			c.Notifier.Driver = "log"
			c.Telegram = TelegramConfig{}
		}, ""},
		{"open ops without token", func(c *Config) {
			c.Ops = OpsConfig{Enabled: true, Addr: "0.0.0.0:9464"}
		}, "ops.addr"},
		{"open ops with token", func(c *Config) {
			c.Ops = OpsConfig{Enabled: true, Addr: "0.0.0.0:9464", Token: "t"}
		}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a, err := Decode("c.yaml", []byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Decode("c.yaml", []byte(validYAML))
	if ch := Diff(a, b); !ch.Empty() {
		t.Fatalf("identical configs differ: %v", ch.Sections)
	}

	b.Logging.Level = "debug"
	b.Telegram.OwnerUserIDs = []int64{42, 43}
	b.Memory.Driver = "file"
	b.Agent.Timezone = "UTC"
	ch := Diff(a, b)
	for _, s := range []string{"logging", "telegram.owner_user_ids", "memory", "agent.timezone"} {
		if !slices.Contains(ch.Sections, s) {
			t.Fatalf("sections = %v, missing %s", ch.Sections, s)
		}
	}
	if !reflect.DeepEqual(ch.Restart, []string{"agent.timezone", "memory"}) {
		t.Fatalf("restart = %v", ch.Restart)
	}
}

func TestWatchReloads(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "seatwatch.yaml", validYAML)
	m := NewManager(path, WithLookup(testEnv), WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}
	updates := m.Subscribe(1)
	go func() { _ = m.Watch(ctx) }()

	// invalid edits are rejected; keep rewriting until the watcher sees a valid one
	bad := strings.Replace(validYAML, "prefix: CSA07", "prefix: \"\"", 1)
	good := strings.Replace(validYAML, "level: info", "level: debug", 1)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	wroteBad := false
	for {
		select {
		case cfg := <-updates:
			if cfg.Portal.Prefix == "" {
				t.Fatal("invalid config published")
			}
			if cfg.Logging.Level != "debug" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			return
		case <-tick.C:
			body := good
			if !wroteBad {
				body, wroteBad = bad, true
			}
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
		case <-ctx.Done():
			t.Fatal("no reload observed")
		}
	}
}
