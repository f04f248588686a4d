// Package backup copies the persisted memory record on a cron schedule.
package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"seatwatch/internal/eventbus"
	"seatwatch/internal/memory"
	"seatwatch/pkg/logx"
)

type Config struct {
	Schedule string // cron spec or descriptor (@daily, @every 6h); empty disables
	Dir      string
	Keep     int // default 7
	Location *time.Location
}

// Result is published as the data of eventbus.TypeBackupFinished.
type Result struct {
	Path  string        `json:"path,omitempty"`
	Took  time.Duration `json:"took"`
	Error string        `json:"error,omitempty"`
}

type Service struct {
	cfg   Config
	store memory.Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	runMu sync.Mutex // one backup at a time

	mu    sync.Mutex
	c     *cron.Cron
	entry cron.EntryID
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, store memory.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Keep == 0 {
		cfg.Keep = 7
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{cfg: cfg, store: store, log: log, bus: bus, now: time.Now}
}

func (s *Service) Enabled() bool { return strings.TrimSpace(s.cfg.Schedule) != "" }

// Start registers the schedule. It is a no-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	id, err := c.AddFunc(s.cfg.Schedule, func() {
		_, _ = s.Run(ctx)
	})
	if err != nil {
		return fmt.Errorf("backup schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c, s.entry = c, id
	s.log.Info("backup scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.String("dir", s.cfg.Dir),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("backup still running at shutdown")
	}
}

// Next is the next scheduled run, zero when not scheduled.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Run takes one backup now.
func (s *Service) Run(ctx context.Context) (string, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if strings.TrimSpace(s.cfg.Dir) == "" {
		return "", errors.New("backup dir is not configured")
	}

	start := s.now()
	path, err := memory.Backup(ctx, s.store, s.cfg.Dir, s.cfg.Keep, start)
	res := Result{Path: path, Took: s.now().Sub(start)}
	if err != nil {
		res.Error = err.Error()
		s.log.Error("backup failed", logx.Err(err))
	} else {
		s.log.Info("backup written", logx.String("path", path), logx.Duration("took", res.Took))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeBackupFinished, Time: s.now(), Data: res})
	return path, err
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
