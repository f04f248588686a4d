// Package portal observes seat availability on the enrollment portal with a
// headless Chrome driven through go-rod.
//
// Each Observe launches (or connects to) a browser, logs in, walks every slot
// of the enrollment dropdown and reads the table rows. The browser is always
// closed before Observe returns.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"seatwatch/internal/detect"
	"seatwatch/pkg/logx"
)

const (
	selUsername = "#txtusername"
	selPassword = "#txtpassword"
	selLogin    = "#btnlogin"
	selSlots    = "#cphbody_ddlslot"

	loggedInMarker = "StudentPortal"
)

// Config describes the portal and the browser. Credentials arrive already
// expanded; this package never reads the environment.
type Config struct {
	LoginURL  string
	EnrollURL string
	Username  string
	Password  string
	Prefix    string

	Headless  bool
	RemoteURL string // ws:// of an external Chrome; empty launches one

	Timeout     time.Duration // whole observation; default 2m
	WaitTimeout time.Duration // each element/URL wait; default 10s
	SlotSettle  time.Duration // pause after choosing a slot; default 3s
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.SlotSettle < 0 {
		c.SlotSettle = 0
	} else if c.SlotSettle == 0 {
		c.SlotSettle = 3 * time.Second
	}
	return c
}

// Validate reports missing required fields.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LoginURL) == "" {
		errs = append(errs, errors.New("login_url is required"))
	}
	if strings.TrimSpace(c.EnrollURL) == "" {
		errs = append(errs, errors.New("enroll_url is required"))
	}
	if c.Username == "" || c.Password == "" {
		errs = append(errs, errors.New("username and password are required"))
	}
	if strings.TrimSpace(c.Prefix) == "" {
		errs = append(errs, errors.New("prefix is required"))
	}
	return errors.Join(errs...)
}

// session is the slice of browser behaviour Observe needs.
type session interface {
	Open(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitURLContains(ctx context.Context, substr string) error
	Options(ctx context.Context, selector string) ([]string, error)
	Choose(ctx context.Context, selector, value string) error
	RowTexts(ctx context.Context) ([]string, error)
	Close() error
}

type launchFunc func(ctx context.Context, cfg Config, log logx.Logger) (session, error)

// Observer implements agent.Observer.
type Observer struct {
	cfg    Config
	log    logx.Logger
	launch launchFunc
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log logx.Logger) *Observer {
	return &Observer{
		cfg:    cfg.withDefaults(),
		log:    log,
		launch: launchRod,
		sleep:  sleepCtx,
	}
}

// Observe returns the current snapshot. Errors are *Error values.
func (o *Observer) Observe(ctx context.Context) (detect.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	started := time.Now()
	s, err := o.launch(ctx, o.cfg, o.log)
	if err != nil {
		return detect.Snapshot{}, stageErr(StageLaunch, err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			o.log.Warn("browser close failed", logx.Err(cerr))
		}
	}()

	if err := o.login(ctx, s); err != nil {
		return detect.Snapshot{}, err
	}

	if err := o.wait(ctx, func(c context.Context) error { return s.Open(c, o.cfg.EnrollURL) }); err != nil {
		return detect.Snapshot{}, stageErr(StageNavigate, err)
	}

	var slots []string
	err = o.wait(ctx, func(c context.Context) error {
		opts, err := s.Options(c, selSlots)
		if err != nil {
			return err
		}
		for _, v := range opts {
			if v != "" {
				slots = append(slots, v)
			}
		}
		return nil
	})
	if err != nil {
		return detect.Snapshot{}, stageErr(StageSlots, err)
	}
	o.log.Debug("slots detected", logx.Strings("slots", slots))

	var snap detect.Snapshot
	for _, slot := range slots {
		if err := o.wait(ctx, func(c context.Context) error { return s.Choose(c, selSlots, slot) }); err != nil {
			return detect.Snapshot{}, stageErr(StageScan, fmt.Errorf("slot %s: %w", slot, err))
		}
		if err := o.sleep(ctx, o.cfg.SlotSettle); err != nil {
			return detect.Snapshot{}, stageErr(StageScan, err)
		}
		rows, err := s.RowTexts(ctx)
		if err != nil {
			return detect.Snapshot{}, stageErr(StageScan, fmt.Errorf("slot %s: %w", slot, err))
		}
		n := scanRows(&snap, rows, o.cfg.Prefix)
		o.log.Debug("slot scanned", logx.String("slot", slot), logx.Int("rows", len(rows)), logx.Int("matched", n))
	}

	o.log.Info("observation complete",
		logx.Int("slots", len(slots)),
		logx.Int("items", snap.Len()),
		logx.Duration("took", time.Since(started)),
	)
	return snap, nil
}

func (o *Observer) login(ctx context.Context, s session) error {
	steps := []func(context.Context) error{
		func(c context.Context) error { return s.Open(c, o.cfg.LoginURL) },
		func(c context.Context) error { return s.Fill(c, selUsername, o.cfg.Username) },
		func(c context.Context) error { return s.Fill(c, selPassword, o.cfg.Password) },
		func(c context.Context) error { return s.Click(c, selLogin) },
		func(c context.Context) error { return s.WaitURLContains(c, loggedInMarker) },
	}
	for _, step := range steps {
		if err := o.wait(ctx, step); err != nil {
			return stageErr(StageLogin, err)
		}
	}
	return nil
}

// wait runs fn bounded by the per-step wait timeout.
func (o *Observer) wait(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, o.cfg.WaitTimeout)
	defer cancel()
	return fn(c)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
