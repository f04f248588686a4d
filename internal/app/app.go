package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"seatwatch/internal/agent"
	"seatwatch/internal/backup"
	"seatwatch/internal/config"
	"seatwatch/internal/eventbus"
	"seatwatch/internal/memory"
	"seatwatch/internal/metrics"
	"seatwatch/internal/notifier"
	"seatwatch/internal/opsserver"
	"seatwatch/internal/portal"
	"seatwatch/internal/runtime/supervisor"
	"seatwatch/internal/runtime/systemd"
	"seatwatch/internal/schedule"
	kit "seatwatch/internal/transport"
	telegram "seatwatch/internal/transport/telegram/adapter"
	"seatwatch/internal/transport/telegram/router"
	"seatwatch/pkg/logx"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store   memory.Store
	sched   *schedule.Scheduler
	notif   *notifier.Service
	adapter *telegram.Adapter // nil when neither notifications nor commands use Telegram
	router  *router.Router    // nil when telegram.commands is off
	agent   *agent.Agent
	backup  *backup.Service
	metrics *metrics.Metrics
	ops     *opsserver.Server // nil when ops.enabled is off
	sd      *systemd.Notifier

	sup     *supervisor.Supervisor
	updates chan kit.Message
}

// New loads the config file and builds the components. Nothing runs yet.
// A corrupt memory record fails here.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath,
		config.WithLogger(logx.NewConsole("info").With(logx.String("comp", "config"))),
		config.WithValidator(validateConfig),
	)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logConfig(cfg))
	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		logs:    logs,
		log:     log.With(logx.String("comp", "app")),
		bus:     eventbus.New(),
		metrics: metrics.New(),
		updates: make(chan kit.Message, 64),
	}
	if err := a.build(ctx, log); err != nil {
		a.closeStore()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, log logx.Logger) error {
	cfg := a.cfg
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	loc, err := location(cfg)
	if err != nil {
		return err
	}

	mc, err := memoryConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = memory.Open(ctx, mc, comp("memory"))
	if err != nil {
		return err
	}
	rec, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load memory: %w", err)
	}

	pc, err := portalConfig(cfg)
	if err != nil {
		return fmt.Errorf("portal: %w", err)
	}
	sc, err := scheduleConfig(cfg)
	if err != nil {
		return err
	}
	a.sched = schedule.New(sc, nil)

	nc, err := notifierConfig(cfg)
	if err != nil {
		return err
	}
	driver := notifierDriver(cfg)
	if driver == "telegram" || cfg.Telegram.Commands {
		pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
		if err != nil {
			return err
		}
		// No network here: the adapter identifies itself once polling starts,
		// so a Telegram outage does not block startup.
		a.adapter, err = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
			URL:         cfg.Telegram.APIURL,
		}, comp("telegram"))
		if err != nil {
			return err
		}
	}
	var sender kit.Sender
	switch driver {
	case "telegram":
		sender = a.adapter
	case "log":
		sender = notifier.NewLogSender(comp("notifier.dry"))
	default:
		return fmt.Errorf("unknown notifier driver: %s", driver)
	}
	a.notif = notifier.New(nc, sender, comp("notifier"), a.bus)

	a.sd = systemd.New(comp("systemd"))

	ac, err := agentConfig(cfg, loc)
	if err != nil {
		return err
	}
	a.agent = agent.New(ac, rec, agent.Deps{
		Observer:  portal.New(pc, comp("portal")),
		Notifier:  a.notif,
		Store:     a.store,
		Scheduler: a.sched,
	},
		agent.WithLogger(comp("agent")),
		agent.WithBus(a.bus),
		agent.WithHeartbeat(a.sd.Ping),
	)

	a.backup = backup.New(backupConfig(cfg, loc), a.store, comp("backup"), a.bus)

	if cfg.Telegram.Commands && a.adapter != nil {
		a.router = router.New(a.adapter, comp("commands"), cfg.Telegram.OwnerUserIDs)
		a.registerCommands()
	}

	if cfg.Ops.Enabled {
		oc, err := opsConfig(cfg)
		if err != nil {
			return err
		}
		a.ops = opsserver.New(oc, opsserver.Sources{
			Status:  func() any { return a.Status() },
			Metrics: a.metrics.Handler(),
		}, comp("ops"))
	}
	return nil
}

// Snapshot is the /status document of the ops server.
type Snapshot struct {
	Agent         agent.Status           `json:"agent"`
	Tasks         []supervisor.TaskStats `json:"tasks,omitempty"`
	Notifications []notifier.HistoryItem `json:"notifications,omitempty"`
	NextBackup    time.Time              `json:"next_backup,omitzero"`
}

func (a *App) Status() Snapshot {
	s := Snapshot{
		Agent:         a.agent.Status(),
		Notifications: a.notif.History(),
		NextBackup:    a.backup.Next(),
	}
	if a.sup != nil {
		s.Tasks = a.sup.Tasks()
	}
	return s
}

// RunOnce runs a single cycle and returns its result. No background task is
// started; used by `seatwatch once`.
func (a *App) RunOnce(ctx context.Context) agent.CycleResult {
	return a.agent.RunOnce(ctx)
}

// Backup takes one backup now; used by `seatwatch memory backup`.
func (a *App) Backup(ctx context.Context) (string, error) {
	return a.backup.Run(ctx)
}

// Done is closed when the app supervisor is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal task error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	sup := a.sup
	c := sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	sup.Go("events.log", a.logEvents)

	if a.router != nil {
		if err := a.adapter.Start(c, a.updates); err != nil {
			return err
		}
		// best effort: the menu is cosmetic, commands work without it
		cmds := a.router.Commands()
		sup.GoRestart("telegram.commands", func(c context.Context) error {
			return a.adapter.SetCommands(c, cmds)
		}, supervisor.WithRestartBackoff(5*time.Second, 5*time.Minute))
		sup.Go("commands.dispatch", func(c context.Context) error { return a.router.Run(c, a.updates) })
	}

	if err := a.backup.Start(c); err != nil {
		return err
	}

	if a.ops != nil {
		// ops is optional; a broken listener must not take the agent down
		ops := a.ops
		opsSup := supervisor.New(c, supervisor.WithLogger(a.log.With(logx.String("comp", "ops"))))
		opsSup.GoRestart("ops.http", ops.Serve, supervisor.WithRestartBackoff(500*time.Millisecond, 30*time.Second))
		sup.Go("ops.wait", func(c context.Context) error {
			<-c.Done()
			_ = opsSup.Wait(context.Background())
			return nil
		})
	}

	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go("config.reload", a.reloadLoop)

	if iv := a.sd.WatchdogInterval(); iv > 0 {
		sup.Go("systemd.watchdog", func(c context.Context) error { return a.watchdog(c, iv) })
	}

	sup.Go("agent.loop", a.agent.Run)

	a.sd.Ready()
	a.sd.Status("watching %s", a.cfg.Portal.Prefix)
	a.log.Info("app started",
		logx.String("notifier", notifierDriver(a.cfg)),
		logx.Bool("commands", a.router != nil),
		logx.Bool("ops", a.ops != nil),
		logx.Bool("backup", a.backup.Enabled()),
	)
	return nil
}

// watchdog keeps systemd fed while the loop is waiting between cycles. During
// a cycle only the per-cycle heartbeat pings, so a hung observation trips it.
func (a *App) watchdog(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			switch a.agent.Status().State {
			case agent.StateIdle, agent.StateSleeping:
				a.sd.Ping()
			}
		}
	}
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if e.Type == eventbus.TypeCycle {
				if res, ok := e.Data.(agent.CycleResult); ok && !res.Aborted {
					a.sd.Status("last cycle %s, %d items, next in %s", res.Outcome, res.Items, res.Delay.Round(time.Second))
				}
			}
		}
	}
}

// Stop shuts down in order: the loop first (a started cycle still persists),
// then transports, then storage. Each step is bounded.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		a.closeStore()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping")
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// a save in flight may take up to its own timeout
	step("tasks", 40*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("backup", 5*time.Second, func(c context.Context) error { a.backup.Stop(c); return nil })
	if a.adapter != nil {
		step("telegram", 3*time.Second, a.adapter.Stop)
	}
	step("memory", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	a.closeStore()
	return a.logs.Close()
}

func (a *App) closeStore() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("memory close failed", logx.Err(err))
		}
	}
}
