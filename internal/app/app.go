package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"admind/internal/adminapi"
	"admind/internal/config"
	"admind/internal/observability"
	"admind/internal/runtime/supervisor"
	"admind/internal/scanner"
	"admind/internal/scheduler"
	"admind/internal/storage"
	"admind/internal/systemd"
	"admind/internal/transport/telegram"
	logx "admind/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	sup     *supervisor.Supervisor
	scanSup *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	client   *adminapi.Client
	launcher *scanner.Launcher
	sched    *scheduler.Scheduler

	metrics *observability.Metrics
	server  *observability.Server
	notify  *systemd.Notifier

	lastTick atomic.Pointer[scheduler.TickReport]
}

type options struct {
	lookup    config.LookupFunc
	clock     clock.Clock
	openStore func(storage.Config, logx.Logger) (storage.Store, error)
}

type Option func(*options)

// WithLookup replaces the process environment as the config source.
func WithLookup(fn config.LookupFunc) Option { return func(o *options) { o.lookup = fn } }

// WithClock replaces the wall clock driving the scheduler.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// New loads and validates the configuration and wires every component. A
// missing required value fails here with config.ErrConfigMissing, before any
// component exists.
func New(cfgPath string, opts ...Option) (_ *App, err error) {
	o := options{clock: clock.New(), openStore: storage.Open}
	for _, fn := range opts {
		fn(&o)
	}

	var cmOpts []config.Option
	if o.lookup != nil {
		cmOpts = append(cmOpts, config.WithLookup(o.lookup))
	}
	cfgm := config.NewManager(cfgPath, cmOpts...)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}

	var sender logx.Sender
	if cfg.Logging.Telegram.Enabled {
		tg, err := telegram.New(telegram.Config{Token: cfg.Logging.Telegram.Token})
		if err != nil {
			return nil, fmt.Errorf("telegram log sink: %w", err)
		}
		sender = tg
	}
	logSvc, log := logx.New(mapLogConfig(cfg), sender)

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		metrics: observability.NewMetrics(),
		notify:  systemd.New(log.With(logx.String("comp", "systemd"))),
		scanSup: supervisor.New(context.Background(), supervisor.WithLogger(log.With(logx.String("comp", "scanner")))),
	}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := o.openStore(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	rec := recorder{store: a.store, log: log.With(logx.String("comp", "storage"))}

	a.client, err = adminapi.New(mapAdminConfig(cfg), log.With(logx.String("comp", "adminapi")),
		adminapi.WithObserver(a.metrics.ObserveOutcome),
		adminapi.WithObserver(rec.outcome),
	)
	if err != nil {
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	var launcher scheduler.Launcher
	if schedCfg.Scan {
		sc, err := mapScannerConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.launcher, err = scanner.New(sc, a.scanSup, log.With(logx.String("comp", "scanner")), scanner.Hooks{
			OnLaunch: func(r *scanner.Run, err error) {
				a.metrics.ObserveLaunch(r, err)
				rec.launch(r, err)
			},
			OnExit: func(r *scanner.Run, e scanner.Exit) {
				a.metrics.ObserveExit(r, e)
				rec.exit(r, e)
			},
		})
		if err != nil {
			return nil, err
		}
		launcher = a.launcher
	}

	a.sched, err = scheduler.New(schedCfg, a.client, launcher, o.clock, log.With(logx.String("comp", "scheduler")),
		scheduler.WithTickObserver(a.metrics.ObserveTick),
		scheduler.WithTickObserver(a.onTick),
	)
	if err != nil {
		return nil, err
	}
	a.metrics.SetEpoch(a.sched.Epoch())

	a.server = observability.NewServer(mapServerConfig(cfg), a.metrics, a.health, log.With(logx.String("comp", "observability")))

	a.log.Info("configured",
		logx.String("config_path", cfgm.Path()),
		logx.String("environment", cfg.Environment),
		logx.String("admin_base_url", mapAdminConfig(cfg).BaseURL),
		logx.Bool("transfer", schedCfg.Transfer),
		logx.Bool("scanner", schedCfg.Scan),
		logx.Int64("epoch_hours", int64(a.sched.Epoch())),
	)
	return a, nil
}

// release closes what New opened when wiring fails halfway.
func (a *App) release() {
	a.scanSup.Cancel()
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	_ = a.logs.Close()
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	a.server.Start(a.sup)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("scheduler.loop", a.sched.Run)

	if d := a.notify.WatchdogInterval(); d > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			a.notify.Watchdog(c, d)
		})
		a.log.Debug("systemd watchdog enabled", logx.Duration("timeout", d))
	}

	a.notify.Ready(fmt.Sprintf("epoch %dh", a.sched.Epoch()))
	a.log.Info("app started")
	return nil
}

// applyConfig applies the live parts of a reloaded config. Everything except
// logging needs a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	for _, s := range sections {
		if s == "logging" {
			lc := mapLogConfig(newCfg)
			if lc.Telegram.Enabled && !a.cfg.Logging.Telegram.Enabled {
				a.log.Warn("telegram log sink needs a restart to start")
			}
			a.logs.Apply(lc)
		}
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) onTick(r scheduler.TickReport) {
	a.lastTick.Store(&r)
	status := fmt.Sprintf("tick %d, %dh since start", r.Seq, r.Elapsed)
	if a.launcher != nil {
		if n := a.launcher.Active(); n > 0 {
			status += fmt.Sprintf(", %d scanner(s) running", n)
		}
	}
	a.notify.Tick(status)
}

// health is served at /healthz.
func (a *App) health() any {
	out := map[string]any{
		"status":      "ok",
		"epoch_hours": int64(a.sched.Epoch()),
	}
	if r := a.lastTick.Load(); r != nil {
		out["ticks"] = r.Seq
		out["last_tick"] = r.Started
		out["last_tick_took"] = r.Took.String()
		out["elapsed_hours"] = r.Elapsed
	}
	if a.launcher != nil {
		out["scanner_active"] = a.launcher.Active()
		out["scanner_waits"] = a.scanSup.Counters()
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Counters()
	}
	return out
}

// Once runs a single tick synchronously. With forceScan the scanner is
// launched even when the cadence is not due. Any scanner started here is
// waited for before Once returns.
func (a *App) Once(ctx context.Context, forceScan bool) (scheduler.TickReport, error) {
	rep := a.sched.Tick(ctx)

	var runs []*scanner.Run
	if rep.Run != nil {
		runs = append(runs, rep.Run)
	}
	if forceScan && !rep.Launched {
		if a.launcher == nil {
			return rep, fmt.Errorf("scanner is disabled (scheduler.scanner_enabled=false)")
		}
		r, err := a.launcher.Launch()
		if err != nil {
			a.log.Error("error launching scanner", logx.Err(err))
			return rep, err
		}
		runs = append(runs, r)
	}

	for _, r := range runs {
		select {
		case <-r.Done():
		case <-ctx.Done():
			a.log.Warn("not waiting for scanner", logx.Int("pid", r.PID), logx.Err(ctx.Err()))
			return rep, ctx.Err()
		}
	}
	return rep, nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	if a.sup != nil {
		a.sup.Cancel()
	}

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.sup != nil {
		step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	if a.launcher != nil {
		if n := a.launcher.Active(); n > 0 {
			a.log.Warn("scanner still running; leaving it to finish on its own", logx.Int("active", n))
		}
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
