// Package app is the lifecycle driver. It resolves the configuration, brings
// up the pulse line, configures the execution context, runs the periodic
// task to completion and tears everything down in reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"rtpulse/internal/config"
	"rtpulse/internal/eventbus"
	"rtpulse/internal/observability/monitor"
	"rtpulse/internal/pulse"
	"rtpulse/internal/rt/clock"
	"rtpulse/internal/rt/rterr"
	"rtpulse/internal/rt/sched"
	"rtpulse/internal/rt/task"
	"rtpulse/internal/runtime/supervisor"
	"rtpulse/internal/storage"
	"rtpulse/internal/telemetry"
	logx "rtpulse/pkg/logx"
	"rtpulse/pkg/systemdmanager"
)

// Options configures New. Zero OS, Clock and OpenLine select the host
// implementations.
type Options struct {
	ConfigPath string
	// Override is applied to the loaded config and to every reload, so
	// command-line flags win over file values.
	Override  func(*config.Config)
	LogOutput io.Writer

	OS       sched.OS
	Clock    clock.Source
	OpenLine func(pulse.Config) (pulse.Line, error)
	Notifier []telemetry.NotifierOption
	// InspectUnit defaults to systemdmanager.Inspect.
	InspectUnit func(context.Context, string) (*systemdmanager.UnitStatus, error)
}

type App struct {
	opts Options
	cfgm *config.Manager
	cfg  *config.Config

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
}

// New loads and validates the configuration and sets up logging and the run
// history store. Nothing touches the pulse line or the scheduler yet.
func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	fileCfg, err := cfgm.Load()
	if err != nil {
		return nil, rterr.New(rterr.KindConfig, "load config", err)
	}
	cfg := effective(fileCfg, opts.Override)
	if err := cfg.Validate(); err != nil {
		return nil, rterr.New(rterr.KindConfig, "validate config", err)
	}
	sc, storeEnabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, rterr.New(rterr.KindConfig, "storage config", err)
	}

	if opts.OS == nil {
		opts.OS = sched.HostOS()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Monotonic()
	}
	if opts.OpenLine == nil {
		opts.OpenLine = pulse.Open
	}
	if opts.InspectUnit == nil {
		opts.InspectUnit = systemdmanager.Inspect
	}

	logs, log := logx.NewWithWriter(loggingConfig(cfg), opts.LogOutput)
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return effective(c, opts.Override).Validate()
	})

	var store storage.Store
	if storeEnabled {
		store, err = storage.Open(sc, log)
		if err != nil {
			_ = logs.Close()
			return nil, rterr.New(rterr.KindResourceAcquisition, "open storage", err)
		}
		log.Debug("storage enabled", logx.String("driver", sc.Driver))
	}

	return &App{
		opts:  opts,
		cfgm:  cfgm,
		cfg:   cfg,
		log:   log,
		logs:  logs,
		bus:   eventbus.New(),
		store: store,
	}, nil
}

// effective returns a copy of cfg with override applied.
func effective(cfg *config.Config, override func(*config.Config)) *config.Config {
	c := *cfg
	if cfg.Storage != nil {
		s := *cfg.Storage
		c.Storage = &s
	}
	if override != nil {
		override(&c)
	}
	return &c
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Bus() eventbus.Bus      { return a.bus }

// Run executes one run of the periodic task and blocks until it ends: ctx
// cancelled, bounded iterations done, or a fatal error. The returned error
// maps to the process exit code through rterr.ExitCode.
//
// Once the line is initialized it is shut down exactly once on every path,
// before memory is unlocked.
func (a *App) Run(ctx context.Context) (err error) {
	rec := storage.RunRecord{ID: uuid.NewString(), StartedAt: time.Now()}
	reason := StopUnknown
	defer func() { a.finish(rec, reason, err) }()

	spec, res, err := sched.Resolve(taskRequest(a.cfg))
	if err != nil {
		reason = StopFatalError
		return err
	}
	rec.Period, rec.Clamped, rec.LockMemory = spec.Period, res.Clamped, spec.LockMemory
	if res.Clamped {
		a.log.Warn("period below minimum; clamped",
			logx.Duration("requested", res.Requested),
			logx.Duration("period", spec.Period),
		)
	}
	slice, err := waitSlice(a.cfg)
	if err != nil {
		reason = StopFatalError
		return rterr.New(rterr.KindConfig, "wait slice", err)
	}

	line, err := a.opts.OpenLine(lineConfig(a.cfg))
	if err != nil {
		reason = StopFatalError
		if rterr.KindOf(err) == rterr.KindUnknown {
			err = rterr.New(rterr.KindResourceAcquisition, "open line", err)
		}
		return err
	}
	rec.Line = line.Name()
	a.log.Info("pulse line ready", logx.String("line", line.Name()))

	conf := sched.NewConfigurator(a.opts.OS, a.log.With(logx.String("comp", "sched")))
	defer func() {
		if serr := line.Shutdown(); serr != nil {
			a.log.Warn("line shutdown failed", logx.String("line", line.Name()), logx.Err(serr))
		}
		if uerr := conf.UnlockMemory(); uerr != nil {
			a.log.Warn("munlockall failed", logx.Err(uerr))
		}
	}()

	if err := conf.LockMemory(spec); err != nil {
		reason = StopFatalError
		return err
	}
	ec, err := sched.Build(spec)
	if err != nil {
		reason = StopFatalError
		return err
	}
	rec.Policy, rec.Priority = ec.Policy.String(), ec.Priority

	t, err := task.New(task.Config{
		Spec:         spec,
		Context:      ec,
		Line:         line,
		Clock:        a.opts.Clock,
		Configurator: conf,
		Iterations:   a.cfg.Task.Iterations,
		WaitSlice:    slice,
	}, a.log, a.bus)
	if err != nil {
		reason = StopFatalError
		return err
	}
	reporter, err := telemetry.NewReporter(a.cfg.Telemetry.Schedule, t.Snapshot, a.log, a.bus)
	if err != nil {
		reason = StopFatalError
		return rterr.New(rterr.KindConfig, "telemetry", err)
	}
	notif := telemetry.NewNotifier(a.cfg.Telemetry.Systemd, a.log, a.opts.Notifier...)

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if serr := sup.Stop(stopCtx); serr != nil {
			a.log.Warn("background goroutines stopped with error", logx.Err(serr))
		}
	}()
	var mon *monitor.Server
	if mc := a.cfg.Monitor; mc.Enabled {
		mon, err = monitor.New(monitor.Config{
			Addr:          mc.Addr,
			Token:         mc.Token,
			AllowInsecure: mc.AllowInsecure,
			Pprof:         mc.Pprof,
		}, monitor.Sources{Stats: t.Snapshot, Supervisor: sup.Snapshot}, a.log)
		if err != nil {
			reason = StopFatalError
			return rterr.New(rterr.KindConfig, "monitor", err)
		}
	}
	a.startEventLog(sup)

	if err := t.Start(ctx); err != nil {
		reason = StopFatalError
		return err
	}
	defer func() {
		st := t.Snapshot()
		rec.Iterations, rec.Overruns = st.Iterations, st.Overruns
		rec.ActuationErrors, rec.MaxLateness = st.ActuationErrors, st.MaxLateness
	}()

	notif.Ready()
	notif.Status(fmt.Sprintf("pulsing %s every %s", line.Name(), spec.Period))

	reloads := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(reloads)
		a.reloadLoop(c, reloads, reporter)
	})
	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go("telemetry.report", reporter.Run)
	sup.Go("systemd.watchdog", func(c context.Context) error {
		return notif.Watchdog(c, t.Iterations)
	})
	if mon != nil {
		sup.GoRestart("monitor.http", mon.Serve, 500*time.Millisecond, 10*time.Second)
	}

	err = t.Wait()
	notif.Stopping()
	switch {
	case err != nil:
		reason = StopFatalError
	case ctx.Err() != nil:
		reason = StopSignal
	case a.cfg.Task.Iterations > 0 && t.Iterations() >= a.cfg.Task.Iterations:
		reason = StopCompleted
	}
	return err
}

// finish logs the outcome and records the run.
func (a *App) finish(rec storage.RunRecord, reason StopReason, err error) {
	rec.StoppedAt = time.Now()
	rec.StopReason = string(reason)
	rec.ExitCode = rterr.ExitCode(err)
	if err != nil {
		rec.Error = err.Error()
	}

	fields := []logx.Field{
		logx.String("run", rec.ID),
		logx.String("reason", rec.StopReason),
		logx.Uint64("iterations", rec.Iterations),
		logx.Uint64("overruns", rec.Overruns),
		logx.Uint64("actuation_errors", rec.ActuationErrors),
		logx.Duration("max_lateness", rec.MaxLateness),
		logx.Duration("took", rec.StoppedAt.Sub(rec.StartedAt)),
	}
	if err != nil {
		fields = append(fields,
			logx.String("kind", rterr.KindOf(err).String()),
			logx.Int("exit_code", rec.ExitCode),
			logx.Err(err),
		)
		a.log.Error("run failed", fields...)
	} else {
		a.log.Info("run finished", fields...)
	}

	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if serr := a.store.AppendRun(ctx, rec); serr != nil {
			a.log.Warn("failed to record run", logx.Err(serr))
		}
		cancel()
	}
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeRun, Time: rec.StoppedAt, Data: rec})
	}
}

// startEventLog subscribes before the task starts so no state transition is
// missed, and drains what is left when the supervisor stops.
func (a *App) startEventLog(sup *supervisor.Supervisor) {
	events, unsub := a.bus.Subscribe(64)
	logEvent := func(e eventbus.Event) {
		if se, ok := e.Data.(task.StateEvent); ok {
			a.log.Debug("event", logx.String("type", e.Type),
				logx.String("from", se.From.String()), logx.String("to", se.To.String()))
			return
		}
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				for {
					select {
					case e := <-events:
						logEvent(e)
					default:
						return
					}
				}
			case e, ok := <-events:
				if !ok {
					return
				}
				logEvent(e)
			}
		}
	})
}

// reloadLoop applies what can change live (logging, telemetry schedule) and
// warns about the rest, which needs a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config, reporter *telemetry.Reporter) {
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case fileCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for more := true; more; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					fileCfg = newer
				default:
					more = false
				}
			}

			next := effective(fileCfg, a.opts.Override)
			ch := config.Summarize(last, next)
			if len(ch.Sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			if slices.Contains(ch.Sections, "logging") {
				a.logs.Apply(loggingConfig(next))
			}
			if err := reporter.Reschedule(next.Telemetry.Schedule); err != nil {
				a.log.Warn("invalid telemetry schedule; keeping previous", logx.Err(err))
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
			if ch.Restart {
				a.log.Warn("config change takes effect on the next run", fields...)
			}
			a.log.Info("config reloaded", fields...)
			last = next
		}
	}
}

// History returns the stored runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.ListRuns(ctx, limit)
}

// Probe reports the host's real-time capabilities at the configured priority.
// A non-empty unit also reads that systemd unit's limits.
func (a *App) Probe(ctx context.Context, unit string) telemetry.HostReport {
	prio := a.cfg.Task.Priority
	if prio == 0 {
		prio = sched.DefaultPriority
	}
	r := telemetry.Probe(a.opts.OS, prio)
	if unit == "" {
		return r
	}
	st, err := a.opts.InspectUnit(ctx, unit)
	if err != nil {
		r.UnitErr = err.Error()
		return r
	}
	r.Unit = st
	return r
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
