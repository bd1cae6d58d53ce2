// Package app builds every component from config and runs them either for a
// single command or as a daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"actionrunner/internal/action"
	"actionrunner/internal/action/builtin"
	"actionrunner/internal/config"
	"actionrunner/internal/dispatch"
	"actionrunner/internal/eventbus"
	"actionrunner/internal/mailbox"
	"actionrunner/internal/runtime/supervisor"
	"actionrunner/internal/storage"
	"actionrunner/internal/stream"
	"actionrunner/internal/transport/web"
	"actionrunner/internal/trigger"
	"actionrunner/pkg/logx"
)

type Options struct {
	ConfigPath string
	// Debug forces debug mode regardless of registry.debug.
	Debug bool
	// Stdout receives action results. Nil means os.Stdout.
	Stdout io.Writer
	// Dialer opens mailboxes. Nil means IMAP.
	Dialer mailbox.Dialer
	// Register adds handler factories next to the built-in ones.
	Register func(reg *action.Registry)
}

type App struct {
	cfgm *config.ConfigManager
	out  io.Writer
	// forceDebug comes from the command line and survives reloads.
	forceDebug bool

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg     *action.Registry
	journal *action.Journal
	detach  func()

	disp    *dispatch.Dispatcher
	scanner *trigger.Scanner
	trig    *trigger.Service
	web     *web.Server

	sup *supervisor.Supervisor

	mu      sync.Mutex
	applied *config.Config
}

func New(opts Options) (_ *App, err error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", opts.ConfigPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Debug("storage enabled", logx.String("driver", sc.Driver))
	}
	defer func() {
		if err != nil && store != nil {
			_ = store.Close()
		}
	}()

	root, rootName := mapRegistryRoot(cfg)
	reg := action.New(action.Options{
		DefaultRoot:     root,
		DefaultRootName: rootName,
		Debug:           opts.Debug || cfg.Registry.Debug,
		Logger:          log,
	})
	builtin.Register(reg)
	if opts.Register != nil {
		opts.Register(reg)
	}
	syncAliases(reg, nil, cfg.Registry.Paths)

	jopts := action.JournalOptions{Size: cfg.Registry.HistorySize, Logger: log, Bus: bus}
	if store != nil {
		jopts.Sink = store
	}
	journal := action.NewJournal(jopts)
	detach := reg.Attach(journal.Observe)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = mailbox.IMAP{Log: log.With(logx.String("comp", "imap"))}
	}
	scfg, err := mapScannerConfig(cfg)
	if err != nil {
		return nil, err
	}
	scanner, err := trigger.NewScanner(scfg, dialer, log, bus)
	if err != nil {
		return nil, err
	}

	disp := dispatch.New(reg, dispatch.Options{Logger: log, Bus: bus, Sweeper: scanner})

	out := opts.Stdout
	if out == nil {
		out = logx.Stdout()
	}
	tcfg, err := mapTriggerServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	trig := trigger.NewService(tcfg, scanner, disp, out, log)

	a := &App{
		cfgm:       cfgm,
		out:        out,
		forceDebug: opts.Debug,
		root:       log,
		log:        appLog,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		reg:        reg,
		journal:    journal,
		detach:     detach,
		disp:       disp,
		scanner:    scanner,
		trig:       trig,
		applied:    cfg,
	}

	wcfg, err := mapWebConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.web = web.New(wcfg, web.Deps{
		Runner:  disp,
		Records: a,
		Debug:   reg.Debug,
		Health:  a.health,
	}, log.With(logx.String("comp", "http")))

	return a, nil
}

func (a *App) Registry() *action.Registry { return a.reg }

func (a *App) Journal() *action.Journal { return a.journal }

// RunCommand runs positional arguments: argv[0] is the program name and
// argv[1] a logical path or the email sentinel.
func (a *App) RunCommand(ctx context.Context, argv []string) error {
	return a.disp.RunCommand(ctx, argv, a.out)
}

// RunQuery runs a direct request given as a raw query string.
func (a *App) RunQuery(ctx context.Context, raw string) error {
	return a.disp.RunQuery(ctx, raw, a.out)
}

// Open streams an action:// URL. The action runs on the first read.
func (a *App) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	r, err := stream.Open(ctx, a.reg, rawURL, a.root)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// HTTPClient returns a client that also serves action:// URLs.
func (a *App) HTTPClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.RegisterProtocol(stream.Scheme, stream.NewTransport(a.reg, a.root))
	return &http.Client{Transport: t}
}

// Close releases resources after command mode.
func (a *App) Close() error {
	if a.detach != nil {
		a.detach()
	}
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Done is closed when the daemon supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal daemon error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs daemon mode: the trigger poll loop, the HTTP channel and config
// hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.trig.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.web.Enabled() {
		if err := a.web.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	a.sup.Go("eventbus.log", func(c context.Context) error {
		eventbus.Consume(c, a.bus, 128, func(e eventbus.Event) {
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		})
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						drained = true
					}
				}
				a.apply(c, cfg)
			}
		}
	})

	if _, err := os.Stat(a.cfgm.Path()); err == nil {
		a.sup.GoRestart("config.watch", a.cfgm.Watch)
	} else {
		a.log.Info("no config file; hot reload disabled", logx.String("path", a.cfgm.Path()))
	}

	a.sup.Go("systemd.watchdog", func(c context.Context) error { return watchdogLoop(c, a.log) })
	notifySystemd(a.log, daemon.SdNotifyReady)

	a.log.Info("daemon started",
		logx.Bool("debug", a.reg.Debug()),
		logx.Int("triggers", a.scanner.Len()),
		logx.Bool("http", a.web.Enabled()),
	)
	return nil
}

// validate is the hot reload gate: nothing is applied unless it passes.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := validateTriggers(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err := mapWebConfig(cfg)
	return err
}

// apply pushes a validated config into the running components.
func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	prev := a.applied
	a.applied = cfg
	a.mu.Unlock()

	notifySystemd(a.log, daemon.SdNotifyReloading)
	defer notifySystemd(a.log, daemon.SdNotifyReady)

	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(cfg))

	a.reg.SetDebug(a.forceDebug || cfg.Registry.Debug)
	a.journal.Resize(cfg.Registry.HistorySize)
	syncAliases(a.reg, prev.Registry.Paths, clonePaths(cfg.Registry.Paths))

	var errs []error
	if sc, err := mapScannerConfig(cfg); err != nil {
		errs = append(errs, err)
	} else if err := a.scanner.Apply(sc); err != nil {
		errs = append(errs, err)
	}
	if tc, err := mapTriggerServiceConfig(cfg); err != nil {
		errs = append(errs, err)
	} else if err := a.trig.Apply(tc); err != nil {
		errs = append(errs, err)
	}
	if wc, err := mapWebConfig(cfg); err != nil {
		errs = append(errs, err)
	} else if err := a.web.Apply(ctx, wc); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("config partially applied", logx.Err(err))
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
	if strings.TrimSpace(prev.Registry.DefaultRoot) != strings.TrimSpace(cfg.Registry.DefaultRoot) {
		a.log.Warn("registry.default_root changed; restart required for changes to take effect")
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts the daemon down. Each step is bounded so one component cannot
// stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("trigger", 3*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error { a.web.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	return a.Close()
}
