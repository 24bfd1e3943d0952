// Package app wires the process together: config, logging, storage,
// tracker, transport, notification pipeline and the chat command router.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"slotwatch/internal/center"
	"slotwatch/internal/config"
	"slotwatch/internal/notify"
	"slotwatch/internal/router"
	rtsup "slotwatch/internal/runtime/supervisor"
	"slotwatch/internal/slotsource"
	"slotwatch/internal/storage"
	"slotwatch/internal/tracker"
	kit "slotwatch/internal/transport"
	"slotwatch/internal/transport/telegram"
	"slotwatch/internal/watch"
	logx "slotwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	adapter *telegram.Adapter
	store   storage.Store
	track   *tracker.Tracker
	centers *center.Catalog

	notif  *notify.Service
	worker *watch.Worker
	sched  *watch.Scheduler
	router *router.Router
	crond  *cron.Cron

	sup     *rtsup.Supervisor
	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	catalog, err := center.NewCatalog(cfg.Centers)
	if err != nil {
		return nil, err
	}
	if catalog.Len() == 0 {
		log.Warn("no centers configured; nothing will be polled")
	}

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	track := tracker.New(context.Background(), store, logs.Logger().With(logx.String("comp", "tracker")))

	notif := notify.New(notify.Config{RatePerSec: cfg.Notify.RatePerSec},
		adapter, logs.Logger().With(logx.String("comp", "notifier")))

	requestTimeout, err := config.ParseDuration("watch.request_timeout", cfg.Watch.RequestTimeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	sourceURL := cfg.Watch.SourceURL
	if strings.TrimSpace(sourceURL) == "" {
		sourceURL = config.DefaultSourceURL
	}
	src := slotsource.New(slotsource.Config{
		BaseURL: sourceURL,
		Limit:   cfg.Watch.SlotLimit,
		Timeout: requestTimeout,
	})

	window, err := windowFromConfig(cfg.Watch.Window)
	if err != nil {
		return nil, err
	}
	scheduleURL := cfg.Watch.ScheduleURL
	if strings.TrimSpace(scheduleURL) == "" {
		scheduleURL = config.DefaultScheduleURL
	}
	worker := watch.NewWorker(watch.WorkerConfig{
		QueueSize:   cfg.Watch.QueueSize,
		ScheduleURL: scheduleURL,
		Window:      window,
	}, src, track, notif, catalog, logs.Logger().With(logx.String("comp", "worker")))

	pollInterval, err := config.ParseDuration("watch.poll_interval", cfg.Watch.PollInterval, 15*time.Second)
	if err != nil {
		return nil, err
	}
	retryInterval, err := config.ParseDuration("watch.retry_interval", cfg.Watch.RetryInterval, time.Second)
	if err != nil {
		return nil, err
	}
	sched := watch.NewScheduler(watch.SchedulerConfig{
		PollInterval:  pollInterval,
		RetryInterval: retryInterval,
	}, track, worker, logs.Logger().With(logx.String("comp", "scheduler")))

	rt := router.New(track, catalog, notif, logs.Logger().With(logx.String("comp", "router")))

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		adapter: adapter,
		store:   store,
		track:   track,
		centers: catalog,
		notif:   notif,
		worker:  worker,
		sched:   sched,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}

	refreshSpec := strings.TrimSpace(cfg.Maintenance.RefreshSpec)
	if refreshSpec == "" {
		refreshSpec = "@daily"
	}
	if refreshSpec != "off" {
		a.crond = cron.New()
		if _, err := a.crond.AddFunc(refreshSpec, a.refreshTracker); err != nil {
			return nil, fmt.Errorf("maintenance.refresh_spec: %w", err)
		}
	}

	return a, nil
}

// Done is closed when the app supervisor context is canceled.
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateConfig)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("worker.run", a.worker.Run)
	a.sup.Go("scheduler.run", a.sched.Run)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.crond != nil {
		a.crond.Start()
	}

	a.startWatchdog()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context first so the scheduler sends its shutdown item
	// and background loops start unwinding.
	a.sup.Cancel()

	if a.crond != nil {
		cronDone := a.crond.Stop().Done()
		select {
		case <-cronDone:
		case <-ctx.Done():
			a.log.Warn("cron jobs still running at shutdown deadline")
		}
	}

	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}

	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.sup.Wait(wctx); err != nil {
		a.log.Warn("shutdown wait", logx.Err(err))
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// validateConfig gates hot reloads: a file that fails here is rejected and
// the previous config stays in effect.
func (a *App) validateConfig(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return err
	}
	for _, field := range []struct{ name, raw string }{
		{"watch.poll_interval", cfg.Watch.PollInterval},
		{"watch.retry_interval", cfg.Watch.RetryInterval},
		{"watch.request_timeout", cfg.Watch.RequestTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := config.ParseDuration(field.name, field.raw, 0); err != nil {
			return err
		}
	}
	if _, err := windowFromConfig(cfg.Watch.Window); err != nil {
		return err
	}
	if _, err := center.NewCatalog(cfg.Centers); err != nil {
		return err
	}
	return nil
}

// applyReload pushes live-updatable settings into running components.
// Token, storage and center changes need a restart and are left alone.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if window, err := windowFromConfig(cfg.Watch.Window); err == nil {
		a.worker.SetWindow(window)
	} else {
		a.log.Warn("keeping previous eligibility window", logx.Err(err))
	}

	a.notif.Apply(notify.Config{RatePerSec: cfg.Notify.RatePerSec})

	a.log.Info("config reloaded")
}

func (a *App) refreshTracker() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := a.track.RefreshAll(ctx); err != nil {
		a.log.Warn("tracker refresh failed", logx.Err(err))
	}
}

// startWatchdog feeds the systemd watchdog when one is armed.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func windowFromConfig(w config.WindowConfig) (watch.Window, error) {
	notBefore, err := config.ParseDate("watch.window.not_before", w.NotBefore)
	if err != nil {
		return watch.Window{}, err
	}
	notAfter, err := config.ParseDate("watch.window.not_after", w.NotAfter)
	if err != nil {
		return watch.Window{}, err
	}
	if !notBefore.IsZero() && !notAfter.IsZero() && notAfter.Before(notBefore) {
		return watch.Window{}, fmt.Errorf("watch.window: not_after precedes not_before")
	}
	return watch.Window{NotBefore: notBefore, NotAfter: notAfter}, nil
}
