// Package app wires the daemon together: config, logging, store,
// transport, executor, scheduler, and the control-plane server. Every
// dependency is built here and passed down explicitly; packages never
// reach for globals.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/internal/config"
	"github.com/danitrap/ambrogio-agent-sub000/internal/control"
	"github.com/danitrap/ambrogio-agent-sub000/internal/convo"
	"github.com/danitrap/ambrogio-agent-sub000/internal/executor"
	"github.com/danitrap/ambrogio-agent-sub000/internal/memory"
	"github.com/danitrap/ambrogio-agent-sub000/internal/runtime/supervisor"
	"github.com/danitrap/ambrogio-agent-sub000/internal/scheduler"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
	"github.com/danitrap/ambrogio-agent-sub000/internal/transport/telegram"
	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

type App struct {
	manager *config.Manager
	logSvc  *logx.Service
	log     logx.Logger

	st    *store.Store
	sched *scheduler.Service
	ctl   *control.Server

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	manager := config.NewManager(cfgPath)
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logConfig(cfg))
	manager.SetLogger(log.With(logx.String("component", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	msgr, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		OwnerChatID: cfg.Telegram.OwnerChatID,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	runner, err := executor.NewSubprocess(executor.Config{
		Command: append([]string{cfg.Executor.Command}, cfg.Executor.Args...),
		WorkDir: cfg.Executor.WorkDir,
	}, log.With(logx.String("component", "executor")))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("executor: %w", err)
	}

	tick, err := config.ParseDurationField("scheduler.tick_interval", cfg.Scheduler.TickInterval)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	execTimeout, err := config.ParseDurationField("scheduler.exec_timeout", cfg.Scheduler.ExecTimeout)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		TickInterval:       tick,
		ExecTimeout:        execTimeout,
		BatchLimit:         cfg.Scheduler.BatchLimit,
		DeliveryRatePerSec: cfg.Scheduler.DeliveryRatePerSec,
	}, st, runner, msgr, log.With(logx.String("component", "scheduler")))

	ctl := control.NewServer(control.Config{
		SocketPath:       cfg.Control.SocketPath,
		MediaRoot:        cfg.Control.MediaRoot,
		MaxPhotoBytes:    cfg.Control.MaxPhotoBytes,
		MaxAudioBytes:    cfg.Control.MaxAudioBytes,
		MaxDocumentBytes: cfg.Control.MaxDocumentBytes,
		MaxLineBytes:     cfg.Control.MaxLineBytes,
	}, st, convo.New(st), memory.New(st), msgr, log.With(logx.String("component", "control")))

	return &App{
		manager: manager,
		logSvc:  logSvc,
		log:     log,
		st:      st,
		sched:   sched,
		ctl:     ctl,
	}, nil
}

func (a *App) Logger() logx.Logger { return a.log }

// Start brings services up in dependency order. The scheduler only runs
// when enabled in config; the control plane always serves.
func (a *App) Start(ctx context.Context) error {
	if err := a.ctl.Start(ctx); err != nil {
		return fmt.Errorf("control server: %w", err)
	}
	cfg := a.manager.Get()
	if cfg.Scheduler.Enabled {
		if err := a.sched.Start(ctx); err != nil {
			a.ctl.Stop(ctx)
			return fmt.Errorf("scheduler: %w", err)
		}
	} else {
		a.log.Warn("scheduler disabled by config; jobs will not run")
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.sup.Go("config.watch", func(ctx context.Context) {
		_ = a.manager.Watch(ctx)
	})
	a.sup.Go("config.reapply", a.reapplyLoop)

	a.log.Info("ambrogio started")
	return nil
}

// Stop tears services down in reverse order: stop taking requests, stop
// running jobs, then close storage.
func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Stop(ctx)
	}
	a.ctl.Stop(ctx)
	a.sched.Stop(ctx)
	err := a.st.Close()
	a.log.Info("ambrogio stopped")
	_ = a.logSvc.Close()
	return err
}

// reapplyLoop picks up watched config changes that can take effect
// without a restart. Today that is the logging section; anything else
// logs a notice that a restart is needed.
func (a *App) reapplyLoop(ctx context.Context) {
	ch := a.manager.Subscribe(1)
	defer a.manager.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logSvc.Apply(logConfig(cfg))
		}
	}
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
