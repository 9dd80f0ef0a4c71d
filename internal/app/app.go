package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taglistbot/internal/budget"
	"taglistbot/internal/command"
	"taglistbot/internal/config"
	"taglistbot/internal/eventbus"
	"taglistbot/internal/modules/comments"
	"taglistbot/internal/modules/deletion"
	"taglistbot/internal/queue"
	"taglistbot/internal/registry"
	rtsup "taglistbot/internal/runtime/supervisor"
	"taglistbot/internal/site"
	"taglistbot/internal/storage"
	"taglistbot/internal/subscription"
	"taglistbot/internal/task/scheduler"
	kit "taglistbot/internal/transport"
	"taglistbot/internal/transport/telegram"
	logx "taglistbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	registry *registry.Registry
	comments *queue.Queue
	deletes  *queue.Queue
	sched    *scheduler.Service

	// nil when telegram is disabled
	adapter *telegram.Adapter
	console *telegram.Console
	updates chan kit.Message
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	if err := a.build(ctx, cfg, log); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	table, err := cfg.BudgetTable()
	if err != nil {
		return err
	}

	sc := mapStorageConfig(cfg)
	st, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.store = st
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	a.registry = registry.New(st, log)
	taglists, trackers := mapRegistrySeed(cfg)
	if err := a.registry.Seed(ctx, taglists, trackers); err != nil {
		return err
	}

	client, err := site.NewHTTPClient(mapSiteConfig(cfg), log.With(logx.String("comp", "site")))
	if err != nil {
		return err
	}

	a.comments = queue.New(st, queue.KindComment, log)
	a.deletes = queue.New(st, queue.KindDeletion, log)

	d := command.NewDispatcher(cfg.Site.Mention, log.With(logx.String("comp", "commands")))
	d.Register(
		subscription.NewSubAll(a.registry, log),
		deletion.NewCommand(a.deletes, cfg.Site.AccountID),
	)

	a.sched = scheduler.New(table, scheduler.Config{Timezone: cfg.Scheduler.Timezone},
		log.With(logx.String("comp", "scheduler")), a.bus)

	modules := []scheduler.Module{
		comments.New(client, a.comments, st, a.registry, d, mapCommentsConfig(cfg), log),
		deletion.New(client, a.deletes, cfg.Budget.Modules[budget.ModuleDeletion].Batch, log),
	}
	for _, m := range modules {
		if err := a.sched.Register(m, cfg.Budget.Modules[m.Name()].Schedule); err != nil {
			return err
		}
	}

	if cfg.Telegram.Enabled {
		ad, err := telegram.New(mapTelegramConfig(cfg), log.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		a.adapter = ad
		a.logs.SetSender(ad)
		a.console = telegram.NewConsole(ad, a.sched, []telegram.QueuePort{a.comments, a.deletes},
			cfg.Telegram.OwnerUserIDs, log)
		a.updates = make(chan kit.Message, 64)
	}
	return nil
}

// Done is closed when the app supervisor is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go0("telegram.console", func(c context.Context) {
			a.console.Serve(c, a.updates)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))

	a.log.Info("app started")
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch r := e.Data.(type) {
	case scheduler.CycleResult:
		fields := []logx.Field{
			logx.String("type", e.Type),
			logx.String("module", r.Module),
			logx.Int("requests", r.Requests),
			logx.Int("consumed", r.Consumed),
			logx.Int("quota", r.Quota),
		}
		if e.Type == eventbus.CycleFinished && r.Requests > 0 {
			a.log.Info("cycle finished", fields...)
			return
		}
		a.log.Debug("event", fields...)
	case scheduler.RolloverEvent:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("closed", r.Closed))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// applyConfig applies the live sections of a reloaded config and warns
// about sections that need a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	changed, fields := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))
	fields = append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
	if rest := config.RestartRequired(changed); len(rest) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", rest))
	}
}

// Stop shuts components down in reverse start order, bounding each step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step failed", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 10*time.Second, func(c context.Context) error {
		a.sched.Stop(c)
		return nil
	})
	if a.adapter != nil {
		step("telegram", 3*time.Second, a.adapter.Stop)
	}
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", 3*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
