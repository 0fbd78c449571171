// Package main provides the scheduler process. It drives the three
// recurring tasks of the system: dispatching due notification deliveries,
// rebuilding role maps and purging aged notification logs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/approvio/approvio/pkg/cache"
	"github.com/approvio/approvio/pkg/cmd"
	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/notify"
	"github.com/approvio/approvio/pkg/persistence"
	"github.com/approvio/approvio/pkg/rolemap"
	"github.com/approvio/approvio/pkg/scheduler"
)

// Default cron expressions for the built-in tasks. Operators can edit the
// persisted schedules afterwards; EnsureSchedule never overwrites them.
const (
	dispatchTaskName = "notification_dispatch"
	dispatchCron     = "* * * * *"

	rolemapCron = "0 3 * * *"

	retentionTaskName = "notification_retention"
	retentionCron     = "30 4 * * *"
)

type SchedulerApp struct {
	persistence  persistence.Persistence
	dispatcher   *notify.Dispatcher
	recalculator *rolemap.Recalculator
	retention    *notify.Retention
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewSchedulerApp(
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	leaseCache cache.Cache,
	dir directory.Directory,
	pollInterval time.Duration,
	retentionWindow time.Duration,
	logger *slog.Logger,
) *SchedulerApp {
	recipients := cmd.NewRecipientRegistry(store, dir, logger)
	channels := notify.NewChannels(notify.NewLogChannel(logger))
	roleMapRegistry := cmd.NewRoleMapRegistry(store, dir, logger)

	return &SchedulerApp{
		persistence:  store,
		dispatcher:   notify.NewDispatcher(store, recipients, channels, logger),
		recalculator: rolemap.NewRecalculator(leaseCache, store, roleMapRegistry, eventBus, logger),
		retention:    notify.NewRetention(store, retentionWindow, logger),
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (a *SchedulerApp) Run(ctx context.Context) error {
	registry := scheduler.NewRegistry()

	registry.Register(scheduler.TaskFunc{
		TaskName: dispatchTaskName,
		Fn: func(ctx context.Context) error {
			dispatched, err := a.dispatcher.DispatchDue(ctx, time.Now().UTC())
			if err != nil {
				return err
			}

			if dispatched > 0 {
				a.logger.InfoContext(ctx, "Dispatched due deliveries", "count", dispatched)
			}

			return nil
		},
	})

	registry.Register(scheduler.TaskFunc{
		TaskName: rolemap.TaskName,
		Fn: func(ctx context.Context) error {
			_, err := a.recalculator.TriggerFullRecalculation(ctx)

			return err
		},
	})

	registry.Register(scheduler.TaskFunc{
		TaskName: retentionTaskName,
		Fn: func(ctx context.Context) error {
			_, err := a.retention.Purge(ctx, time.Now().UTC())

			return err
		},
	})

	runner := scheduler.NewRunner(a.persistence, registry, a.pollInterval, a.logger)

	for taskName, cronExpression := range map[string]string{
		dispatchTaskName:  dispatchCron,
		rolemap.TaskName:  rolemapCron,
		retentionTaskName: retentionCron,
	} {
		if err := runner.EnsureSchedule(ctx, taskName, cronExpression); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		a.logger.Info("Shutting down scheduler")
		cancel()
	}()

	return runner.Start(runCtx)
}
