package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/approvio/approvio/pkg/cmd"
	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/log"
)

func main() {
	logger := log.WithModule("approvio-scheduler")

	command := &cli.Command{
		Name:                  "approvio-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Run scheduled tasks: notification dispatch, role map rebuilds and log retention",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "cache-url",
				Usage:   "Cache connection URL (redis://host:port or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("CACHE_URL"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often the poller checks for due schedules",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "retention",
				Usage:   "How long notification logs are kept before purge",
				Value:   90 * 24 * time.Hour,
				Sources: cli.EnvVars("NOTIFICATION_RETENTION"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Approvio Scheduler")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			leaseCache, err := cmd.NewCache(ctx, command.String("cache-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := leaseCache.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close cache", "error", err)
				}
			}()

			dir := directory.NewMemoryDirectory()

			app := NewSchedulerApp(
				store,
				eventBus,
				leaseCache,
				dir,
				command.Duration("poll-interval"),
				command.Duration("retention"),
				logger,
			)

			return app.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
