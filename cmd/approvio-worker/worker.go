// Package main provides the notification worker. It consumes application
// lifecycle events, matches them against notification rules and keeps the
// delivery queue consistent with application state.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/events"
	"github.com/approvio/approvio/pkg/notify"
	"github.com/approvio/approvio/pkg/otelhelper"
	"github.com/approvio/approvio/pkg/persistence"
)

type Worker struct {
	id          string
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	resolver    *notify.Resolver
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewWorker(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:          id,
		persistence: store,
		eventBus:    eventBus,
		resolver:    notify.NewResolver(store, logger),
		logger:      logger,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	tracer, err := otelhelper.NewTracer(ctx, "approvio-worker")
	if err != nil {
		return err
	}

	w.tracer = tracer

	w.logger.InfoContext(ctx, "Starting worker subscriptions")

	notifiable := []events.EventType{
		events.ApplicationSubmittedEvent,
		events.StageEnteredEvent,
		events.StageReturnedEvent,
		events.LevelAdvancedEvent,
		events.LevelApprovedEvent,
		events.ApplicationApprovedEvent,
		events.ApplicationRejectedEvent,
	}

	for _, eventType := range notifiable {
		if err := w.eventBus.Handle(eventType, w.handleNotifiable); err != nil {
			return err
		}
	}

	if err := w.eventBus.Handle(events.ApplicationCancelledEvent, w.handleCancelled); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		w.logger.Info("Shutting down worker")
	case <-ctx.Done():
	}

	return nil
}

func (w *Worker) handleNotifiable(ctx context.Context, event any) error {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.resolve_notifications")
	defer span.End()

	err := w.resolver.OnEvent(ctx, event)
	if err != nil {
		otelhelper.SetError(span, err)
		w.logger.ErrorContext(ctx, "Failed to resolve notifications", "error", err)

		return err
	}

	return nil
}

// handleCancelled drops still-pending deliveries for the cancelled
// application and then lets the cancellation itself notify like any other
// event. The cleanup here is best effort; the dispatcher checks application
// state again before sending.
func (w *Worker) handleCancelled(ctx context.Context, event any) error {
	cancelled, ok := event.(*events.ApplicationCancelled)
	if !ok {
		w.logger.Error("Invalid event type for ApplicationCancelled")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.cancel_pending_deliveries",
		attribute.String(otelhelper.ApplicationIDKey, cancelled.ApplicationID))
	defer span.End()

	cancelledJobs, err := w.persistence.Notifications().CancelJobsForApplication(ctx, cancelled.ApplicationID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	if cancelledJobs > 0 {
		w.logger.InfoContext(ctx, "Cancelled pending deliveries",
			"application_id", cancelled.ApplicationID,
			"jobs", cancelledJobs)
	}

	return w.resolver.OnEvent(ctx, event)
}
