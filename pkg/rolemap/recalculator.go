package rolemap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvio/approvio/pkg/cache"
	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/events"
	"github.com/approvio/approvio/pkg/metrics"
	"github.com/approvio/approvio/pkg/persistence"
	"github.com/google/uuid"
)

const (
	// LeaseKey is the shared cache key guarding bulk recalculation.
	LeaseKey = "approvio:rolemap:recalculating"

	// DefaultLeaseTTL bounds how long a crashed holder can block the next
	// run. The lease is renewed between map types, so the TTL only needs
	// to cover one type's rebuild.
	DefaultLeaseTTL = 5 * time.Minute

	// TaskName is the scheduled task that owns periodic recalculation.
	TaskName = "rolemap_recalculate"
)

// Result reports the outcome of one recalculation attempt. Skipped means
// another process held the lease; that is expected contention, not a failure.
type Result struct {
	Skipped  bool          `json:"skipped"`
	Rebuilt  int           `json:"rebuilt"`
	MapTypes []string      `json:"map_types,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Recalculator rebuilds every registered map type under a TTL-bound lease.
// The lease is released on all exit paths; a failing builder never wedges
// the scheduler.
type Recalculator struct {
	cache       cache.Cache
	persistence persistence.Persistence
	registry    *Registry
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	leaseTTL    time.Duration
}

func NewRecalculator(
	sharedCache cache.Cache,
	store persistence.Persistence,
	registry *Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Recalculator {
	return &Recalculator{
		cache:       sharedCache,
		persistence: store,
		registry:    registry,
		publisher:   publisher,
		logger:      logger.With("module", "rolemap_recalculator"),
		leaseTTL:    DefaultLeaseTTL,
	}
}

// WithLeaseTTL overrides the lease TTL, mainly for tests.
func (r *Recalculator) WithLeaseTTL(ttl time.Duration) *Recalculator {
	r.leaseTTL = ttl

	return r
}

// TriggerFullRecalculation rebuilds all registered map types. If another
// process holds the lease the call returns a skipped result immediately.
func (r *Recalculator) TriggerFullRecalculation(ctx context.Context) (*Result, error) {
	token := uuid.New().String()

	acquired, err := r.cache.SetNX(ctx, LeaseKey, token, r.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire recalculation lease: %w", err)
	}

	if !acquired {
		r.logger.InfoContext(ctx, "Recalculation already running, skipping")
		metrics.RecalculationsTotal.WithLabelValues("skipped").Inc()

		return &Result{Skipped: true}, nil
	}

	// Unconditional release on every exit path. A holder that crashes
	// anyway frees the lease through the TTL.
	defer func() {
		released, releaseErr := r.cache.CompareAndDelete(context.WithoutCancel(ctx), LeaseKey, token)
		if releaseErr != nil {
			r.logger.Error("Failed to release recalculation lease", "error", releaseErr)
		} else if !released {
			r.logger.Warn("Recalculation lease expired before release; consider a longer TTL")
		}
	}()

	started := time.Now()
	mapTypes := r.registry.MapTypes()
	rebuilt := 0

	for _, mapType := range mapTypes {
		builder, err := r.registry.Builder(mapType)
		if err != nil {
			metrics.RecalculationsTotal.WithLabelValues("failed").Inc()

			return nil, err
		}

		r.logger.InfoContext(ctx, "Rebuilding role maps", "map_type", mapType)

		maps, err := builder.Build(ctx)
		if err != nil {
			metrics.RecalculationsTotal.WithLabelValues("failed").Inc()

			return nil, fmt.Errorf("failed to build role maps for type %s: %w", mapType, err)
		}

		err = r.persistence.RoleMaps().ReplaceAll(ctx, mapType, maps)
		if err != nil {
			metrics.RecalculationsTotal.WithLabelValues("failed").Inc()

			return nil, fmt.Errorf("failed to store role maps for type %s: %w", mapType, err)
		}

		rebuilt += len(maps)

		// Renew between types so the TTL only needs to cover one rebuild.
		_, err = r.cache.Expire(ctx, LeaseKey, r.leaseTTL)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to renew recalculation lease", "error", err)
		}
	}

	duration := time.Since(started)
	metrics.RecalculationsTotal.WithLabelValues("completed").Inc()
	metrics.RecalculationDuration.Observe(duration.Seconds())

	event := events.RoleMapsRebuilt{
		BaseEvent: events.NewBaseEvent(events.RoleMapsRebuiltEvent, ""),
		MapTypes:  mapTypes,
		Rebuilt:   rebuilt,
		Duration:  duration,
	}

	err = r.publisher.Publish(ctx, "rolemaps", event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish rolemaps rebuilt event", "error", err)
	}

	r.logger.InfoContext(ctx, "Role map recalculation complete",
		"map_types", len(mapTypes), "rebuilt", rebuilt, "duration", duration)

	return &Result{Rebuilt: rebuilt, MapTypes: mapTypes, Duration: duration}, nil
}

// QueueImmediateRerun asks the owning scheduled task to run at the next tick
// instead of waiting for its normal interval.
func (r *Recalculator) QueueImmediateRerun(ctx context.Context) error {
	schedule, err := r.persistence.Schedules().GetByTask(ctx, TaskName)
	if err != nil {
		return fmt.Errorf("failed to load recalculation schedule: %w", err)
	}

	schedule.RunImmediately(time.Now().UTC())

	err = r.persistence.Schedules().Save(ctx, schedule)
	if err != nil {
		return fmt.Errorf("failed to save recalculation schedule: %w", err)
	}

	r.logger.InfoContext(ctx, "Queued immediate recalculation rerun")

	return nil
}
