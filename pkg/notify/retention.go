package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvio/approvio/pkg/persistence"
)

// DefaultRetention is how long notification logs are kept before the purge
// task removes them.
const DefaultRetention = 90 * 24 * time.Hour

// Retention removes aged notification logs. Deletion runs deepest first,
// delivery logs before notification logs before event logs, so a failed run
// never leaves a child row without its parent.
type Retention struct {
	persistence persistence.Persistence
	retention   time.Duration
	logger      *slog.Logger
}

func NewRetention(store persistence.Persistence, retention time.Duration, logger *slog.Logger) *Retention {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Retention{
		persistence: store,
		retention:   retention,
		logger:      logger.With("module", "notify"),
	}
}

// Purge removes log chains older than the retention window, measured from
// now. It returns the number of event log entries removed.
func (r *Retention) Purge(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.retention)

	removed, err := r.persistence.Notifications().PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notification logs: %w", err)
	}

	if removed > 0 {
		r.logger.InfoContext(ctx, "Purged notification logs",
			"removed", removed,
			"cutoff", cutoff)
	}

	return removed, nil
}
