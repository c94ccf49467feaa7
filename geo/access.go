package geo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"photowatch/pkg/photowatch"
)

// AccessStore is the subset of storage used to record access events.
type AccessStore interface {
	AppendAccessEvent(ctx context.Context, ev *photowatch.AccessEvent) error
}

// AccessLogger writes at most one access event per session.
type AccessLogger struct {
	store  AccessStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAccessLogger creates an access logger over store.
func NewAccessLogger(store AccessStore, logger *slog.Logger) *AccessLogger {
	return &AccessLogger{store: store, logger: logger, now: time.Now}
}

// LogOnce records the session's access event unless one was already written.
// A nil reading stores null coordinates. The session is only marked as logged
// after a successful write, so a failed write can be retried later in the session.
func (a *AccessLogger) LogOnce(ctx context.Context, s photowatch.Session, r *photowatch.GeoReading) (photowatch.Session, error) {
	if s.AccessLogged {
		return s, nil
	}

	ev := photowatch.NewAccessEvent(s.ID, a.now(), r)
	if err := a.store.AppendAccessEvent(ctx, ev); err != nil {
		a.logger.Warn("Failed to record access event", "session_id", s.ID, "error", err)
		return s, fmt.Errorf("record access event: %w", err)
	}

	s.AccessLogged = true
	a.logger.Info("Access event recorded",
		"session_id", s.ID,
		"has_location", ev.HasLocation(),
		"source", ev.Source)
	return s, nil
}
