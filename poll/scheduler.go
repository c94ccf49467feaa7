package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"photowatch/geo"
	"photowatch/pkg/photowatch"
)

// Scheduler owns the single operator session and serialises every operation on it.
// Visitor sessions only carry access-logging state.
type Scheduler struct {
	coord    *Coordinator
	access   *geo.AccessLogger
	logger   *slog.Logger
	visitors map[string]photowatch.Session
	session  photowatch.Session
	mu       sync.Mutex
}

// NewScheduler creates a scheduler with a fresh session. access may be nil.
func NewScheduler(coord *Coordinator, access *geo.AccessLogger, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		coord:    coord,
		access:   access,
		logger:   logger,
		session:  photowatch.NewSession(),
		visitors: make(map[string]photowatch.Session),
	}
}

// Session returns a copy of the current session state.
func (s *Scheduler) Session() photowatch.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Trigger runs one check against the current session.
func (s *Scheduler) Trigger(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	res, s.session = s.coord.Check(ctx, s.session)
	return res
}

// Seed writes the configured bootstrap observation if the history is empty.
func (s *Scheduler) Seed(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	res, s.session = s.coord.Seed(ctx, s.session)
	return res
}

// Register records a manually supplied photo URL.
func (s *Scheduler) Register(ctx context.Context, rawURL string, loc *photowatch.GeoReading) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	res, s.session = s.coord.Register(ctx, s.session, rawURL, loc)
	return res
}

// LogAccess records the access event of the session named by sessionID, or of
// the operator session when sessionID is empty. It reports whether this call
// wrote the event.
func (s *Scheduler) LogAccess(ctx context.Context, sessionID string, r *photowatch.GeoReading) (bool, error) {
	if s.access == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sessionID != "" && sessionID != s.session.ID {
		var ok bool
		if sess, ok = s.visitors[sessionID]; !ok {
			sess = photowatch.Session{ID: sessionID}
		}
	}
	if sess.AccessLogged {
		return false, nil
	}

	sess, err := s.access.LogOnce(ctx, sess, r)
	if err != nil {
		return false, err
	}
	if sess.ID == s.session.ID {
		s.session = sess
	} else {
		s.visitors[sess.ID] = sess
	}
	return true, nil
}

// Run triggers a check immediately and then every interval until ctx is done.
// The next check never fires before the debounce window of the previous one
// has elapsed, so an interval equal to the window does not skip checks.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.coord.cfg.MinInterval
	}
	s.logger.Info("Scheduler started", "interval", interval.String(), "session_id", s.Session().ID)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		started := time.Now()
		res := s.Trigger(ctx)
		s.logger.Info("Scheduled check completed",
			"status", res.Status,
			"message", res.Message,
			"notified", res.Notified)

		timer.Reset(s.nextWait(started, interval))
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextWait returns the delay until the next scheduled check: one interval
// after started, and no earlier than the end of the current debounce window.
func (s *Scheduler) nextWait(started time.Time, interval time.Duration) time.Duration {
	next := started.Add(interval)
	if last := s.Session().LastCheckedAt; !last.IsZero() {
		if open := last.Add(s.coord.cfg.MinInterval); open.After(next) {
			next = open
		}
	}
	return max(time.Until(next), 0)
}
