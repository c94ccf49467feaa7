// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"photowatch/pkg/photowatch"
	"photowatch/poll"
)

// Scheduler runs operations against the operator session. Access events are
// logged against the visitor session named by sessionID.
type Scheduler interface {
	Session() photowatch.Session
	Trigger(ctx context.Context) poll.Result
	Register(ctx context.Context, rawURL string, loc *photowatch.GeoReading) poll.Result
	LogAccess(ctx context.Context, sessionID string, r *photowatch.GeoReading) (bool, error)
}

// defaultWriteTimeout covers a page resolve and a fetch at the scraper's
// default timeout plus a notification.
const defaultWriteTimeout = 60 * time.Second

// History is the read side of the store.
type History interface {
	Latest(ctx context.Context) (*photowatch.Observation, error)
	History(ctx context.Context) ([]*photowatch.Observation, error)
	AccessEvents(ctx context.Context, ascending bool) ([]*photowatch.AccessEvent, error)
	Attempts(ctx context.Context, limit int) ([]*photowatch.CheckAttempt, error)
}

// Locator resolves the server's own location for manual registrations.
type Locator interface {
	Locate(ctx context.Context) (*photowatch.GeoReading, error)
}

// Server handles HTTP requests.
type Server struct {
	scheduler Scheduler
	history   History
	locator   Locator
	limiter      *rateLimiter
	logger       *slog.Logger
	writeTimeout time.Duration
	degraded     bool
}

// Config holds server configuration.
type Config struct {
	Scheduler Scheduler
	History   History
	Locator   Locator // Optional
	Logger    *slog.Logger
	RateLimit float64 // Mutating requests per second
	RateBurst int
	// WriteTimeout bounds a whole response, including a synchronous check
	// and its notification. Zero means defaultWriteTimeout.
	WriteTimeout time.Duration
	Degraded     bool // Storage is unavailable; reported by /health
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	return &Server{
		scheduler:    cfg.Scheduler,
		history:      cfg.History,
		locator:      cfg.Locator,
		limiter:      newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:       cfg.Logger,
		writeTimeout: wt,
		degraded:     cfg.Degraded,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Get("/latest", s.handleLatest)
	r.Get("/history", s.handleHistory)
	r.Get("/access", s.handleAccessList)
	r.Get("/attempts", s.handleAttempts)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/pollz", s.handlePoll)
		r.Post("/register", s.handleRegister)
		r.Post("/access", s.handleAccess)
	})

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      s.writeTimeout,    // Covers a synchronous check and its notification
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// statusCode maps a coordinator outcome onto an HTTP status.
func statusCode(st poll.Status) int {
	switch st {
	case poll.StatusTooSoon:
		return http.StatusTooManyRequests
	case poll.StatusFetchFailed:
		return http.StatusBadGateway
	case poll.StatusPersistFailed:
		return http.StatusServiceUnavailable
	case poll.StatusInvalidURL:
		return http.StatusBadRequest
	case poll.StatusNoBaseline:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}
