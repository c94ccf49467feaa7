// Package poll coordinates photo checks: fetch, fingerprint, compare, persist and notify.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"photowatch/change"
	"photowatch/notify"
	"photowatch/pkg/photowatch"
	"photowatch/scraper"
	"photowatch/storage"
)

// DefaultMinInterval is the debounce window between two checks.
const DefaultMinInterval = 10 * time.Minute

// Status is the outcome of a coordinator operation.
type Status string

const (
	StatusTooSoon       Status = "too_soon"
	StatusFetchFailed   Status = "fetch_failed"
	StatusUnchanged     Status = "unchanged"
	StatusChanged       Status = "changed"
	StatusSeeded        Status = "seeded"
	StatusSkipped       Status = "skipped"
	StatusNoBaseline    Status = "no_baseline"
	StatusPersistFailed Status = "persist_failed"
	StatusRegistered    Status = "registered"
	StatusInvalidURL    Status = "invalid_url"
)

// Result reports what an operation did. It is always populated; errors are
// folded into Status and Message.
type Result struct {
	Observation *photowatch.Observation `json:"observation,omitempty"` // Record written by this operation
	QueryDiffs  []scraper.ParamDiff     `json:"query_diffs,omitempty"` // Register only
	Status      Status                  `json:"status"`
	Message     string                  `json:"message"`
	SourceURL   string                  `json:"photo_url,omitempty"`
	Fingerprint string                  `json:"hash,omitempty"`
	DeliveryID  string                  `json:"delivery_id,omitempty"`
	NotifyError string                  `json:"notify_error,omitempty"`
	Notified    bool                    `json:"notified"`
	Degraded    bool                    `json:"degraded,omitempty"` // Storage read failed or URL-only fingerprint
}

// Fetcher retrieves content and resolves photo URLs from profile pages.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	ResolveImageURL(ctx context.Context, pageURL string) (string, error)
}

// Store interface for history persistence.
type Store interface {
	Latest(ctx context.Context) (*photowatch.Observation, error)
	Append(ctx context.Context, obs *photowatch.Observation) error
	AppendAttempt(ctx context.Context, a *photowatch.CheckAttempt) error
}

// Sender interface for change alerts.
type Sender interface {
	Send(ctx context.Context, msg notify.Message) (string, error)
}

// Config holds coordinator settings.
type Config struct {
	Location        *time.Location // Display zone for alert messages
	SourcePageURL   string         // Profile page whose og:image is the photo; optional
	SeedURL         string
	SeedFingerprint string
	MinInterval     time.Duration
}

// Coordinator runs the check state machine. It holds no session state of its
// own: every operation takes a Session and returns the updated one.
type Coordinator struct {
	fetcher Fetcher
	store   Store
	sender  Sender
	logger  *slog.Logger
	now     func() time.Time
	cfg     Config
}

// New creates a new coordinator. A nil sender disables notifications.
func New(fetcher Fetcher, store Store, sender Sender, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	return &Coordinator{
		fetcher: fetcher,
		store:   store,
		sender:  sender,
		logger:  logger,
		now:     time.Now,
		cfg:     cfg,
	}
}

// baseline is the content state new content is compared against.
type baseline struct {
	url         string
	fingerprint string
}

// loadBaseline returns the session's cached state, or the store's latest record.
// A store read failure is treated as "no prior record".
func (c *Coordinator) loadBaseline(ctx context.Context, s photowatch.Session) (*baseline, bool) {
	if s.LastKnownFingerprint != "" {
		return &baseline{url: s.LastKnownURL, fingerprint: s.LastKnownFingerprint}, false
	}
	latest, err := c.store.Latest(ctx)
	if err != nil {
		c.logger.Warn("Failed to read latest observation, treating as empty history", "error", err)
		return nil, true
	}
	if latest == nil {
		return nil, false
	}
	return &baseline{url: latest.SourceURL, fingerprint: latest.Fingerprint}, false
}

// Check runs one trigger of the state machine.
func (c *Coordinator) Check(ctx context.Context, s photowatch.Session) (Result, photowatch.Session) {
	now := c.now()

	if !s.LastCheckedAt.IsZero() {
		if elapsed := now.Sub(s.LastCheckedAt); elapsed < c.cfg.MinInterval {
			wait := (c.cfg.MinInterval - elapsed).Round(time.Second)
			c.logger.Debug("Skipping check (debounce)", "last_checked", s.LastCheckedAt.Format(time.RFC3339), "wait", wait.String())
			return Result{
				Status:  StatusTooSoon,
				Message: fmt.Sprintf("Checked too recently. Try again in %s.", wait),
			}, s
		}
	}

	base, degraded := c.loadBaseline(ctx, s)
	if base == nil {
		if c.canSeed() {
			var res Result
			res, s = c.Seed(ctx, s)
			res.Degraded = res.Degraded || degraded
			return res, s
		}
		return Result{
			Status:   StatusNoBaseline,
			Message:  "No baseline photo in history. Seed or register a photo first.",
			Degraded: degraded,
		}, s
	}

	s.LastCheckedAt = now
	sourceURL := c.sourceURL(ctx, base.url)
	if sourceURL == "" {
		c.recordAttempt(ctx, now, "", "", StatusFetchFailed, "no source URL")
		return Result{Status: StatusFetchFailed, Message: "Could not verify the photo: no source URL is known."}, s
	}

	c.logger.Info("Starting photo check", "url", sourceURL, "baseline", base.fingerprint)

	content, err := c.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		c.logger.Warn("Photo fetch failed", "url", sourceURL, "error", err)
		msg := fmt.Sprintf("Could not verify the photo: %v", err)
		c.recordAttempt(ctx, now, sourceURL, "", StatusFetchFailed, err.Error())
		return Result{Status: StatusFetchFailed, Message: msg, SourceURL: sourceURL}, s
	}

	fp := change.Fingerprint(content)
	res := Result{SourceURL: sourceURL, Fingerprint: fp}

	if !change.HasChanged(fp, base.fingerprint) {
		s.LastKnownFingerprint = base.fingerprint
		s.LastKnownURL = base.url
		res.Status = StatusUnchanged
		res.Message = "No change: the photo is the same as the last recorded one."
		c.logger.Info("Photo unchanged", "url", sourceURL, "fingerprint", fp)
		c.recordAttempt(ctx, now, sourceURL, fp, res.Status, "")
		return res, s
	}

	obs := &photowatch.Observation{SourceURL: sourceURL, Fingerprint: fp, ObservedAt: now}
	if err := c.store.Append(ctx, obs); err != nil {
		if storage.IsDuplicate(err) {
			s.LastKnownFingerprint = fp
			s.LastKnownURL = sourceURL
			res.Status = StatusUnchanged
			res.Message = "No change: this photo is already the latest record."
			c.recordAttempt(ctx, now, sourceURL, fp, res.Status, "duplicate")
			return res, s
		}
		c.logger.Error("Failed to persist observation", "url", sourceURL, "fingerprint", fp, "error", err)
		res.Status = StatusPersistFailed
		res.Message = fmt.Sprintf("New photo detected but it could not be saved: %v", err)
		c.recordAttempt(ctx, now, sourceURL, fp, res.Status, err.Error())
		return res, s
	}

	s.LastKnownFingerprint = fp
	s.LastKnownURL = sourceURL
	res.Observation = obs
	res.Status = StatusChanged
	res.Message = "New photo detected and saved."

	attrs := []any{"url", sourceURL, "previous", base.fingerprint, "fingerprint", fp, "seq", obs.Seq}
	if info, err := scraper.Inspect(content); err == nil {
		attrs = append(attrs, "format", info.Format, "width", info.Width, "height", info.Height)
	}
	c.logger.Info("Photo changed", attrs...)

	s = c.announce(ctx, s, obs, &res)
	c.recordAttempt(ctx, now, sourceURL, fp, res.Status, res.NotifyError)
	return res, s
}

// announce alerts the operator unless this fingerprint was already announced in the session.
func (c *Coordinator) announce(ctx context.Context, s photowatch.Session, obs *photowatch.Observation, res *Result) photowatch.Session {
	if s.LastNotifiedFingerprint == obs.Fingerprint {
		c.logger.Info("Notification already sent for fingerprint", "fingerprint", obs.Fingerprint)
		return s
	}
	if c.sender == nil {
		return s
	}

	id, err := c.sender.Send(ctx, notify.ChangeMessage(obs, c.cfg.Location))
	if err != nil {
		res.NotifyError = err.Error()
		res.Message += fmt.Sprintf(" Notification failed: %v", err)
		return s
	}
	res.Notified = true
	res.DeliveryID = id
	s.LastNotifiedFingerprint = obs.Fingerprint
	return s
}

func (c *Coordinator) canSeed() bool {
	return c.cfg.SeedURL != "" && c.cfg.SeedFingerprint != ""
}

// Seed writes the configured bootstrap observation when the history is empty.
// It never fetches and never notifies.
func (c *Coordinator) Seed(ctx context.Context, s photowatch.Session) (Result, photowatch.Session) {
	if !c.canSeed() {
		return Result{Status: StatusNoBaseline, Message: "No seed URL and fingerprint configured."}, s
	}

	latest, err := c.store.Latest(ctx)
	if err != nil {
		c.logger.Warn("Failed to read latest observation before seeding", "error", err)
	}
	if latest != nil {
		return Result{
			Status:      StatusSkipped,
			Message:     "History already has a baseline; seed skipped.",
			SourceURL:   latest.SourceURL,
			Fingerprint: latest.Fingerprint,
		}, s
	}

	obs := &photowatch.Observation{
		SourceURL:   c.cfg.SeedURL,
		Fingerprint: c.cfg.SeedFingerprint,
		ObservedAt:  c.now(),
	}
	res := Result{SourceURL: obs.SourceURL, Fingerprint: obs.Fingerprint, Degraded: err != nil}
	if err := c.store.Append(ctx, obs); err != nil {
		if storage.IsDuplicate(err) {
			res.Status = StatusSkipped
			res.Message = "Seed already recorded."
			return res, s
		}
		c.logger.Error("Failed to persist seed observation", "error", err)
		res.Status = StatusPersistFailed
		res.Message = fmt.Sprintf("Seed could not be saved: %v", err)
		return res, s
	}

	c.logger.Info("History seeded", "url", obs.SourceURL, "fingerprint", obs.Fingerprint)
	s.LastKnownFingerprint = obs.Fingerprint
	s.LastKnownURL = obs.SourceURL
	res.Observation = obs
	res.Status = StatusSeeded
	res.Message = "History seeded from configuration."
	return res, s
}

// Register records a manually supplied photo URL. If the content cannot be
// fetched the URL string itself is fingerprinted. It never notifies.
func (c *Coordinator) Register(ctx context.Context, s photowatch.Session, rawURL string, loc *photowatch.GeoReading) (Result, photowatch.Session) {
	if err := validateURL(rawURL); err != nil {
		return Result{Status: StatusInvalidURL, Message: fmt.Sprintf("Invalid photo URL: %v", err)}, s
	}

	now := c.now()
	res := Result{SourceURL: rawURL}

	base, degraded := c.loadBaseline(ctx, s)
	if base != nil && base.url != "" {
		res.QueryDiffs = scraper.DiffQuery(base.url, rawURL)
	}

	s.LastCheckedAt = now
	content, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		c.logger.Warn("Registration fetch failed, fingerprinting URL instead", "url", rawURL, "error", err)
		res.Fingerprint = change.FingerprintURL(rawURL)
		degraded = true
	} else {
		res.Fingerprint = change.Fingerprint(content)
	}
	res.Degraded = degraded

	obs := &photowatch.Observation{SourceURL: rawURL, Fingerprint: res.Fingerprint, ObservedAt: now, Location: loc}
	if err := c.store.Append(ctx, obs); err != nil {
		if storage.IsDuplicate(err) {
			s.LastKnownFingerprint = res.Fingerprint
			s.LastKnownURL = rawURL
			res.Status = StatusUnchanged
			res.Message = "This photo is already the latest record."
			c.recordAttempt(ctx, now, rawURL, res.Fingerprint, res.Status, "duplicate")
			return res, s
		}
		c.logger.Error("Failed to persist registered photo", "url", rawURL, "error", err)
		res.Status = StatusPersistFailed
		res.Message = fmt.Sprintf("Photo could not be saved: %v", err)
		c.recordAttempt(ctx, now, rawURL, res.Fingerprint, res.Status, err.Error())
		return res, s
	}

	s.LastKnownFingerprint = res.Fingerprint
	s.LastKnownURL = rawURL
	res.Observation = obs
	res.Status = StatusRegistered
	res.Message = "Photo registered."
	if degraded {
		res.Message += " Content was unreachable, so the URL was fingerprinted instead."
	}
	c.logger.Info("Photo registered", "url", rawURL, "fingerprint", res.Fingerprint, "seq", obs.Seq, "param_diffs", len(res.QueryDiffs))
	c.recordAttempt(ctx, now, rawURL, res.Fingerprint, res.Status, "")
	return res, s
}

// sourceURL picks the URL to fetch: the profile page's current photo when a
// page is configured, otherwise the URL of the baseline record.
func (c *Coordinator) sourceURL(ctx context.Context, known string) string {
	if c.cfg.SourcePageURL == "" {
		return known
	}
	resolved, err := c.fetcher.ResolveImageURL(ctx, c.cfg.SourcePageURL)
	if err != nil {
		c.logger.Warn("Failed to resolve photo URL from page, using last known URL",
			"page_url", c.cfg.SourcePageURL,
			"error", err)
		return known
	}
	return resolved
}

// recordAttempt appends to the check log. Failures are logged and otherwise ignored.
func (c *Coordinator) recordAttempt(ctx context.Context, started time.Time, sourceURL, fp string, status Status, msg string) {
	a := &photowatch.CheckAttempt{
		CheckedAt:   started,
		SourceURL:   sourceURL,
		Fingerprint: fp,
		Status:      string(status),
		Message:     msg,
		DurationMs:  c.now().Sub(started).Milliseconds(),
	}
	if err := c.store.AppendAttempt(ctx, a); err != nil {
		c.logger.Debug("Failed to record check attempt", "status", status, "error", err)
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
