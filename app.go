package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"photowatch/config"
	"photowatch/geo"
	"photowatch/notify"
	"photowatch/poll"
	"photowatch/scraper"
	"photowatch/storage"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	fetcher  *scraper.Fetcher
	sched    *poll.Scheduler
	locator  geo.LocationProvider // nil when no provider is configured
	degraded bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, degraded := storage.OpenOrDegrade(ctx, cfg.Storage, logger)

	sender, err := newSender(ctx, cfg.Notify, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	fetcher := scraper.New(&http.Client{Timeout: cfg.FetchTimeout}, logger)
	coord := poll.New(fetcher, store, sender, poll.Config{
		Location:        cfg.Location(),
		SourcePageURL:   cfg.SourcePageURL,
		SeedURL:         cfg.SeedURL,
		SeedFingerprint: cfg.SeedFingerprint,
		MinInterval:     cfg.MinCheckInterval,
	}, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		fetcher:  fetcher,
		sched:    poll.NewScheduler(coord, geo.NewAccessLogger(store, logger), logger),
		locator:  newLocator(cfg.Geo, logger),
		degraded: degraded,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close storage", "error", err)
	}
}

// newSender builds the notification sender. The "none" provider returns a nil
// interface so the coordinator skips notification entirely.
func newSender(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (poll.Sender, error) {
	var provider notify.Provider
	switch cfg.Provider {
	case config.ProviderNone:
		logger.Info("Notifications disabled")
		return nil, nil
	case config.ProviderTwilio:
		provider = notify.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.From, cfg.Twilio.To, logger)
	case config.ProviderGmail:
		if cfg.Gmail.CredentialsJSON == "" && !isCloudRun(ctx) {
			return nil, errors.New("notify.gmail.credentials_json required when not running on Google Cloud")
		}
		svc, err := notify.NewGmailService(ctx, cfg.Gmail.CredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("initialize gmail: %w", err)
		}
		provider = notify.NewGmailProvider(svc, cfg.Gmail.To, logger)
	case config.ProviderBrevo:
		provider = notify.NewBrevoProvider(cfg.Brevo.APIKey, cfg.Brevo.From, cfg.Brevo.FromName, cfg.Brevo.To, logger)
	default:
		logger.Info("Mock notification mode enabled")
		provider = notify.NewMockProvider(logger)
	}
	return notify.New(provider, logger), nil
}

// newLocator chains the configured location providers: manual first, then
// Google geolocation, then IP lookup.
func newLocator(cfg config.GeoConfig, logger *slog.Logger) geo.LocationProvider {
	var providers []geo.LocationProvider
	if cfg.Static != nil {
		providers = append(providers, &geo.Static{Reading: *cfg.Static})
	}
	if cfg.GoogleAPIKey != "" {
		providers = append(providers, geo.NewGoogle(cfg.GoogleAPIKey))
	}
	if cfg.IPLookup {
		providers = append(providers, geo.NewIPLookup(cfg.IPLookupURL))
	}
	if len(providers) == 0 {
		return nil
	}
	return geo.NewChain(logger, providers...)
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
