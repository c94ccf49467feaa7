// Package config loads photowatch settings from defaults, a config file, the environment and flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // display_timezone must resolve on images without zoneinfo

	"github.com/spf13/viper"

	"photowatch/geo"
	"photowatch/pkg/photowatch"
	"photowatch/storage"
)

// EnvPrefix is prepended to every environment variable, e.g. PHOTOWATCH_STORAGE_CONNECTION.
const EnvPrefix = "PHOTOWATCH"

// Notification provider names.
const (
	ProviderTwilio = "twilio"
	ProviderGmail  = "gmail"
	ProviderBrevo  = "brevo"
	ProviderMock   = "mock"
	ProviderNone   = "none"
)

var (
	ErrInvalidInterval = errors.New("min_check_interval_seconds must be positive")
	ErrInvalidTimeout  = errors.New("fetch_timeout_seconds must be positive")
	ErrPartialSeed     = errors.New("seed_url and seed_fingerprint must be set together")
	ErrUnknownProvider = errors.New("unknown notify.provider")
)

// TwilioConfig holds WhatsApp delivery credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// GmailConfig holds Gmail API delivery settings.
type GmailConfig struct {
	CredentialsJSON string // Empty uses Application Default Credentials
	To              string
}

// BrevoConfig holds Brevo delivery settings.
type BrevoConfig struct {
	APIKey   string
	From     string
	FromName string
	To       string
}

// NotifyConfig selects and configures the notification provider.
type NotifyConfig struct {
	Provider string
	Twilio   TwilioConfig
	Gmail    GmailConfig
	Brevo    BrevoConfig
}

// GeoConfig configures the server-side location providers.
type GeoConfig struct {
	Static       *photowatch.GeoReading // Manual reading, tried first
	GoogleAPIKey string
	IPLookupURL  string
	IPLookup     bool
}

// Config is the validated application configuration.
type Config struct {
	location *time.Location

	Storage          storage.Config
	Notify           NotifyConfig
	Geo              GeoConfig
	SourcePageURL    string
	SeedURL          string
	SeedFingerprint  string
	DisplayTimezone  string
	HTTPAddr         string
	LogLevel         string
	MinCheckInterval time.Duration
	FetchTimeout     time.Duration
	ScheduleInterval time.Duration // Zero disables the background scheduler
	RateLimit        float64       // Mutating HTTP requests per second
	RateBurst        int

	// StorageDegraded is set by Validate when no storage connection is configured.
	StorageDegraded bool
}

// InitViper initializes the configuration using Viper.
// Configuration priority: flags > env vars > config file > defaults.
func InitViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName("photowatch")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "")
	v.SetDefault("storage.connection", "")
	v.SetDefault("storage.database", storage.DefaultDatabase)
	v.SetDefault("storage.collection", storage.DefaultCollection)
	v.SetDefault("min_check_interval_seconds", 600)
	v.SetDefault("fetch_timeout_seconds", 10)
	v.SetDefault("schedule_interval_seconds", 0)
	v.SetDefault("source_page_url", "")
	v.SetDefault("seed_url", "")
	v.SetDefault("seed_fingerprint", "")
	v.SetDefault("notify.provider", ProviderMock)
	v.SetDefault("geo.ip_lookup", false)
	v.SetDefault("geo.ip_lookup_url", "")
	v.SetDefault("geo.google_api_key", "")
	v.SetDefault("display_timezone", "America/Bogota")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_limit", 1.0)
	v.SetDefault("http.rate_burst", 5)
	v.SetDefault("log_level", "info")

	// Registered so AutomaticEnv can see them in Unmarshal-free lookups.
	for _, k := range []string{
		"notify.twilio.account_sid", "notify.twilio.auth_token", "notify.twilio.from", "notify.twilio.to",
		"notify.gmail.credentials_json", "notify.gmail.to",
		"notify.brevo.api_key", "notify.brevo.from", "notify.brevo.from_name", "notify.brevo.to",
	} {
		v.SetDefault(k, "")
	}
}

// FromViper extracts and validates the configuration.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Storage: storage.Config{
			Backend:    v.GetString("storage.backend"),
			Connection: v.GetString("storage.connection"),
			Database:   v.GetString("storage.database"),
			Collection: v.GetString("storage.collection"),
		},
		Notify: NotifyConfig{
			Provider: strings.ToLower(v.GetString("notify.provider")),
			Twilio: TwilioConfig{
				AccountSID: v.GetString("notify.twilio.account_sid"),
				AuthToken:  v.GetString("notify.twilio.auth_token"),
				From:       v.GetString("notify.twilio.from"),
				To:         v.GetString("notify.twilio.to"),
			},
			Gmail: GmailConfig{
				CredentialsJSON: v.GetString("notify.gmail.credentials_json"),
				To:              v.GetString("notify.gmail.to"),
			},
			Brevo: BrevoConfig{
				APIKey:   v.GetString("notify.brevo.api_key"),
				From:     v.GetString("notify.brevo.from"),
				FromName: v.GetString("notify.brevo.from_name"),
				To:       v.GetString("notify.brevo.to"),
			},
		},
		Geo: GeoConfig{
			GoogleAPIKey: v.GetString("geo.google_api_key"),
			IPLookup:     v.GetBool("geo.ip_lookup"),
			IPLookupURL:  v.GetString("geo.ip_lookup_url"),
		},
		SourcePageURL:    strings.TrimSpace(v.GetString("source_page_url")),
		SeedURL:          strings.TrimSpace(v.GetString("seed_url")),
		SeedFingerprint:  strings.ToLower(strings.TrimSpace(v.GetString("seed_fingerprint"))),
		DisplayTimezone:  v.GetString("display_timezone"),
		HTTPAddr:         v.GetString("http.addr"),
		LogLevel:         v.GetString("log_level"),
		MinCheckInterval: time.Duration(v.GetInt("min_check_interval_seconds")) * time.Second,
		FetchTimeout:     time.Duration(v.GetInt("fetch_timeout_seconds")) * time.Second,
		ScheduleInterval: time.Duration(v.GetInt("schedule_interval_seconds")) * time.Second,
		RateLimit:        v.GetFloat64("http.rate_limit"),
		RateBurst:        v.GetInt("http.rate_burst"),
	}

	if v.IsSet("geo.static.lat") && v.IsSet("geo.static.lon") {
		r := &photowatch.GeoReading{
			Latitude:  v.GetFloat64("geo.static.lat"),
			Longitude: v.GetFloat64("geo.static.lon"),
			Source:    "manual",
		}
		if v.IsSet("geo.static.acc") {
			acc := v.GetFloat64("geo.static.acc")
			r.AccuracyMeters = &acc
		}
		cfg.Geo.Static = r
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. Missing storage connection info is not
// an error: it marks the configuration as degraded instead.
func (c *Config) Validate() error {
	if c.MinCheckInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.FetchTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.ScheduleInterval < 0 {
		return errors.New("schedule_interval_seconds must not be negative")
	}
	if (c.SeedURL == "") != (c.SeedFingerprint == "") {
		return ErrPartialSeed
	}
	for name, raw := range map[string]string{"seed_url": c.SeedURL, "source_page_url": c.SourcePageURL} {
		if raw == "" {
			continue
		}
		if err := httpURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return fmt.Errorf("display_timezone: %w", err)
	}
	c.location = loc

	if err := c.Notify.validate(); err != nil {
		return err
	}

	if s := c.Geo.Static; s != nil {
		if err := geo.Validate(s); err != nil {
			return fmt.Errorf("geo.static: %w", err)
		}
	}

	if c.RateLimit <= 0 {
		return errors.New("http.rate_limit must be positive")
	}
	if c.RateBurst < 1 {
		c.RateBurst = 1
	}

	c.StorageDegraded = strings.TrimSpace(c.Storage.Connection) == "" && c.Storage.Backend != storage.BackendMemory
	return nil
}

func (n NotifyConfig) validate() error {
	var missing []string
	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}

	switch n.Provider {
	case ProviderTwilio:
		require("notify.twilio.account_sid", n.Twilio.AccountSID)
		require("notify.twilio.auth_token", n.Twilio.AuthToken)
		require("notify.twilio.from", n.Twilio.From)
		require("notify.twilio.to", n.Twilio.To)
	case ProviderGmail:
		require("notify.gmail.to", n.Gmail.To)
	case ProviderBrevo:
		require("notify.brevo.api_key", n.Brevo.APIKey)
		require("notify.brevo.from", n.Brevo.From)
		require("notify.brevo.to", n.Brevo.To)
	case ProviderMock, ProviderNone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, n.Provider)
	}

	if len(missing) > 0 {
		return fmt.Errorf("notify.provider %s requires %s", n.Provider, strings.Join(missing, ", "))
	}
	return nil
}

func httpURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}

// Location returns the display time zone, defaulting to UTC before Validate has run.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}
