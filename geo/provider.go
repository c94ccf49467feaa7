package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"photowatch/pkg/photowatch"
)

const (
	googleGeolocateURL = "https://www.googleapis.com/geolocation/v1/geolocate"
	// DefaultIPLookupURL is an ip-api.com compatible endpoint.
	DefaultIPLookupURL = "http://ip-api.com/json/?fields=status,message,lat,lon"
)

// LocationProvider produces a reading from one source.
type LocationProvider interface {
	Name() string
	Locate(ctx context.Context) (*photowatch.GeoReading, error)
}

// Chain tries providers in order and returns the first reading.
type Chain struct {
	logger    *slog.Logger
	providers []LocationProvider
}

// NewChain creates a chain over providers.
func NewChain(logger *slog.Logger, providers ...LocationProvider) *Chain {
	return &Chain{logger: logger, providers: providers}
}

func (*Chain) Name() string { return "chain" }

// Locate returns the first successful reading, or ErrNoLocation joined with every provider error.
func (c *Chain) Locate(ctx context.Context) (*photowatch.GeoReading, error) {
	errs := []error{ErrNoLocation}
	for _, p := range c.providers {
		r, err := p.Locate(ctx)
		if err != nil {
			c.logger.Info("Location provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if r.Source == "" {
			r.Source = p.Name()
		}
		return r, nil
	}
	return nil, errors.Join(errs...)
}

// Static returns a fixed, manually entered reading.
type Static struct {
	Reading photowatch.GeoReading
}

func (*Static) Name() string { return "manual" }

func (s *Static) Locate(context.Context) (*photowatch.GeoReading, error) {
	r := s.Reading
	if err := Validate(&r); err != nil {
		return nil, err
	}
	if r.Source == "" {
		r.Source = "manual"
	}
	return &r, nil
}

// Google queries the Google Maps Geolocation API.
type Google struct {
	client   *http.Client
	apiKey   string
	endpoint string
}

// NewGoogle creates a Geolocation API provider.
func NewGoogle(apiKey string) *Google {
	return &Google{
		client:   &http.Client{Timeout: 10 * time.Second},
		apiKey:   apiKey,
		endpoint: googleGeolocateURL,
	}
}

func (*Google) Name() string { return "google" }

type googleResponse struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy *float64 `json:"accuracy"`
	Error    *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Google) Locate(ctx context.Context) (*photowatch.GeoReading, error) {
	if g.apiKey == "" {
		return nil, errors.New("missing api key")
	}
	endpoint := g.endpoint + "?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(`{"considerIp":true}`)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out googleResponse
	status, err := doJSON(g.client, req, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		if out.Error != nil {
			return nil, fmt.Errorf("HTTP %d: %s", status, out.Error.Message)
		}
		return nil, fmt.Errorf("HTTP %d", status)
	}

	r := &photowatch.GeoReading{
		Latitude:       out.Location.Lat,
		Longitude:      out.Location.Lng,
		AccuracyMeters: out.Accuracy,
		Source:         g.Name(),
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// IPLookup approximates the location from the server's public IP.
type IPLookup struct {
	client   *http.Client
	endpoint string
}

// NewIPLookup creates an IP lookup provider. An empty endpoint uses DefaultIPLookupURL.
func NewIPLookup(endpoint string) *IPLookup {
	if endpoint == "" {
		endpoint = DefaultIPLookupURL
	}
	return &IPLookup{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
	}
}

func (*IPLookup) Name() string { return "ip" }

type ipLookupResponse struct {
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
}

func (p *IPLookup) Locate(ctx context.Context) (*photowatch.GeoReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var out ipLookupResponse
	status, err := doJSON(p.client, req, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", status)
	}
	if out.Status != "" && out.Status != "success" {
		return nil, fmt.Errorf("lookup %s: %s", out.Status, out.Message)
	}
	if out.Lat == nil || out.Lon == nil {
		return nil, errors.New("lookup returned no coordinates")
	}

	r := &photowatch.GeoReading{Latitude: *out.Lat, Longitude: *out.Lon, Source: p.Name()}
	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// doJSON performs req and decodes the body into out regardless of status.
// A body that fails to decode is only an error on 200 responses.
func doJSON(client *http.Client, req *http.Request, out any) (int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http %s: %w", req.Method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode == http.StatusOK {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
