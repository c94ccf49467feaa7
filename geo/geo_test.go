package geo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"photowatch/pkg/photowatch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseBrowserPayload(t *testing.T) {
	tests := []struct {
		name       string
		payload    map[string]any
		wantLat    float64
		wantLon    float64
		wantAcc    *float64
		wantErr    error
		wantAnyErr bool
	}{
		{
			name:    "short keys",
			payload: map[string]any{"lat": 4.6097, "lon": -74.0817, "acc": 20.0},
			wantLat: 4.6097, wantLon: -74.0817, wantAcc: ptr(20),
		},
		{
			name:    "long keys",
			payload: map[string]any{"latitude": 4.6, "longitude": -74.1, "accuracy": 35.5},
			wantLat: 4.6, wantLon: -74.1, wantAcc: ptr(35.5),
		},
		{
			name:    "lng alias without accuracy",
			payload: map[string]any{"lat": 1.0, "lng": 2.0},
			wantLat: 1, wantLon: 2,
		},
		{
			name:    "nested coords",
			payload: map[string]any{"coords": map[string]any{"latitude": -33.45, "longitude": -70.66, "accuracy": 10.0}, "timestamp": 1.7e12},
			wantLat: -33.45, wantLon: -70.66, wantAcc: ptr(10),
		},
		{
			name:    "string numbers",
			payload: map[string]any{"lat": "4.5", "lon": " -74.25 "},
			wantLat: 4.5, wantLon: -74.25,
		},
		{
			name:    "json numbers",
			payload: map[string]any{"lat": json.Number("0"), "lon": json.Number("0")},
			wantLat: 0, wantLon: 0,
		},
		{
			name:    "denied",
			payload: map[string]any{"error": map[string]any{"code": 1, "message": "User denied Geolocation"}},
			wantErr: ErrLocationDenied,
		},
		{
			name:    "nil payload",
			payload: nil,
			wantErr: ErrLocationDenied,
		},
		{
			name:    "missing longitude",
			payload: map[string]any{"lat": 1.0},
			wantErr: ErrNoLocation,
		},
		{
			name:       "out of range",
			payload:    map[string]any{"lat": 91.0, "lon": 0.0},
			wantAnyErr: true,
		},
		{
			name:       "nan strings",
			payload:    map[string]any{"lat": "NaN", "lon": "NaN"},
			wantAnyErr: true,
		},
		{
			name:       "infinite longitude",
			payload:    map[string]any{"lat": 1.0, "lon": "+Inf"},
			wantAnyErr: true,
		},
		{
			name:       "nan accuracy",
			payload:    map[string]any{"lat": 1.0, "lon": 2.0, "acc": "nan"},
			wantAnyErr: true,
		},
		{
			name:       "garbage",
			payload:    map[string]any{"lat": "north", "lon": 0.0},
			wantAnyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseBrowserPayload(tt.payload)
			if tt.wantErr != nil || tt.wantAnyErr {
				if err == nil {
					t.Fatalf("ParseBrowserPayload() = %+v, want error", r)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseBrowserPayload() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBrowserPayload() error = %v", err)
			}
			if r.Latitude != tt.wantLat || r.Longitude != tt.wantLon {
				t.Errorf("coords = %v, %v, want %v, %v", r.Latitude, r.Longitude, tt.wantLat, tt.wantLon)
			}
			switch {
			case tt.wantAcc == nil && r.AccuracyMeters != nil:
				t.Errorf("accuracy = %v, want nil", *r.AccuracyMeters)
			case tt.wantAcc != nil && (r.AccuracyMeters == nil || *r.AccuracyMeters != *tt.wantAcc):
				t.Errorf("accuracy = %v, want %v", r.AccuracyMeters, *tt.wantAcc)
			}
		})
	}
}

func ptr(f float64) *float64 { return &f }

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		r       photowatch.GeoReading
		wantErr bool
	}{
		{"origin", photowatch.GeoReading{}, false},
		{"bounds", photowatch.GeoReading{Latitude: -90, Longitude: 180, AccuracyMeters: ptr(0)}, false},
		{"nan latitude", photowatch.GeoReading{Latitude: math.NaN()}, true},
		{"nan longitude", photowatch.GeoReading{Longitude: math.NaN()}, true},
		{"infinite latitude", photowatch.GeoReading{Latitude: math.Inf(-1)}, true},
		{"longitude out of range", photowatch.GeoReading{Longitude: 180.5}, true},
		{"negative accuracy", photowatch.GeoReading{AccuracyMeters: ptr(-1)}, true},
		{"infinite accuracy", photowatch.GeoReading{AccuracyMeters: ptr(math.Inf(1))}, true},
	}
	for _, tt := range tests {
		if err := Validate(&tt.r); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%s) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestFormatDMS(t *testing.T) {
	tests := []struct {
		lat, lon         float64
		wantLat, wantLon string
	}{
		{4.6097, -74.0817, `4° 36' 34.92" N`, `74° 4' 54.12" W`},
		{-33.5, 151.25, `33° 30' 0.00" S`, `151° 15' 0.00" E`},
		{0, 0, `0° 0' 0.00" N`, `0° 0' 0.00" E`},
		{-0.5, -0.25, `0° 30' 0.00" S`, `0° 15' 0.00" W`},
	}
	for _, tt := range tests {
		gotLat, gotLon := FormatDMS(tt.lat, tt.lon)
		if gotLat != tt.wantLat || gotLon != tt.wantLon {
			t.Errorf("FormatDMS(%v, %v) = %q, %q, want %q, %q", tt.lat, tt.lon, gotLat, gotLon, tt.wantLat, tt.wantLon)
		}
	}
}

type failingProvider struct{ name string }

func (f failingProvider) Name() string { return f.name }

func (failingProvider) Locate(context.Context) (*photowatch.GeoReading, error) {
	return nil, errors.New("unavailable")
}

func TestChain(t *testing.T) {
	static := &Static{Reading: photowatch.GeoReading{Latitude: 4.6, Longitude: -74.1}}
	chain := NewChain(testLogger(), failingProvider{name: "first"}, static, failingProvider{name: "never"})

	r, err := chain.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if r.Latitude != 4.6 || r.Source != "manual" {
		t.Errorf("Locate() = %+v, want manual reading", r)
	}

	_, err = NewChain(testLogger(), failingProvider{name: "a"}, failingProvider{name: "b"}).Locate(context.Background())
	if !errors.Is(err, ErrNoLocation) {
		t.Errorf("Locate() error = %v, want ErrNoLocation", err)
	}
	if !strings.Contains(err.Error(), "a: unavailable") || !strings.Contains(err.Error(), "b: unavailable") {
		t.Errorf("Locate() error should list every provider: %v", err)
	}

	if _, err := NewChain(testLogger()).Locate(context.Background()); !errors.Is(err, ErrNoLocation) {
		t.Errorf("empty chain error = %v, want ErrNoLocation", err)
	}
}

func TestGoogle(t *testing.T) {
	var gotKey, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotMethod = r.Method
		_, _ = w.Write([]byte(`{"location":{"lat":4.61,"lng":-74.08},"accuracy":1500}`))
	}))
	defer srv.Close()

	g := NewGoogle("k-123")
	g.endpoint = srv.URL
	r, err := g.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if gotKey != "k-123" || gotMethod != http.MethodPost {
		t.Errorf("request key=%q method=%q", gotKey, gotMethod)
	}
	if r.Latitude != 4.61 || r.Longitude != -74.08 || r.AccuracyMeters == nil || *r.AccuracyMeters != 1500 || r.Source != "google" {
		t.Errorf("Locate() = %+v", r)
	}

	if _, err := NewGoogle("").Locate(context.Background()); err == nil {
		t.Error("Locate() without key expected error")
	}
}

func TestGoogleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
	}))
	defer srv.Close()

	g := NewGoogle("bad")
	g.endpoint = srv.URL
	_, err := g.Locate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("Locate() error = %v, want API message", err)
	}
}

func TestIPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","lat":4.7,"lon":-74.05}`))
	}))
	defer srv.Close()

	r, err := NewIPLookup(srv.URL).Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if r.Latitude != 4.7 || r.Longitude != -74.05 || r.AccuracyMeters != nil || r.Source != "ip" {
		t.Errorf("Locate() = %+v", r)
	}

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"private range"}`))
	}))
	defer fail.Close()
	if _, err := NewIPLookup(fail.URL).Locate(context.Background()); err == nil {
		t.Error("Locate() on failed lookup expected error")
	}
}

type recordingStore struct {
	events []*photowatch.AccessEvent
	err    error
}

func (r *recordingStore) AppendAccessEvent(_ context.Context, ev *photowatch.AccessEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestAccessLoggerOncePerSession(t *testing.T) {
	store := &recordingStore{}
	a := NewAccessLogger(store, testLogger())
	a.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("COT", -5*3600)) }

	s := photowatch.NewSession()
	s, err := a.LogOnce(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("LogOnce() error = %v", err)
	}
	if !s.AccessLogged {
		t.Error("session should be marked as logged")
	}
	s, err = a.LogOnce(context.Background(), s, &photowatch.GeoReading{Latitude: 1, Longitude: 2})
	if err != nil {
		t.Fatalf("second LogOnce() error = %v", err)
	}

	if len(store.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(store.events))
	}
	ev := store.events[0]
	if ev.HasLocation() || ev.AccuracyMeters != nil {
		t.Errorf("denied event should carry null coordinates: %+v", ev)
	}
	if ev.SessionID != s.ID {
		t.Errorf("event session = %q, want %q", ev.SessionID, s.ID)
	}
	if ev.OccurredAt.Location() != time.UTC {
		t.Errorf("event time not UTC: %v", ev.OccurredAt)
	}
}

func TestAccessLoggerFailedWriteAllowsRetry(t *testing.T) {
	store := &recordingStore{err: errors.New("disk full")}
	a := NewAccessLogger(store, testLogger())

	s := photowatch.NewSession()
	s, err := a.LogOnce(context.Background(), s, &photowatch.GeoReading{Latitude: 1, Longitude: 2})
	if err == nil {
		t.Fatal("LogOnce() expected error")
	}
	if s.AccessLogged {
		t.Error("failed write must not mark the session as logged")
	}

	store.err = nil
	s, err = a.LogOnce(context.Background(), s, &photowatch.GeoReading{Latitude: 1, Longitude: 2})
	if err != nil || !s.AccessLogged || len(store.events) != 1 {
		t.Errorf("retry: err=%v logged=%v events=%d", err, s.AccessLogged, len(store.events))
	}
}
