package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photowatch/geo"
	"photowatch/notify"
	"photowatch/pkg/photowatch"
	"photowatch/poll"
	"photowatch/scraper"
	"photowatch/storage"
)

// photoServer serves whatever bytes are currently set.
type photoServer struct {
	mu      sync.Mutex
	content []byte
}

func (p *photoServer) set(b string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = []byte(b)
}

func (p *photoServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(p.content)
}

type fixedLocator struct{ r *photowatch.GeoReading }

func (f fixedLocator) Locate(context.Context) (*photowatch.GeoReading, error) { return f.r, nil }

type env struct {
	handler http.Handler
	photos  *photoServer
	photoAt string
	store   *storage.Memory
}

func newEnv(t *testing.T, minInterval time.Duration, mutate func(*Config)) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	photos := &photoServer{}
	photos.set("photo-A")
	ts := httptest.NewServer(photos)
	t.Cleanup(ts.Close)

	store := storage.NewMemory()
	sender := notify.New(notify.NewMockProvider(logger), logger)
	coord := poll.New(scraper.New(nil, logger), store, sender, poll.Config{MinInterval: minInterval, Location: time.UTC}, logger)
	sched := poll.NewScheduler(coord, geo.NewAccessLogger(store, logger), logger)

	cfg := &Config{
		Scheduler: sched,
		History:   store,
		Logger:    logger,
		RateLimit: 1000,
		RateBurst: 1000,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return &env{handler: New(cfg).Handler(), photos: photos, photoAt: ts.URL + "/p.jpg?v=1", store: store}
}

func (e *env) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t, time.Nanosecond, nil)
	rec := e.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["session_id"])

	degraded := newEnv(t, time.Nanosecond, func(c *Config) { c.Degraded = true })
	body = decode[map[string]any](t, degraded.do(t, http.MethodGet, "/health", ""))
	assert.Equal(t, "degraded", body["status"])
}

func TestRegisterThenPoll(t *testing.T) {
	e := newEnv(t, time.Nanosecond, nil)

	rec := e.do(t, http.MethodPost, "/pollz", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "empty history without seed")

	rec = e.do(t, http.MethodPost, "/register", `{"photo_url":"`+e.photoAt+`","location":{"lat":4.6,"lon":-74.1,"acc":null}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[poll.Result](t, rec)
	assert.Equal(t, poll.StatusRegistered, res.Status)
	require.NotNil(t, res.Observation)
	require.NotNil(t, res.Observation.Location)
	assert.InDelta(t, 4.6, res.Observation.Location.Latitude, 1e-9)

	rec = e.do(t, http.MethodPost, "/pollz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, poll.StatusUnchanged, decode[poll.Result](t, rec).Status)

	e.photos.set("photo-B")
	rec = e.do(t, http.MethodPost, "/pollz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[poll.Result](t, rec)
	assert.Equal(t, poll.StatusChanged, res.Status)
	assert.True(t, res.Notified)
	assert.Equal(t, "mock-1", res.DeliveryID)

	latest := decode[photowatch.Observation](t, e.do(t, http.MethodGet, "/latest", ""))
	assert.Equal(t, res.Fingerprint, latest.Fingerprint)

	history := decode[[]photowatch.Observation](t, e.do(t, http.MethodGet, "/history", ""))
	require.Len(t, history, 2)
	assert.Greater(t, history[0].Seq, history[1].Seq, "newest first by default")

	history = decode[[]photowatch.Observation](t, e.do(t, http.MethodGet, "/history?order=asc", ""))
	assert.Equal(t, int64(1), history[0].Seq)

	attempts := decode[[]photowatch.CheckAttempt](t, e.do(t, http.MethodGet, "/attempts?limit=1", ""))
	require.Len(t, attempts, 1)
	assert.Equal(t, string(poll.StatusChanged), attempts[0].Status)
}

func TestPollDebounced(t *testing.T) {
	e := newEnv(t, 10*time.Minute, nil)
	rec := e.do(t, http.MethodPost, "/register", `{"photo_url":"`+e.photoAt+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/pollz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, poll.StatusTooSoon, decode[poll.Result](t, rec).Status)
}

func TestRegisterUsesLocator(t *testing.T) {
	acc := 30.0
	e := newEnv(t, time.Nanosecond, func(c *Config) {
		c.Locator = fixedLocator{r: &photowatch.GeoReading{Latitude: 1, Longitude: 2, AccuracyMeters: &acc, Source: "manual"}}
	})
	res := decode[poll.Result](t, e.do(t, http.MethodPost, "/register", `{"photo_url":"`+e.photoAt+`"}`))
	require.NotNil(t, res.Observation)
	require.NotNil(t, res.Observation.Location)
	assert.InDelta(t, 2, res.Observation.Location.Longitude, 1e-9)
}

func TestRegisterRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "photo_url=x"},
		{name: "empty url", body: `{"photo_url":"  "}`},
		{name: "bad scheme", body: `{"photo_url":"ftp://example.com/a.jpg"}`},
		{name: "bad location", body: `{"photo_url":"https://example.com/a.jpg","location":{"lat":100,"lon":0}}`},
	}
	e := newEnv(t, time.Nanosecond, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	history := decode[[]photowatch.Observation](t, e.do(t, http.MethodGet, "/history", ""))
	assert.Empty(t, history)
}

func sessionCookieOf(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatalf("response set no %s cookie", sessionCookie)
	return nil
}

func TestAccessOncePerSession(t *testing.T) {
	e := newEnv(t, time.Nanosecond, nil)

	rec := e.do(t, http.MethodPost, "/access", `{"error":{"code":1,"message":"User denied Geolocation"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["recorded"])
	assert.Equal(t, false, body["has_location"])
	first := sessionCookieOf(t, rec)
	assert.Equal(t, first.Value, body["session_id"])

	rec = e.do(t, http.MethodPost, "/access", `{"coords":{"latitude":4.6,"longitude":-74.1,"accuracy":12}}`, first)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["recorded"])
	assert.Empty(t, rec.Result().Cookies(), "known session should not get a new cookie")

	// A second browser gets its own session and its own event.
	rec = e.do(t, http.MethodPost, "/access", `{"coords":{"latitude":4.5,"longitude":-74.25}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, true, body["recorded"])
	assert.Equal(t, true, body["has_location"])
	second := sessionCookieOf(t, rec)
	assert.NotEqual(t, first.Value, second.Value)

	rec = e.do(t, http.MethodPost, "/access", `{"lat":1,"lon":1}`, second)
	assert.Equal(t, false, decode[map[string]any](t, rec)["recorded"])

	rec = e.do(t, http.MethodGet, "/access", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"lat":null`)
	events := decode[[]photowatch.AccessEvent](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, first.Value, events[0].SessionID)
	assert.False(t, events[0].HasLocation())
	assert.Equal(t, second.Value, events[1].SessionID)
	assert.True(t, events[1].HasLocation())

	rec = e.do(t, http.MethodPost, "/access", `{"lat":"north","lon":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccessSessionHeader(t *testing.T) {
	e := newEnv(t, time.Nanosecond, nil)

	post := func(session string) map[string]any {
		req := httptest.NewRequest(http.MethodPost, "/access", strings.NewReader(`{"lat":1,"lon":2}`))
		req.Header.Set(sessionHeader, session)
		rec := httptest.NewRecorder()
		e.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[map[string]any](t, rec)
	}

	assert.Equal(t, true, post("tab-1")["recorded"])
	assert.Equal(t, false, post("tab-1")["recorded"])
	assert.Equal(t, true, post("tab-2")["recorded"])

	// Unusable IDs are replaced by a fresh session.
	body := post("bad id;")
	assert.Equal(t, true, body["recorded"])
	assert.NotEqual(t, "bad id;", body["session_id"])
}

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0190a0e4-7c1b-7f3a-9d2e-5b6c7d8e9f00", true},
		{"tab_1", true},
		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		if got := validSessionID(tt.id); got != tt.want {
			t.Errorf("validSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestWriteTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Equal(t, defaultWriteTimeout, New(&Config{Logger: logger}).writeTimeout)
	assert.Equal(t, 90*time.Second, New(&Config{Logger: logger, WriteTimeout: 90 * time.Second}).writeTimeout)
	assert.GreaterOrEqual(t, defaultWriteTimeout, 2*scraper.DefaultTimeout+notify.ClientTimeout)
}

func TestLatestEmpty(t *testing.T) {
	e := newEnv(t, time.Nanosecond, nil)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/latest", "").Code)
	assert.Equal(t, "[]\n", e.do(t, http.MethodGet, "/access", "").Body.String())
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/attempts?limit=-2", "").Code)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, time.Nanosecond, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})
	assert.NotEqual(t, http.StatusTooManyRequests, e.do(t, http.MethodPost, "/pollz", "").Code)

	rec := e.do(t, http.MethodPost, "/pollz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t, time.Nanosecond, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, e.do(t, http.MethodGet, "/pollz", "").Code)
}

func TestStatusCode(t *testing.T) {
	tests := map[poll.Status]int{
		poll.StatusTooSoon:       http.StatusTooManyRequests,
		poll.StatusFetchFailed:   http.StatusBadGateway,
		poll.StatusPersistFailed: http.StatusServiceUnavailable,
		poll.StatusInvalidURL:    http.StatusBadRequest,
		poll.StatusNoBaseline:    http.StatusConflict,
		poll.StatusChanged:       http.StatusOK,
		poll.StatusUnchanged:     http.StatusOK,
		poll.StatusSeeded:        http.StatusOK,
	}
	for st, want := range tests {
		assert.Equal(t, want, statusCode(st), string(st))
	}
}
