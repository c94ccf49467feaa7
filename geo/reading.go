// Package geo normalises location readings and records per-session access events.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"photowatch/pkg/photowatch"
)

var (
	// ErrLocationDenied means the client refused or failed to provide a location.
	ErrLocationDenied = errors.New("location denied")
	// ErrNoLocation means no provider produced a reading.
	ErrNoLocation = errors.New("no location available")
)

// Key aliases accepted from browser geolocation payloads, in priority order.
var (
	latKeys = []string{"lat", "latitude"}
	lonKeys = []string{"lon", "lng", "longitude"}
	accKeys = []string{"acc", "accuracy"}
)

// ParseBrowserPayload converts a browser geolocation result into a reading.
// It accepts flat objects and the nested {"coords": {...}} shape of the
// Geolocation API. A payload carrying an "error" key yields ErrLocationDenied.
func ParseBrowserPayload(payload map[string]any) (*photowatch.GeoReading, error) {
	if payload == nil {
		return nil, ErrLocationDenied
	}
	if e, ok := payload["error"]; ok && e != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocationDenied, e)
	}
	if coords, ok := payload["coords"].(map[string]any); ok {
		payload = coords
	}

	lat, ok, err := lookupFloat(payload, latKeys)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing latitude", ErrNoLocation)
	}
	lon, ok, err := lookupFloat(payload, lonKeys)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing longitude", ErrNoLocation)
	}

	r := &photowatch.GeoReading{Latitude: lat, Longitude: lon, Source: "browser"}
	if acc, ok, err := lookupFloat(payload, accKeys); err != nil {
		return nil, err
	} else if ok {
		r.AccuracyMeters = &acc
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that a reading is finite and within WGS84 bounds.
func Validate(r *photowatch.GeoReading) error {
	if !finite(r.Latitude) || !finite(r.Longitude) {
		return fmt.Errorf("coordinates %v, %v are not finite", r.Latitude, r.Longitude)
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", r.Longitude)
	}
	if a := r.AccuracyMeters; a != nil && (!finite(*a) || *a < 0) {
		return fmt.Errorf("accuracy %v is invalid", *r.AccuracyMeters)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func lookupFloat(m map[string]any, keys []string) (float64, bool, error) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return 0, false, fmt.Errorf("parse %s: %w", k, err)
		}
		return f, true, nil
	}
	return 0, false, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
