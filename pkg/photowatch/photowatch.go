// Package photowatch contains the core domain types for the photo change watcher.
package photowatch

import (
	"time"

	"github.com/google/uuid"
)

// GeoReading is a single normalized location fix.
type GeoReading struct {
	AccuracyMeters *float64 `json:"acc"`              // nil when the source gave no accuracy
	Source         string   `json:"source,omitempty"` // Provider that produced the reading
	Latitude       float64  `json:"lat"`
	Longitude      float64  `json:"lon"`
}

// Observation is one recorded content state of the watched photo.
type Observation struct {
	ObservedAt  time.Time   `json:"checked_at"`         // Always UTC once stored
	Location    *GeoReading `json:"location,omitempty"` // Where the operator was, if known
	SourceURL   string      `json:"photo_url"`          // URL the content was fetched from
	Fingerprint string      `json:"hash"`               // SHA-256 hex of the content (or of the URL in degraded mode)
	Seq         int64       `json:"seq"`                // Insertion order, assigned by the store
}

// AccessEvent records one geolocation attempt for a session.
// Nil coordinates mean the location was denied or unavailable, never (0, 0).
type AccessEvent struct {
	OccurredAt     time.Time `json:"ts"`
	Latitude       *float64  `json:"lat"`
	Longitude      *float64  `json:"lon"`
	AccuracyMeters *float64  `json:"acc"`
	SessionID      string    `json:"session_id,omitempty"`
	Source         string    `json:"source,omitempty"`
	Seq            int64     `json:"seq"`
}

// NewAccessEvent builds an event from an optional reading.
func NewAccessEvent(sessionID string, at time.Time, r *GeoReading) *AccessEvent {
	ev := &AccessEvent{
		OccurredAt: at.UTC(),
		SessionID:  sessionID,
	}
	if r != nil {
		lat, lon := r.Latitude, r.Longitude
		ev.Latitude = &lat
		ev.Longitude = &lon
		ev.AccuracyMeters = r.AccuracyMeters
		ev.Source = r.Source
	}
	return ev
}

// HasLocation reports whether the event carries coordinates.
func (e *AccessEvent) HasLocation() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// CheckAttempt is a heartbeat-style audit entry for a check that reached the network.
// It is kept apart from Observation so the history only holds content-state transitions.
type CheckAttempt struct {
	CheckedAt   time.Time `json:"checked_at"`
	SourceURL   string    `json:"photo_url"`
	Fingerprint string    `json:"hash,omitempty"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Seq         int64     `json:"seq"`
}

// Session is the ephemeral per-session state of the watcher. It is never persisted.
type Session struct {
	LastCheckedAt           time.Time // Last check attempt, used for debounce
	ID                      string    // Correlates access events with the session
	LastKnownURL            string    // Source URL of the latest observation
	LastKnownFingerprint    string    // Cached fingerprint of the latest observation
	LastNotifiedFingerprint string    // Last fingerprint announced in this session
	AccessLogged            bool      // At most one access event per session
}

// NewSession starts a fresh session with a time-sortable ID.
func NewSession() Session {
	return Session{ID: uuid.Must(uuid.NewV7()).String()}
}
