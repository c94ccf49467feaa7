// Package storage handles persistence of photo observations, access events and check attempts.
package storage

import (
	"context"
	"errors"

	"photowatch/pkg/photowatch"
)

var (
	// ErrDuplicate is returned by Append when the latest record already has
	// the same source URL and fingerprint.
	ErrDuplicate = errors.New("duplicate of latest observation")
	// ErrUnavailable wraps any failure to reach or write the backing store.
	ErrUnavailable = errors.New("storage unavailable")
)

// Store is the append-only history of the watched photo.
type Store interface {
	// Latest returns the most recently appended observation, or nil when there is none.
	Latest(ctx context.Context) (*photowatch.Observation, error)
	// Append records obs, assigning its Seq. Consecutive duplicates are rejected with ErrDuplicate.
	Append(ctx context.Context, obs *photowatch.Observation) error
	// History returns every observation in insertion order.
	History(ctx context.Context) ([]*photowatch.Observation, error)

	AppendAccessEvent(ctx context.Context, ev *photowatch.AccessEvent) error
	AccessEvents(ctx context.Context, ascending bool) ([]*photowatch.AccessEvent, error)

	AppendAttempt(ctx context.Context, a *photowatch.CheckAttempt) error
	// Attempts returns up to limit attempts, newest first. A limit <= 0 means all.
	Attempts(ctx context.Context, limit int) ([]*photowatch.CheckAttempt, error)

	Close() error
}

// IsDuplicate checks if an error indicates a rejected duplicate observation.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsUnavailable checks if an error indicates the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// sameContent is the deduplication rule shared by every backend.
func sameContent(latest, obs *photowatch.Observation) bool {
	return latest != nil && latest.SourceURL == obs.SourceURL && latest.Fingerprint == obs.Fingerprint
}

// newestFirst reverses attempts in place and truncates to limit.
func newestFirst(attempts []*photowatch.CheckAttempt, limit int) []*photowatch.CheckAttempt {
	out := make([]*photowatch.CheckAttempt, 0, len(attempts))
	for i := len(attempts) - 1; i >= 0; i-- {
		out = append(out, attempts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
