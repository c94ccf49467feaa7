package storage

import (
	"context"
	"fmt"

	"photowatch/pkg/photowatch"
)

// Unavailable is the degraded-mode store used when no backend can be reached.
// Reads behave as an empty history; every write fails with ErrUnavailable.
type Unavailable struct {
	Reason string
}

func (u *Unavailable) err() error {
	if u.Reason == "" {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, u.Reason)
}

func (*Unavailable) Latest(context.Context) (*photowatch.Observation, error) { return nil, nil }

func (u *Unavailable) Append(context.Context, *photowatch.Observation) error { return u.err() }

func (*Unavailable) History(context.Context) ([]*photowatch.Observation, error) { return nil, nil }

func (u *Unavailable) AppendAccessEvent(context.Context, *photowatch.AccessEvent) error {
	return u.err()
}

func (*Unavailable) AccessEvents(context.Context, bool) ([]*photowatch.AccessEvent, error) {
	return nil, nil
}

func (u *Unavailable) AppendAttempt(context.Context, *photowatch.CheckAttempt) error {
	return u.err()
}

func (*Unavailable) Attempts(context.Context, int) ([]*photowatch.CheckAttempt, error) {
	return nil, nil
}

func (*Unavailable) Close() error { return nil }
