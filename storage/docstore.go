package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"photowatch/pkg/photowatch"
)

const (
	// DefaultDatabase and DefaultCollection name where observations live in a document backend.
	DefaultDatabase   = "photo_update_db"
	DefaultCollection = "history"

	accessCollection  = "access_log"
	attemptCollection = "check_log"
)

// errKeyExists is returned by Bucket.Create when the key is already taken.
var errKeyExists = errors.New("key already exists")

// Bucket is a flat key/value object space. Keys use "/" separators.
type Bucket interface {
	// Create writes data under key, failing with errKeyExists if key is present.
	Create(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	// List returns every key under prefix, in any order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// DocStore is a Store that keeps one JSON document per record in a Bucket.
// Record keys carry a zero-padded sequence number so listing order is insertion order.
type DocStore struct {
	bucket     Bucket
	logger     *slog.Logger
	database   string
	collection string
	mu         sync.Mutex
}

// NewDocStore creates a document store over bucket.
func NewDocStore(bucket Bucket, database, collection string, logger *slog.Logger) *DocStore {
	if database == "" {
		database = DefaultDatabase
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &DocStore{
		bucket:     bucket,
		logger:     logger,
		database:   database,
		collection: collection,
	}
}

func (s *DocStore) prefix(collection string) string {
	return path.Join(s.database, collection) + "/"
}

func recordKey(prefix string, seq int64) string {
	return fmt.Sprintf("%s%020d.json", prefix, seq)
}

// seqFromKey parses the sequence number out of a record key.
func seqFromKey(key string) (int64, bool) {
	name := path.Base(key)
	if !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	seq, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

type seqKey struct {
	key string
	seq int64
}

// keys lists record keys under collection in ascending sequence order.
func (s *DocStore) keys(ctx context.Context, collection string) ([]seqKey, error) {
	names, err := s.bucket.List(ctx, s.prefix(collection))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrUnavailable, collection, err)
	}
	out := make([]seqKey, 0, len(names))
	for _, name := range names {
		seq, ok := seqFromKey(name)
		if !ok {
			s.logger.Debug("Skipping unrecognized key", "key", name)
			continue
		}
		out = append(out, seqKey{key: name, seq: seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

func (s *DocStore) nextSeq(keys []seqKey) int64 {
	if len(keys) == 0 {
		return 1
	}
	return keys[len(keys)-1].seq + 1
}

func (s *DocStore) read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.Read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, key, err)
	}
	return data, nil
}

func (s *DocStore) create(ctx context.Context, key string, data []byte) error {
	if err := s.bucket.Create(ctx, key, data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Latest returns the observation with the highest sequence number.
func (s *DocStore) Latest(ctx context.Context) (*photowatch.Observation, error) {
	keys, err := s.keys(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	return s.latestOf(ctx, keys)
}

func (s *DocStore) latestOf(ctx context.Context, keys []seqKey) (*photowatch.Observation, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	data, err := s.read(ctx, keys[len(keys)-1].key)
	if err != nil {
		return nil, err
	}
	return decodeObservation(data)
}

// Append writes obs as the next record unless it duplicates the latest one.
func (s *DocStore) Append(ctx context.Context, obs *photowatch.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.keys(ctx, s.collection)
	if err != nil {
		return err
	}
	latest, err := s.latestOf(ctx, keys)
	if err != nil {
		return err
	}
	if sameContent(latest, obs) {
		return ErrDuplicate
	}

	seq := s.nextSeq(keys)
	rec := *obs
	rec.Seq = seq
	rec.ObservedAt = rec.ObservedAt.UTC()
	data, err := encodeObservation(&rec)
	if err != nil {
		return err
	}
	key := recordKey(s.prefix(s.collection), seq)
	if err := s.create(ctx, key, data); err != nil {
		return err
	}

	obs.Seq = seq
	obs.ObservedAt = rec.ObservedAt
	s.logger.Info("Observation stored", "key", key, "fingerprint", obs.Fingerprint)
	return nil
}

// History returns all observations in insertion order. Unreadable records are skipped.
func (s *DocStore) History(ctx context.Context) ([]*photowatch.Observation, error) {
	keys, err := s.keys(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	out := make([]*photowatch.Observation, 0, len(keys))
	for _, k := range keys {
		data, err := s.read(ctx, k.key)
		if err != nil {
			return nil, err
		}
		o, err := decodeObservation(data)
		if err != nil {
			s.logger.Warn("Failed to decode observation", "key", k.key, "error", err)
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *DocStore) AppendAccessEvent(ctx context.Context, ev *photowatch.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.keys(ctx, accessCollection)
	if err != nil {
		return err
	}
	seq := s.nextSeq(keys)
	rec := *ev
	rec.Seq = seq
	rec.OccurredAt = rec.OccurredAt.UTC()
	data, err := encodeAccessEvent(&rec)
	if err != nil {
		return err
	}
	if err := s.create(ctx, recordKey(s.prefix(accessCollection), seq), data); err != nil {
		return err
	}
	ev.Seq = seq
	ev.OccurredAt = rec.OccurredAt
	return nil
}

func (s *DocStore) AccessEvents(ctx context.Context, ascending bool) ([]*photowatch.AccessEvent, error) {
	keys, err := s.keys(ctx, accessCollection)
	if err != nil {
		return nil, err
	}
	out := make([]*photowatch.AccessEvent, 0, len(keys))
	for _, k := range keys {
		data, err := s.read(ctx, k.key)
		if err != nil {
			return nil, err
		}
		ev, err := decodeAccessEvent(data)
		if err != nil {
			s.logger.Warn("Failed to decode access event", "key", k.key, "error", err)
			continue
		}
		out = append(out, ev)
	}
	if !ascending {
		slices.Reverse(out)
	}
	return out, nil
}

func (s *DocStore) AppendAttempt(ctx context.Context, a *photowatch.CheckAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.keys(ctx, attemptCollection)
	if err != nil {
		return err
	}
	seq := s.nextSeq(keys)
	rec := *a
	rec.Seq = seq
	rec.CheckedAt = rec.CheckedAt.UTC()
	data, err := encodeAttempt(&rec)
	if err != nil {
		return err
	}
	if err := s.create(ctx, recordKey(s.prefix(attemptCollection), seq), data); err != nil {
		return err
	}
	a.Seq = seq
	return nil
}

func (s *DocStore) Attempts(ctx context.Context, limit int) ([]*photowatch.CheckAttempt, error) {
	keys, err := s.keys(ctx, attemptCollection)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	var all []*photowatch.CheckAttempt
	for _, k := range keys {
		data, err := s.read(ctx, k.key)
		if err != nil {
			return nil, err
		}
		a, err := decodeAttempt(data)
		if err != nil {
			s.logger.Warn("Failed to decode check attempt", "key", k.key, "error", err)
			continue
		}
		all = append(all, a)
	}
	return newestFirst(all, limit), nil
}

func (s *DocStore) Close() error {
	return s.bucket.Close()
}
