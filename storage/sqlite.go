package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register driver

	"photowatch/pkg/photowatch"
)

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	// Per-connection PRAGMAs for a single-process writer.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	return openSQLiteDSN(ctx, dsn, logger)
}

func openSQLiteDSN(ctx context.Context, dsn string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db, logger: logger}, nil
}

func nullable(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const selectObservation = `SELECT seq, photo_url, hash, checked_at_ms, lat, lon, acc, loc_source FROM observations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (*photowatch.Observation, error) {
	var (
		o             photowatch.Observation
		checkedMs     int64
		lat, lon, acc sql.NullFloat64
		src           sql.NullString
	)
	if err := row.Scan(&o.Seq, &o.SourceURL, &o.Fingerprint, &checkedMs, &lat, &lon, &acc, &src); err != nil {
		return nil, err
	}
	o.ObservedAt = fromMillis(checkedMs)
	if lat.Valid && lon.Valid {
		o.Location = &photowatch.GeoReading{
			Latitude:       lat.Float64,
			Longitude:      lon.Float64,
			AccuracyMeters: ptr(acc),
			Source:         src.String,
		}
	}
	return &o, nil
}

func (s *SQLite) Latest(ctx context.Context) (*photowatch.Observation, error) {
	o, err := scanObservation(s.db.QueryRowContext(ctx, selectObservation+` ORDER BY seq DESC LIMIT 1;`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: latest observation: %w", ErrUnavailable, err)
	}
	return o, nil
}

// Append checks the latest row and inserts in one transaction.
func (s *SQLite) Append(ctx context.Context, obs *photowatch.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var latestURL, latestHash string
	err = tx.QueryRowContext(ctx, `SELECT photo_url, hash FROM observations ORDER BY seq DESC LIMIT 1;`).Scan(&latestURL, &latestHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("%w: read latest: %w", ErrUnavailable, err)
	case latestURL == obs.SourceURL && latestHash == obs.Fingerprint:
		return ErrDuplicate
	}

	var lat, lon, acc, src any
	if obs.Location != nil {
		lat = obs.Location.Latitude
		lon = obs.Location.Longitude
		acc = nullable(obs.Location.AccuracyMeters)
		if obs.Location.Source != "" {
			src = obs.Location.Source
		}
	}
	observedAt := obs.ObservedAt.UTC()
	res, err := tx.ExecContext(ctx, `
INSERT INTO observations(photo_url, hash, checked_at_ms, lat, lon, acc, loc_source)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, obs.SourceURL, obs.Fingerprint, observedAt.UnixMilli(), lat, lon, acc, src)
	if err != nil {
		return fmt.Errorf("%w: insert observation: %w", ErrUnavailable, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: last insert id: %w", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}

	obs.Seq = seq
	obs.ObservedAt = observedAt
	s.logger.Info("Observation stored", "seq", seq, "fingerprint", obs.Fingerprint)
	return nil
}

func (s *SQLite) History(ctx context.Context) ([]*photowatch.Observation, error) {
	rows, err := s.db.QueryContext(ctx, selectObservation+` ORDER BY seq ASC;`)
	if err != nil {
		return nil, fmt.Errorf("%w: query history: %w", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*photowatch.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *SQLite) AppendAccessEvent(ctx context.Context, ev *photowatch.AccessEvent) error {
	occurredAt := ev.OccurredAt.UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO access_log(session_id, ts_ms, lat, lon, acc, source)
VALUES (?, ?, ?, ?, ?, ?);
`, ev.SessionID, occurredAt.UnixMilli(), nullable(ev.Latitude), nullable(ev.Longitude), nullable(ev.AccuracyMeters), ev.Source)
	if err != nil {
		return fmt.Errorf("%w: insert access event: %w", ErrUnavailable, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: last insert id: %w", ErrUnavailable, err)
	}
	ev.Seq = seq
	ev.OccurredAt = occurredAt
	return nil
}

func (s *SQLite) AccessEvents(ctx context.Context, ascending bool) ([]*photowatch.AccessEvent, error) {
	order := "ASC"
	if !ascending {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, session_id, ts_ms, lat, lon, acc, source FROM access_log ORDER BY seq `+order+`;`)
	if err != nil {
		return nil, fmt.Errorf("%w: query access log: %w", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*photowatch.AccessEvent
	for rows.Next() {
		var (
			ev            photowatch.AccessEvent
			tsMs          int64
			lat, lon, acc sql.NullFloat64
		)
		if err := rows.Scan(&ev.Seq, &ev.SessionID, &tsMs, &lat, &lon, &acc, &ev.Source); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		ev.OccurredAt = fromMillis(tsMs)
		ev.Latitude = ptr(lat)
		ev.Longitude = ptr(lon)
		ev.AccuracyMeters = ptr(acc)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access log: %w", err)
	}
	return out, nil
}

func (s *SQLite) AppendAttempt(ctx context.Context, a *photowatch.CheckAttempt) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO check_log(checked_at_ms, photo_url, hash, status, message, duration_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, a.CheckedAt.UTC().UnixMilli(), a.SourceURL, a.Fingerprint, a.Status, a.Message, a.DurationMs)
	if err != nil {
		return fmt.Errorf("%w: insert check attempt: %w", ErrUnavailable, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: last insert id: %w", ErrUnavailable, err)
	}
	a.Seq = seq
	return nil
}

func (s *SQLite) Attempts(ctx context.Context, limit int) ([]*photowatch.CheckAttempt, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, checked_at_ms, photo_url, hash, status, message, duration_ms
FROM check_log ORDER BY seq DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query check log: %w", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*photowatch.CheckAttempt
	for rows.Next() {
		var (
			a         photowatch.CheckAttempt
			checkedMs int64
		)
		if err := rows.Scan(&a.Seq, &checkedMs, &a.SourceURL, &a.Fingerprint, &a.Status, &a.Message, &a.DurationMs); err != nil {
			return nil, fmt.Errorf("scan check attempt: %w", err)
		}
		a.CheckedAt = fromMillis(checkedMs)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check log: %w", err)
	}
	return out, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
