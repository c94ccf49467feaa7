package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
)

// Backend names accepted in Config.Backend.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendSQLite = "sqlite"
)

// Config selects and locates the backing store.
type Config struct {
	Backend    string // Empty means infer from Connection
	Connection string // memory://, file://dir, gs://bucket/prefix, sqlite://path, or a bare path
	Database   string
	Collection string
}

// errNoConnection is reported when no connection information was configured.
var errNoConnection = errors.New("no storage connection configured")

// resolve returns the backend and its location from cfg.
func (cfg Config) resolve() (backend, location string, err error) {
	conn := strings.TrimSpace(cfg.Connection)
	switch {
	case strings.HasPrefix(conn, "memory://"):
		backend, location = BackendMemory, ""
	case strings.HasPrefix(conn, "gs://"):
		backend, location = BackendGCS, strings.TrimPrefix(conn, "gs://")
	case strings.HasPrefix(conn, "sqlite://"):
		backend, location = BackendSQLite, strings.TrimPrefix(conn, "sqlite://")
	case strings.HasPrefix(conn, "file://"):
		backend, location = BackendLocal, strings.TrimPrefix(conn, "file://")
	case strings.HasSuffix(conn, ".db"), strings.HasSuffix(conn, ".sqlite"):
		backend, location = BackendSQLite, conn
	default:
		backend, location = BackendLocal, conn
	}

	if cfg.Backend != "" {
		if cfg.Backend != backend && conn != "" && strings.Contains(conn, "://") {
			return "", "", fmt.Errorf("backend %q does not match connection %q", cfg.Backend, conn)
		}
		backend = cfg.Backend
	}
	if backend != BackendMemory && location == "" {
		return "", "", errNoConnection
	}
	return backend, location, nil
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	backend, location, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendMemory:
		logger.Info("Using in-memory storage")
		return NewMemory(), nil

	case BackendLocal:
		b, err := NewLocalBucket(location)
		if err != nil {
			return nil, err
		}
		logger.Info("Using local storage", "path", location)
		return NewDocStore(b, cfg.Database, cfg.Collection, logger), nil

	case BackendGCS:
		bucket, prefix, _ := strings.Cut(location, "/")
		if bucket == "" {
			return nil, fmt.Errorf("missing bucket in %q", cfg.Connection)
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		logger.Info("Using Cloud Storage", "bucket", bucket, "prefix", prefix)
		return NewDocStore(NewGCSBucket(client, bucket, strings.TrimSuffix(prefix, "/"), logger), cfg.Database, cfg.Collection, logger), nil

	case BackendSQLite:
		s, err := OpenSQLite(ctx, location, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Using SQLite storage", "path", location)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// OpenOrDegrade opens the configured backend, falling back to an Unavailable
// store when it cannot be reached. degraded reports whether the fallback was used.
func OpenOrDegrade(ctx context.Context, cfg Config, logger *slog.Logger) (s Store, degraded bool) {
	s, err := Open(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Storage unavailable, running in degraded mode", "error", err)
		return &Unavailable{Reason: err.Error()}, true
	}
	return s, false
}
