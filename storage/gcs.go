package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSBucket stores objects in a Cloud Storage bucket under an optional prefix.
type GCSBucket struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
	prefix string
}

// NewGCSBucket wraps an existing client. The bucket owns the client and closes it.
func NewGCSBucket(client *storage.Client, bucket, prefix string, logger *slog.Logger) *GCSBucket {
	return &GCSBucket{
		client: client,
		logger: logger,
		bucket: bucket,
		prefix: prefix,
	}
}

func (b *GCSBucket) object(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

// do runs fn with the retry policy used for every bucket operation.
func (b *GCSBucket) do(ctx context.Context, op, key string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", retryErr)
		}),
	)
}

func (b *GCSBucket) Create(ctx context.Context, key string, data []byte) error {
	name := b.object(key)
	attempt := 0
	err := b.do(ctx, "create", name, func() error {
		attempt++
		w := b.client.Bucket(b.bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, writeErr := w.Write(data); writeErr != nil {
			if closeErr := w.Close(); closeErr != nil {
				b.logger.Warn("Failed to close writer after error", "error", closeErr)
			}
			return fmt.Errorf("write to storage: %w", writeErr)
		}
		if closeErr := w.Close(); closeErr != nil {
			// Precondition failure means another record already owns the key.
			var apiErr *googleapi.Error
			if errors.As(closeErr, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
				if err := keyConflict(attempt, data, func() ([]byte, error) { return b.readOnce(ctx, name) }); err != nil {
					return retry.Unrecoverable(err)
				}
				b.logger.Info("Object already holds this write, treating retry as success", "key", name, "attempt", attempt)
				return nil
			}
			return fmt.Errorf("close storage writer: %w", closeErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create after retries: %w", err)
	}
	return nil
}

// keyConflict classifies a precondition failure. On a retry the object may be
// our own earlier write whose response was lost; identical content counts as
// success.
func keyConflict(attempt int, data []byte, read func() ([]byte, error)) error {
	if attempt > 1 {
		if existing, err := read(); err == nil && bytes.Equal(existing, data) {
			return nil
		}
	}
	return errKeyExists
}

func (b *GCSBucket) readOnce(ctx context.Context, name string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open storage reader: %w", err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			b.logger.Warn("Failed to close storage reader", "error", closeErr)
		}
	}()
	return io.ReadAll(r)
}

func (b *GCSBucket) Read(ctx context.Context, key string) ([]byte, error) {
	name := b.object(key)
	var data []byte
	err := b.do(ctx, "read", name, func() error {
		r, openErr := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
		if openErr != nil {
			// Don't retry on "not found" errors
			if errors.Is(openErr, storage.ErrObjectNotExist) {
				return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
			}
			return fmt.Errorf("open storage reader: %w", openErr)
		}
		defer func() {
			if closeErr := r.Close(); closeErr != nil {
				b.logger.Warn("Failed to close storage reader", "error", closeErr)
			}
		}()

		var readErr error
		data, readErr = io.ReadAll(r)
		if readErr != nil {
			return fmt.Errorf("read from storage: %w", readErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// List returns keys relative to the bucket prefix.
func (b *GCSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	full := b.object(prefix)
	if full != "" && full[len(full)-1] != '/' {
		full += "/"
	}
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: full})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, prefix+path.Base(attrs.Name))
	}
	return keys, nil
}

func (b *GCSBucket) Close() error {
	return b.client.Close()
}
