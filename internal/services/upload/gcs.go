package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/fgeck/goexpdp/internal/models"
	"google.golang.org/api/option"
)

// writerFactory opens a writer for one object.
type writerFactory func(ctx context.Context, bucket, object string) io.WriteCloser

// GCSBackend uploads to Google Cloud Storage.
type GCSBackend struct {
	newWriter writerFactory
	closer    io.Closer
	bucket    string
	prefix    string
}

// NewGCSBackend creates a GCS backend. Without a credentials file the
// default application credentials are used.
func NewGCSBackend(ctx context.Context, bucket string, settings models.UploadSettings) (*GCSBackend, error) {
	var opts []option.ClientOption
	if settings.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(settings.CredentialsFile))
	}
	if settings.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(settings.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	name, prefix := SplitBucket(bucket)
	factory := func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/zstd"
		return w
	}
	backend := NewGCSBackendWithWriter(factory, name, prefix)
	backend.closer = client
	return backend, nil
}

// NewGCSBackendWithWriter creates a GCS backend with a custom writer factory (for testing).
func NewGCSBackendWithWriter(factory writerFactory, bucket, prefix string) *GCSBackend {
	return &GCSBackend{newWriter: factory, bucket: bucket, prefix: prefix}
}

// Name returns the backend name.
func (b *GCSBackend) Name() string {
	return "gcs"
}

// Upload streams path to gs://<bucket>/<prefix><base>. The object only
// becomes visible when the writer closes without error.
func (b *GCSBackend) Upload(ctx context.Context, timeout time.Duration, path string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	f, err := os.Open(path) //nolint:gosec // path comes from the compression result
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := ObjectKey(b.prefix, path)
	// Cancelling the writer's context aborts the upload; Close would commit
	// whatever was written so far.
	writeCtx, abort := context.WithCancel(ctx)
	defer abort()
	w := b.newWriter(writeCtx, b.bucket, key)
	if _, err := io.Copy(w, f); err != nil {
		abort()
		return "", b.wrap(ctx, timeout, "failed to write object", err)
	}
	if err := w.Close(); err != nil {
		return "", b.wrap(ctx, timeout, "failed to upload to GCS", err)
	}

	return "gs://" + b.bucket + "/" + key, nil
}

func (b *GCSBackend) wrap(ctx context.Context, timeout time.Duration, msg string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("upload timed out after %s: %w", timeout, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Close releases the storage client.
func (b *GCSBackend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}
