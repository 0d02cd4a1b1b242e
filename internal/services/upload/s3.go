package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/fgeck/goexpdp/internal/models"
)

// s3Uploader allows mocking s3manager.Uploader in tests.
type s3Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Backend uploads through the S3 API. Alibaba OSS, AWS and MinIO all
// speak it.
type S3Backend struct {
	uploader s3Uploader
	bucket   string
	prefix   string
}

// NewS3Backend creates an S3 backend. Static credentials are used when an
// access key is configured, otherwise the SDK default chain.
func NewS3Backend(bucket string, settings models.UploadSettings) (*S3Backend, error) {
	awsCfg := &aws.Config{
		Region: aws.String(settings.Region),
	}
	if settings.Endpoint != "" {
		awsCfg.Endpoint = aws.String(settings.Endpoint)
	}
	if settings.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(settings.AccessKey, settings.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	name, prefix := SplitBucket(bucket)
	return NewS3BackendWithUploader(s3manager.NewUploader(sess), name, prefix), nil
}

// NewS3BackendWithUploader creates an S3 backend with a custom uploader (for testing).
func NewS3BackendWithUploader(uploader s3Uploader, bucket, prefix string) *S3Backend {
	return &S3Backend{uploader: uploader, bucket: bucket, prefix: prefix}
}

// Name returns the backend name.
func (b *S3Backend) Name() string {
	return "s3"
}

// Upload streams path to s3://<bucket>/<prefix><base>.
func (b *S3Backend) Upload(ctx context.Context, timeout time.Duration, path string) (string, error) {
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
	out, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("upload timed out after %s: %w", timeout, err)
		}
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	if out != nil && out.Location != "" {
		return out.Location, nil
	}
	return "s3://" + b.bucket + "/" + key, nil
}

// Close is a no-op.
func (b *S3Backend) Close() error {
	return nil
}
