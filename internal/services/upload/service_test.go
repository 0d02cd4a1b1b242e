package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/fgeck/goexpdp/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	runFunc func(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult
}

func (m *mockExecutor) Run(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult {
	if m.runFunc != nil {
		return m.runFunc(ctx, timeout, name, args...)
	}
	return &models.ProcessResult{Name: name, Args: args}
}

type mockBackend struct {
	uploadFunc func(path string) (string, error)
	closed     bool
}

func (m *mockBackend) Upload(_ context.Context, _ time.Duration, path string) (string, error) {
	if m.uploadFunc != nil {
		return m.uploadFunc(path)
	}
	return "mock://" + filepath.Base(path), nil
}

func (m *mockBackend) Name() string {
	return "mock"
}

func (m *mockBackend) Close() error {
	m.closed = true
	return nil
}

type mockS3Uploader struct {
	uploadFunc func(ctx aws.Context, input *s3manager.UploadInput) (*s3manager.UploadOutput, error)
}

func (m *mockS3Uploader) UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return m.uploadFunc(ctx, input)
}

type bufferWriter struct {
	bytes.Buffer
	writeErr error
	closeErr error
	closed   bool
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.Buffer.Write(p)
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hr_202401011200_01.dmp.zst")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUploadAll_AttemptsEveryFile(t *testing.T) {
	var attempted []string
	backend := &mockBackend{
		uploadFunc: func(path string) (string, error) {
			attempted = append(attempted, path)
			if path == "/backup/b.zst" {
				return "", errors.New("connection reset")
			}
			return "oss://bucket/" + filepath.Base(path), nil
		},
	}

	svc := NewWithBackend(testLogger(), backend, time.Minute)
	result := svc.UploadAll(context.Background(), []string{"/backup/a.zst", "/backup/b.zst", "/backup/c.zst"})

	assert.Equal(t, []string{"/backup/a.zst", "/backup/b.zst", "/backup/c.zst"}, attempted)
	assert.Equal(t, []string{"oss://bucket/a.zst", "oss://bucket/c.zst"}, result.Uploaded)
	require.Len(t, result.Failed, 1)
	assert.EqualError(t, result.Failed["/backup/b.zst"], "connection reset")
}

func TestUploadAll_NoFiles(t *testing.T) {
	backend := &mockBackend{
		uploadFunc: func(path string) (string, error) {
			t.Fatal("backend should not be called")
			return "", nil
		},
	}

	svc := NewWithBackend(testLogger(), backend, time.Minute)
	result := svc.UploadAll(context.Background(), nil)

	assert.Empty(t, result.Uploaded)
	assert.Empty(t, result.Failed)
}

func TestClose(t *testing.T) {
	backend := &mockBackend{}
	svc := NewWithBackend(testLogger(), backend, time.Minute)
	require.NoError(t, svc.Close())
	assert.True(t, backend.closed)
}

func TestNew_BackendSelection(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		wantName string
		wantErr  bool
	}{
		{name: "default is ossutil", backend: "", wantName: "ossutil"},
		{name: "ossutil", backend: "ossutil", wantName: "ossutil"},
		{name: "s3", backend: "s3", wantName: "s3"},
		{name: "unknown", backend: "ftp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.BackupConfig{Bucket: "backups/oracle"}
			cfg.Upload.Backend = tt.backend
			cfg.Upload.Region = "oss-cn-hangzhou"
			cfg.Upload.AccessKey = "ak"
			cfg.Upload.SecretKey = "sk"
			cfg.Timeouts.Upload = 5 * time.Minute

			svc, err := New(context.Background(), testLogger(), cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, svc.backend.Name())
			assert.Equal(t, 5*time.Minute, svc.timeout)
		})
	}
}

func TestSplitBucket(t *testing.T) {
	tests := []struct {
		bucket     string
		wantName   string
		wantPrefix string
	}{
		{bucket: "backups", wantName: "backups", wantPrefix: ""},
		{bucket: "backups/", wantName: "backups", wantPrefix: ""},
		{bucket: "backups/oracle", wantName: "backups", wantPrefix: "oracle/"},
		{bucket: "backups/oracle/prod/", wantName: "backups", wantPrefix: "oracle/prod/"},
	}

	for _, tt := range tests {
		t.Run(tt.bucket, func(t *testing.T) {
			name, prefix := SplitBucket(tt.bucket)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestOSSUtilBackend_Args(t *testing.T) {
	backend := NewOSSUtilBackend(&mockExecutor{}, "", "backups/oracle", "")
	assert.Equal(t,
		[]string{"cp", "/backup/a.dmp.zst", "oss://backups/oracle/a.dmp.zst"},
		backend.Args("/backup/a.dmp.zst"),
	)

	withEndpoint := NewOSSUtilBackend(&mockExecutor{}, "ossutil", "backups", "oss-cn-hangzhou.aliyuncs.com")
	assert.Equal(t,
		[]string{"cp", "/backup/a.dmp.zst", "oss://backups/a.dmp.zst", "-e", "oss-cn-hangzhou.aliyuncs.com"},
		withEndpoint.Args("/backup/a.dmp.zst"),
	)
}

func TestOSSUtilBackend_Upload(t *testing.T) {
	var capturedName string
	var capturedTimeout time.Duration
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult {
			capturedName = name
			capturedTimeout = timeout
			return &models.ProcessResult{Name: name, ExitCode: 0}
		},
	}

	backend := NewOSSUtilBackend(executor, "", "backups", "")
	location, err := backend.Upload(context.Background(), 30*time.Minute, "/backup/a.dmp.zst")

	require.NoError(t, err)
	assert.Equal(t, "oss://backups/a.dmp.zst", location)
	assert.Equal(t, "ossutil64", capturedName)
	assert.Equal(t, 30*time.Minute, capturedTimeout)
}

func TestOSSUtilBackend_UploadFailure(t *testing.T) {
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult {
			return &models.ProcessResult{
				Name:     name,
				ExitCode: 1,
				Output:   []byte("Error: oss: service returned error: StatusCode=403"),
				Error:    errors.New("ossutil64 exited with code 1"),
			}
		},
	}

	backend := NewOSSUtilBackend(executor, "", "backups", "")
	_, err := backend.Upload(context.Background(), time.Minute, "/backup/a.dmp.zst")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
	assert.Contains(t, err.Error(), "StatusCode=403")
}

func TestS3Backend_Upload(t *testing.T) {
	path := writeFile(t, "compressed")

	var capturedBucket, capturedKey string
	var capturedBody []byte
	uploader := &mockS3Uploader{
		uploadFunc: func(ctx aws.Context, input *s3manager.UploadInput) (*s3manager.UploadOutput, error) {
			capturedBucket = aws.StringValue(input.Bucket)
			capturedKey = aws.StringValue(input.Key)
			body, err := io.ReadAll(input.Body)
			require.NoError(t, err)
			capturedBody = body
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return &s3manager.UploadOutput{}, nil
		},
	}

	backend := NewS3BackendWithUploader(uploader, "backups", "oracle/")
	location, err := backend.Upload(context.Background(), time.Minute, path)

	require.NoError(t, err)
	assert.Equal(t, "backups", capturedBucket)
	assert.Equal(t, "oracle/hr_202401011200_01.dmp.zst", capturedKey)
	assert.Equal(t, "compressed", string(capturedBody))
	assert.Equal(t, "s3://backups/oracle/hr_202401011200_01.dmp.zst", location)
}

func TestS3Backend_UsesReportedLocation(t *testing.T) {
	path := writeFile(t, "x")
	uploader := &mockS3Uploader{
		uploadFunc: func(ctx aws.Context, input *s3manager.UploadInput) (*s3manager.UploadOutput, error) {
			return &s3manager.UploadOutput{Location: "https://backups.example.com/x"}, nil
		},
	}

	backend := NewS3BackendWithUploader(uploader, "backups", "")
	location, err := backend.Upload(context.Background(), time.Minute, path)

	require.NoError(t, err)
	assert.Equal(t, "https://backups.example.com/x", location)
}

func TestS3Backend_UploadError(t *testing.T) {
	path := writeFile(t, "x")
	uploader := &mockS3Uploader{
		uploadFunc: func(ctx aws.Context, input *s3manager.UploadInput) (*s3manager.UploadOutput, error) {
			return nil, errors.New("AccessDenied")
		},
	}

	backend := NewS3BackendWithUploader(uploader, "backups", "")
	_, err := backend.Upload(context.Background(), time.Minute, path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload to S3")
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestS3Backend_MissingFile(t *testing.T) {
	uploader := &mockS3Uploader{
		uploadFunc: func(ctx aws.Context, input *s3manager.UploadInput) (*s3manager.UploadOutput, error) {
			t.Fatal("uploader should not be called")
			return nil, nil
		},
	}

	backend := NewS3BackendWithUploader(uploader, "backups", "")
	_, err := backend.Upload(context.Background(), time.Minute, filepath.Join(t.TempDir(), "missing.zst"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open file")
}

func TestGCSBackend_Upload(t *testing.T) {
	path := writeFile(t, "compressed")

	writer := &bufferWriter{}
	var capturedBucket, capturedObject string
	factory := func(ctx context.Context, bucket, object string) io.WriteCloser {
		capturedBucket = bucket
		capturedObject = object
		return writer
	}

	backend := NewGCSBackendWithWriter(factory, "backups", "oracle/")
	location, err := backend.Upload(context.Background(), time.Minute, path)

	require.NoError(t, err)
	assert.Equal(t, "backups", capturedBucket)
	assert.Equal(t, "oracle/hr_202401011200_01.dmp.zst", capturedObject)
	assert.Equal(t, "compressed", writer.String())
	assert.True(t, writer.closed)
	assert.Equal(t, "gs://backups/oracle/hr_202401011200_01.dmp.zst", location)
}

func TestGCSBackend_CloseError(t *testing.T) {
	path := writeFile(t, "compressed")
	writer := &bufferWriter{closeErr: errors.New("googleapi: Error 403")}
	factory := func(ctx context.Context, bucket, object string) io.WriteCloser {
		return writer
	}

	backend := NewGCSBackendWithWriter(factory, "backups", "")
	_, err := backend.Upload(context.Background(), time.Minute, path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload to GCS")
	assert.Contains(t, err.Error(), "Error 403")
}

func TestGCSBackend_WriteErrorAbortsWithoutCommit(t *testing.T) {
	path := writeFile(t, "compressed")
	writer := &bufferWriter{writeErr: errors.New("connection reset by peer")}
	var writerCtx context.Context
	factory := func(ctx context.Context, bucket, object string) io.WriteCloser {
		writerCtx = ctx
		return writer
	}

	backend := NewGCSBackendWithWriter(factory, "backups", "")
	_, err := backend.Upload(context.Background(), time.Minute, path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write object")
	assert.False(t, writer.closed, "closing would commit a truncated object")
	require.NotNil(t, writerCtx)
	assert.ErrorIs(t, writerCtx.Err(), context.Canceled)
}

func TestGCSBackend_CloseWithoutClient(t *testing.T) {
	backend := NewGCSBackendWithWriter(nil, "backups", "")
	assert.NoError(t, backend.Close())
}
