//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/goexpdp/internal/models"
	"github.com/fgeck/goexpdp/internal/services/process"
	"github.com/fgeck/goexpdp/internal/services/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goexpdp_integration_"+time.Now().Format("20060102150405")+".dmp.zst")
	require.NoError(t, os.WriteFile(path, []byte("integration test payload"), 0o600))
	return path
}

func TestOSSUtilUpload_Integration(t *testing.T) {
	bucket := os.Getenv("TEST_OSS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_OSS_BUCKET not set")
	}
	binary := requireBinary(t, "ossutil64")

	backend := upload.NewOSSUtilBackend(&process.DefaultExecutor{}, binary, bucket, os.Getenv("TEST_OSS_ENDPOINT"))
	svc := upload.NewWithBackend(testLogger(), backend, 5*time.Minute)
	path := writeArchive(t)

	result := svc.UploadAll(context.Background(), []string{path})

	require.Empty(t, result.Failed)
	assert.Equal(t, []string{"oss://" + bucket + "/" + filepath.Base(path)}, result.Uploaded)
}

func TestS3Upload_Integration(t *testing.T) {
	bucket := os.Getenv("TEST_S3_BUCKET")
	if bucket == "" {
		t.Skip("TEST_S3_BUCKET not set")
	}
	region := os.Getenv("TEST_S3_REGION")
	if region == "" {
		t.Skip("TEST_S3_REGION not set")
	}

	cfg := models.BackupConfig{Bucket: bucket}
	cfg.Upload = models.UploadSettings{
		Backend:   "s3",
		Region:    region,
		Endpoint:  os.Getenv("TEST_S3_ENDPOINT"),
		AccessKey: os.Getenv("TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("TEST_S3_SECRET_KEY"),
	}
	cfg.Timeouts.Upload = 5 * time.Minute

	svc, err := upload.New(context.Background(), testLogger(), cfg)
	require.NoError(t, err)
	defer svc.Close()

	result := svc.UploadAll(context.Background(), []string{writeArchive(t)})

	require.Empty(t, result.Failed)
	assert.Len(t, result.Uploaded, 1)
}

func TestGCSUpload_Integration(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set")
	}

	cfg := models.BackupConfig{Bucket: bucket}
	cfg.Upload = models.UploadSettings{
		Backend:         "gcs",
		CredentialsFile: os.Getenv("TEST_GCS_CREDENTIALS_FILE"),
	}
	cfg.Timeouts.Upload = 5 * time.Minute

	svc, err := upload.New(context.Background(), testLogger(), cfg)
	require.NoError(t, err)
	defer svc.Close()

	path := writeArchive(t)
	result := svc.UploadAll(context.Background(), []string{path})

	require.Empty(t, result.Failed)
	assert.Len(t, result.Uploaded, 1)
}
