package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/goexpdp/internal/services/process"
)

// OSSUtilBackend shells out to Alibaba Cloud's ossutil.
type OSSUtilBackend struct {
	executor process.Executor
	binary   string
	url      string
	endpoint string
}

// NewOSSUtilBackend creates a backend copying into oss://<bucket>/.
func NewOSSUtilBackend(executor process.Executor, binary, bucket, endpoint string) *OSSUtilBackend {
	if binary == "" {
		binary = "ossutil64"
	}
	url := "oss://" + strings.Trim(bucket, "/")
	return &OSSUtilBackend{executor: executor, binary: binary, url: url, endpoint: endpoint}
}

// Name returns the backend name.
func (b *OSSUtilBackend) Name() string {
	return "ossutil"
}

// Destination returns the remote URL for a local file.
func (b *OSSUtilBackend) Destination(path string) string {
	return b.url + "/" + filepath.Base(path)
}

// Args returns the ossutil arguments for one file.
func (b *OSSUtilBackend) Args(path string) []string {
	args := []string{"cp", path, b.Destination(path)}
	if b.endpoint != "" {
		args = append(args, "-e", b.endpoint)
	}
	return args
}

// Upload runs ossutil cp for path.
func (b *OSSUtilBackend) Upload(ctx context.Context, timeout time.Duration, path string) (string, error) {
	result := b.executor.Run(ctx, timeout, b.binary, b.Args(path)...)
	if !result.Succeeded() {
		if result.Error != nil {
			return "", fmt.Errorf("%w: %s", result.Error, process.Tail(result.Output, 512))
		}
		return "", fmt.Errorf("%s exited with code %d", b.binary, result.ExitCode)
	}
	return b.Destination(path), nil
}

// Close is a no-op.
func (b *OSSUtilBackend) Close() error {
	return nil
}
