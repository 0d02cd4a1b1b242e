package compress

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/goexpdp/internal/models"
	"github.com/klauspost/compress/zstd"
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

type mockEngine struct {
	compressFunc func(src, dst string) error
}

func (m *mockEngine) Compress(_ context.Context, _ time.Duration, src, dst string) error {
	if m.compressFunc != nil {
		return m.compressFunc(src, dst)
	}
	return nil
}

func (m *mockEngine) Name() string {
	return "mock"
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestNew_EngineSelection(t *testing.T) {
	tests := []struct {
		name     string
		engine   string
		wantName string
		wantErr  bool
	}{
		{name: "default is cli", engine: "", wantName: "zstd"},
		{name: "cli", engine: "zstd", wantName: "zstd"},
		{name: "native", engine: "native", wantName: "native"},
		{name: "unknown", engine: "lz4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.BackupConfig{}
			cfg.Compression.Engine = tt.engine
			cfg.Compression.Threads = 2
			cfg.Timeouts.Compress = time.Minute

			svc, err := New(testLogger(), cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, svc.engine.Name())
			assert.Equal(t, time.Minute, svc.timeout)
		})
	}
}

func TestCompressAll_SkipsFailedFiles(t *testing.T) {
	engine := &mockEngine{
		compressFunc: func(src, dst string) error {
			if src == "/backup/b.dmp" {
				return errors.New("disk full")
			}
			return nil
		},
	}

	svc := NewWithEngine(testLogger(), engine, time.Minute)
	result := svc.CompressAll(context.Background(), []string{"/backup/a.dmp", "/backup/b.dmp", "/backup/c.dmp"})

	assert.Equal(t, []string{"/backup/a.dmp.zst", "/backup/c.dmp.zst"}, result.Compressed)
	require.Len(t, result.Failed, 1)
	assert.EqualError(t, result.Failed["/backup/b.dmp"], "disk full")
}

func TestCompressAll_NoFiles(t *testing.T) {
	called := false
	engine := &mockEngine{
		compressFunc: func(src, dst string) error {
			called = true
			return nil
		},
	}

	svc := NewWithEngine(testLogger(), engine, time.Minute)
	result := svc.CompressAll(context.Background(), nil)

	assert.False(t, called)
	assert.Empty(t, result.Compressed)
	assert.Empty(t, result.Failed)
}

func TestCLIEngine_Args(t *testing.T) {
	engine := NewCLIEngine(&mockExecutor{}, "", 4)
	assert.Equal(t,
		[]string{"/backup/a_01.dmp", "-T4", "--rm", "-v", "-o", "/backup/a_01.dmp.zst"},
		engine.Args("/backup/a_01.dmp", "/backup/a_01.dmp.zst"),
	)
}

func TestCLIEngine_ThreadsFloor(t *testing.T) {
	engine := NewCLIEngine(&mockExecutor{}, "zstd", 0)
	assert.Contains(t, engine.Args("a", "b"), "-T1")
}

func TestCLIEngine_Success(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.dmp", []byte("data"))
	dst := src + Extension

	var capturedName string
	var capturedTimeout time.Duration
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult {
			capturedName = name
			capturedTimeout = timeout
			require.NoError(t, os.WriteFile(dst, []byte("zst"), 0o600))
			return &models.ProcessResult{Name: name, ExitCode: 0}
		},
	}

	engine := NewCLIEngine(executor, "/usr/bin/zstd", 2)
	err := engine.Compress(context.Background(), 30*time.Minute, src, dst)

	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/zstd", capturedName)
	assert.Equal(t, 30*time.Minute, capturedTimeout)
}

func TestCLIEngine_Failure(t *testing.T) {
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult {
			return &models.ProcessResult{
				Name:     name,
				ExitCode: 1,
				Output:   []byte("zstd: a.dmp: No such file or directory"),
				Error:    errors.New("zstd exited with code 1"),
			}
		},
	}

	engine := NewCLIEngine(executor, "zstd", 2)
	err := engine.Compress(context.Background(), time.Minute, "a.dmp", "a.dmp.zst")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
	assert.Contains(t, err.Error(), "No such file or directory")
}

func TestCLIEngine_TimedOut(t *testing.T) {
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult {
			return &models.ProcessResult{
				Name:     name,
				ExitCode: -1,
				TimedOut: true,
				Error:    errors.New("zstd timed out after 1m0s"),
			}
		},
	}

	engine := NewCLIEngine(executor, "zstd", 2)
	err := engine.Compress(context.Background(), time.Minute, "a.dmp", "a.dmp.zst")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCLIEngine_MissingOutput(t *testing.T) {
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult {
			return &models.ProcessResult{Name: name, ExitCode: 0}
		},
	}

	dst := filepath.Join(t.TempDir(), "a.dmp.zst")
	engine := NewCLIEngine(executor, "zstd", 2)
	err := engine.Compress(context.Background(), time.Minute, "a.dmp", dst)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "is missing")
}

func TestNativeEngine_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("EXPORT TABLE DATA 0123456789\n"), 10000)
	src := writeFile(t, dir, "hr_01.dmp", content)
	dst := src + Extension

	engine := NewNativeEngine(2)
	require.NoError(t, engine.Compress(context.Background(), time.Minute, src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source should be removed")

	compressed, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(content))

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer dec.Close()

	decoded, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)
}

func TestNativeEngine_MissingSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "missing.dmp")

	engine := NewNativeEngine(1)
	err := engine.Compress(context.Background(), time.Minute, src, src+Extension)

	require.Error(t, err)
	_, statErr := os.Stat(src + Extension)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNativeEngine_ExistingOutputIsKept(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.dmp", []byte("data"))
	dst := writeFile(t, dir, "a.dmp.zst", []byte("previous"))

	engine := NewNativeEngine(1)
	err := engine.Compress(context.Background(), time.Minute, src, dst)

	require.Error(t, err)
	kept, readErr := os.ReadFile(dst)
	require.NoError(t, readErr)
	assert.Equal(t, "previous", string(kept))
	_, statErr := os.Stat(src)
	assert.NoError(t, statErr, "source must survive a failed compression")
}

func TestNativeEngine_CancelledContextRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.dmp", []byte("data"))
	dst := src + Extension

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewNativeEngine(1)
	err := engine.Compress(ctx, time.Minute, src, dst)

	require.Error(t, err)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(src)
	assert.NoError(t, statErr)
}
