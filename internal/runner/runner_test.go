package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/daydemir/autopilot/internal/orchestrator"
	"github.com/daydemir/autopilot/internal/retry"
	"github.com/daydemir/autopilot/internal/types"
)

func newRunner(t *testing.T, workDir string) *CommandRunner {
	t.Helper()
	cfg := DefaultConfig(workDir)
	cfg.Detect = false
	return New(cfg, zaptest.NewLogger(t))
}

func phase(build string, validations ...string) *types.PhaseSpec {
	return &types.PhaseSpec{ID: "p1", Description: "test", BuildCommand: build, ValidationCommands: validations}
}

func TestRunSuccess(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, dir)

	out, err := r.Run(context.Background(), phase("echo built > build.txt", "test -f build.txt", "echo lint ok"), 0, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, orchestrator.StatusComplete, out.Status)
	assert.Positive(t, out.ContextCharsUsed)
}

func TestRunBuildFailure(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, dir)

	out, err := r.Run(context.Background(), phase("echo 'undefined: Foo'; exit 2", "touch validated"), 0, nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, retry.StatusBuildFailed, out.Status)
	assert.Contains(t, out.Error, "exit status 2")
	assert.Equal(t, []string{"undefined: Foo"}, out.Messages)
	assert.NoFileExists(t, filepath.Join(dir, "validated"))
}

func TestRunValidationFailure(t *testing.T) {
	r := newRunner(t, t.TempDir())

	out, err := r.Run(context.Background(), phase("", "echo ok", "echo 'FAIL: TestLogin'; exit 1"), 1, []string{"internal/auth"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, retry.StatusCIFailed, out.Status)
	assert.Contains(t, out.Error, "exit status 1")
	assert.Contains(t, out.Messages, "FAIL: TestLogin")
}

func TestRunWritesTranscript(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Detect = false
	cfg.LogDir = filepath.Join(dir, "logs")
	r := New(cfg, zaptest.NewLogger(t))

	out, err := r.Run(context.Background(), phase("echo compiling", "echo 'FAIL: TestLogin'; exit 1"), 2, nil)
	require.NoError(t, err)

	last := out.Messages[len(out.Messages)-1]
	require.True(t, strings.HasPrefix(last, "log: "), "expected log path message, got %q", last)
	path := strings.TrimPrefix(last, "log: ")
	assert.Equal(t, filepath.Join(dir, "logs", "p1"), filepath.Dir(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Phase p1, attempt 3")
	assert.Contains(t, string(content), "compiling")
	assert.Contains(t, string(content), "FAIL: TestLogin")
}

func TestRunCollectionErrors(t *testing.T) {
	r := newRunner(t, t.TempDir())

	out, err := r.Run(context.Background(),
		phase("", "echo 'ERROR collecting tests/test_auth.py'; echo '1 error during collection'; exit 2"), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCollectionErrors, out.Status)
	assert.True(t, retry.IsUnrecoverable(out.Status))
}

func TestRunTimeout(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Detect = false
	cfg.Timeout = 100 * time.Millisecond
	r := New(cfg, nil)

	out, err := r.Run(context.Background(), phase("sleep 5"), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, retry.StatusBuildFailed, out.Status)
	assert.Contains(t, out.Error, "timed out")
}

func TestRunMissingShell(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Shell = "definitely-not-a-shell"
	r := New(cfg, nil)

	_, err := r.Run(context.Background(), phase("true"), 0, nil)
	assert.ErrorContains(t, err, "cannot run")
}

func TestRunNoCommands(t *testing.T) {
	r := newRunner(t, t.TempDir())

	out, err := r.Run(context.Background(), phase(""), 0, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestRunDetectsBuildSystem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Makefile"), []byte("all:\n\t@echo build\ntest:\n\t@echo test\n"), 0644))

	cfg := DefaultConfig(dir)
	r := New(cfg, nil)
	build, validations := r.commands(phase(""))
	assert.Equal(t, "make", build)
	assert.Equal(t, []string{"make test"}, validations)

	build, validations = r.commands(phase("go build ./cmd/..."))
	assert.Equal(t, "go build ./cmd/...", build)
	assert.Empty(t, validations)
}

func TestDetectBuildSystem(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"go module", []string{"go.mod", "Makefile"}, "go"},
		{"npm", []string{"package.json"}, "npm"},
		{"python", []string{"pyproject.toml"}, "python"},
		{"xcode glob", []string{"App.xcodeproj"}, "xcode"},
		{"nothing", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0644))
			}
			got := DetectBuildSystem(dir)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestTail(t *testing.T) {
	output := strings.Repeat("line\n", 50) + "\nlast\n"
	lines := tail(output, 3)
	assert.Equal(t, []string{"line", "line", "last"}, lines)
	assert.Empty(t, tail("", 3))
}

var _ orchestrator.AttemptRunner = (*CommandRunner)(nil)
