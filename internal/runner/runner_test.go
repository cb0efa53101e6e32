package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdoutAndExitCode(t *testing.T) {
	r := NewExecRunner("")
	var sink bytes.Buffer

	res, err := r.Run(context.Background(), "echo hello", t.TempDir(), nil, nil, &sink)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, sink.String(), "hello")
}

func TestRunReportsNonZeroExitCode(t *testing.T) {
	r := NewExecRunner("")
	var sink bytes.Buffer

	res, err := r.Run(context.Background(), "exit 3", t.TempDir(), nil, nil, &sink)
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
}

func TestRunPassesDeclaredEnv(t *testing.T) {
	r := NewExecRunner("")
	var sink bytes.Buffer

	res, err := r.Run(context.Background(), `echo "$GREETING"`, t.TempDir(), nil, map[string]string{"GREETING": "hi there"}, &sink)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, sink.String(), "hi there")
}

func TestRunPassesExtraArgs(t *testing.T) {
	r := NewExecRunner("")
	var sink bytes.Buffer

	res, err := r.Run(context.Background(), `echo "$1"`, t.TempDir(), []string{"extra-value"}, nil, &sink)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, sink.String(), "extra-value")
}

func TestRunTeesToLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "output.log")
	r := NewExecRunner(logPath)
	var sink bytes.Buffer

	_, err := r.Run(context.Background(), "echo logged", t.TempDir(), nil, nil, &sink)
	require.NoError(t, err)

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(content), "logged")
}

func TestRunTruncatesLogFileOnEachInvocation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "output.log")
	require.NoError(t, os.WriteFile(logPath, []byte("stale previous run\n"), 0o644))

	r := NewExecRunner(logPath)
	var sink bytes.Buffer
	_, err := r.Run(context.Background(), "echo fresh", t.TempDir(), nil, nil, &sink)
	require.NoError(t, err)

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotContains(t, string(content), "stale previous run")
	require.Contains(t, string(content), "fresh")
}

func TestRunCancellationKillsProcess(t *testing.T) {
	r := NewExecRunner("")
	var sink bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, "sleep 5", t.TempDir(), nil, nil, &sink)
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}
