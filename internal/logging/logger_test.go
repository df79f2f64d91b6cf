package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewProductionLoggerWithLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(false, WithLevel("warn"))
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := New(false, WithLevel("loud"))
	require.Error(t, err)
}

func TestWithFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pipeline.log")
	logger, err := New(false, WithFile(path))
	require.NoError(t, err)
	logger.Info("pipeline started")
	_ = logger.Sync()

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "pipeline started")
}
