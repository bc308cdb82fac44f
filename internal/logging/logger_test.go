package logging

import (
	"os"
	"path/filepath"
	"testing"

	"taskrelay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	appCfg := config.AppConfig{
		Name:        "taskrelay-test",
		Environment: "test",
		Version:     "0.1.0",
	}

	t.Run("DefaultStdout", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "info", Output: "stdout"}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
	})

	t.Run("Console", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "warn", Format: "console"}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
	})

	t.Run("File", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "taskrelay.log")
		cfg := config.LoggingConfig{Level: "error", Output: "file", FilePath: logPath}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)
		logger.Error().Msg("probe")
		closer.Close()

		_, err = os.Stat(logPath)
		assert.NoError(t, err)
	})

	t.Run("FileMissingPath", func(t *testing.T) {
		cfg := config.LoggingConfig{Output: "file"}
		_, _, err := New(cfg, appCfg)
		require.Error(t, err)
	})

	t.Run("UnknownLevelFallsBack", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "shout"}
		logger, _, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("EmptyAppFieldsOmitted", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "plain.log")
		cfg := config.LoggingConfig{Output: "file", FilePath: logPath}
		logger, closer, err := New(cfg, config.AppConfig{})
		require.NoError(t, err)
		logger.Info().Msg("hello")
		closer.Close()

		raw, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "hello")
		assert.NotContains(t, string(raw), `"app"`)
		assert.NotContains(t, string(raw), `"env"`)
		assert.NotContains(t, string(raw), `"version"`)
	})
}
