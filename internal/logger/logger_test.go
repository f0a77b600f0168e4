package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pokerjest/animeleech/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_StderrOnly(t *testing.T) {
	closer, err := Setup(config.LogConfig{Level: "debug"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestSetup_BadLevelFallsBackToInfo(t *testing.T) {
	closer, err := Setup(config.LogConfig{Level: "chatty"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestSetup_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "leech.log")
	closer, err := Setup(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	log.Info("hello from test")
	require.NoError(t, closer.Close())
	log.SetOutput(os.Stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}
