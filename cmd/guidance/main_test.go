package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldguide/guidance/internal/config"
	"github.com/fieldguide/guidance/internal/monitoring"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.GetPathsToGenerate())

	path := filepath.Join(t.TempDir(), "guidance.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"paths_to_generate": 2, "worker_count": 0}`), 0o600))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.GetPathsToGenerate())
	assert.Equal(t, 0, cfg.GetWorkerCount())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadShippedDefaults(t *testing.T) {
	cfg, err := loadConfig("../../config/guidance.defaults.json")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestConfigureLoggingRoutesMonitoring(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()

	var buf bytes.Buffer
	configureLogging(&buf, 0)
	monitoring.Logf("journal ready at %s", "guidance.db")
	assert.True(t, strings.Contains(buf.String(), "journal ready at guidance.db"), buf.String())
}

func TestOpenSourceDevMode(t *testing.T) {
	src, err := openSource(config.EmptyGuidanceConfig(), true)
	require.NoError(t, err)
	require.NoError(t, src.Close())
}
