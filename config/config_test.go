package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadOverlaysSetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "touchhouse.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage_directory = "/var/lib/touchhouse"
log_level = 3
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/touchhouse", cfg.StorageDirectory)
	require.Equal(t, 3, cfg.LogLevel)
	require.Equal(t, "127.0.0.1:7070", cfg.TCPSocket) // untouched default
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = 9
	require.Error(t, cfg.Validate())
}
