package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "plain", cfg.LogFormat)
	assert.Equal(t, uint64(1000), cfg.IssuanceAmount)
	assert.Equal(t, 64, cfg.RegistryCacheCapacity)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().APIPort, cfg.APIPort)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kontor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_port: 9090\ndata_dir: /var/lib/kontor\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "/var/lib/kontor", cfg.DataDir)
	assert.Equal(t, "plain", cfg.LogFormat, "unset fields keep their default")
}

func TestEnvOverridesTakePriorityOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kontor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_port: 9090\n"), 0o644))

	t.Setenv("KONTOR_API_PORT", "7000")
	t.Setenv("KONTOR_DATA_DIR", "/tmp/kontor-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.APIPort)
	assert.Equal(t, "/tmp/kontor-env", cfg.DataDir)
}

func TestEnvOverrideIgnoresUnparsableInt(t *testing.T) {
	t.Setenv("KONTOR_API_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().APIPort, cfg.APIPort)
}
