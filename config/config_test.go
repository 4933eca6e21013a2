package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 11211, cfg.Port)
	assert.Equal(t, int64(64<<20), cfg.MaxBytes)
	assert.True(t, cfg.UseCAS)
	assert.True(t, cfg.FlushEnabled)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestFlagSetOverridesDefaults(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	FlagSet(fs, &cfg)

	err := fs.Parse([]string{"--port=12345", "--maxbytes=1048576", "--use-cas=false"})
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Port)
	assert.Equal(t, int64(1048576), cfg.MaxBytes)
	assert.False(t, cfg.UseCAS)
}

func TestLoadYAMLOverlaysFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memcached.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9999\nuse_cas: false\n"), 0o600))

	cfg := Default()
	require.NoError(t, LoadYAML(path, &cfg))

	assert.Equal(t, 9999, cfg.Port)
	assert.False(t, cfg.UseCAS)
}

func TestLoadYAMLMissingFileIsNotAnError(t *testing.T) {
	cfg := Default()
	err := LoadYAML(filepath.Join(t.TempDir(), "absent.yaml"), &cfg)
	assert.NoError(t, err)
}
