package vm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1<<20, cfg.GCInitialThreshold)
	assert.Equal(t, 2, cfg.GCGrowFactor)
	assert.False(t, cfg.GCStress)
	assert.False(t, cfg.TraceExecution)
	assert.False(t, cfg.TraceGC)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
GCInitialThreshold = 2048
GCGrowFactor = 3
TraceGC = true
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.GCInitialThreshold)
	assert.Equal(t, 3, cfg.GCGrowFactor)
	assert.True(t, cfg.TraceGC)
	// Unmentioned keys keep their defaults.
	assert.False(t, cfg.GCStress)
	assert.False(t, cfg.TraceExecution)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
