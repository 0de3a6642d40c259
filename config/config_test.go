package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg := Load(t.TempDir())
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.Theme = "tokyo-night"
	cfg.RangeSize = 50
	require.NoError(t, Save(dir, cfg))

	loaded := Load(dir)
	assert.Equal(t, "tokyo-night", loaded.Theme)
	assert.Equal(t, uint64(50), loaded.RangeSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, Defaults()))
	t.Setenv("VIEWPORT_THEME", "catppuccin")
	t.Setenv("VIEWPORT_RANGE_SIZE", "75")

	loaded := Load(dir)
	assert.Equal(t, "catppuccin", loaded.Theme)
	assert.Equal(t, uint64(75), loaded.RangeSize)
}

func TestSave_CreatesProfileDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "profile")
	require.NoError(t, Save(dir, Defaults()))

	loaded := Load(dir)
	assert.Equal(t, Defaults(), loaded)
}
