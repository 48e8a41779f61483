package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitConfigWritesLoadableDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, section := range []string{"# libfs configuration file", "logging:", "plb:", "lookup:", "backends:", "devices:", "server:", "metrics:"} {
		assert.Contains(t, string(data), section)
	}

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))

	cfg, err := Load(path)
	require.NoError(t, err)
	defaults := GetDefaultConfig()
	assert.Equal(t, defaults.Logging, cfg.Logging)
	assert.Equal(t, defaults.Server, cfg.Server)
	assert.Equal(t, defaults.Devices, cfg.Devices)
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	err := InitConfigToPath(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))
	require.NoError(t, InitConfigToPath(path, true))

	_, err = Load(path)
	assert.NoError(t, err)
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema struct {
		Title      string                    `json:"title"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "libfs Configuration", schema.Title)
	for _, key := range []string{"logging", "plb", "lookup", "backends", "devices", "server", "metrics"} {
		assert.Contains(t, schema.Properties, key)
	}
}
