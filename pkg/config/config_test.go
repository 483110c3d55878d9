package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ProcTail", cfg.PipeName)
	assert.Equal(t, 20, cfg.MaxConcurrentConnections)
	assert.Equal(t, 60, cfg.ResponseTimeoutSeconds)
	assert.Equal(t, 10000, cfg.MaxEventsPerTag)
	assert.Equal(t, 24, cfg.EventRetentionHours)
}

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ProcTail", cfg.PipeName)
}

func TestLoadExpandsTemplatedPatterns(t *testing.T) {
	require.NoError(t, os.Setenv("TEMP", `C:\Users\u\AppData\Local\Temp`))
	defer os.Unsetenv("TEMP")

	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte(`exclude_file_patterns:
  - '{{env "TEMP"}}\*'
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.ExcludeFilePatterns, 1)
	assert.Equal(t, `C:\Users\u\AppData\Local\Temp\*`, cfg.ExcludeFilePatterns[0])
}

func TestValidateVersionRejectsNewerSchema(t *testing.T) {
	err := validateVersion("99.0.0")
	require.Error(t, err)
}
