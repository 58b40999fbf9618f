package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProjectConfig(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".agentive"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".agentive", "config.yaml"), []byte(`
provider: anthropic
model: claude-test
max_iterations: 7
tool_concurrency: 2
tool_retries: 1
tool_timeout_seconds: 30
allowed_commands:
  - "^git status$"
toolsets:
  - name: default
    tools: [read_file]
filesystem_access:
  read_only:
    - "vendor/**"
`), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-test", cfg.Model)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, 2, cfg.ToolConcurrency)
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout())
	assert.Equal(t, []string{"^git status$"}, cfg.AllowedCommands)
	assert.Contains(t, cfg.FilesystemAccess.Hidden, ".agentive/**", "state directory is hidden by default")
	assert.Contains(t, cfg.FilesystemAccess.ReadOnly, "vendor/**")
}

func TestGetToolset(t *testing.T) {
	cfg := &Config{Toolsets: []Toolset{
		{Name: "default", Tools: []string{"read_file"}},
		{Name: "full", Tools: []string{"read_file", "write_file", "execute_command"}},
	}}

	ts, err := cfg.GetToolset("")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)

	ts, err = cfg.GetToolset("full")
	require.NoError(t, err)
	assert.Len(t, ts.Tools, 3)

	// Unknown names fall back to default.
	ts, err = cfg.GetToolset("nope")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)
}

func TestGetToolsetNoDefault(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.GetToolset("")
	assert.Error(t, err)
}
