package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentive-dev/agentive/config"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	rf := ReadFile(&config.FilesystemAccess{})
	res, err := rf.Handler(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)

	_, err = rf.Handler(context.Background(), map[string]any{})
	assert.Error(t, err, "missing path argument")
}

func TestReadFileHidden(t *testing.T) {
	rf := ReadFile(&config.FilesystemAccess{Hidden: []string{".agentive/**", "secrets/*"}})
	_, err := rf.Handler(context.Background(), map[string]any{"path": "secrets/key.pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hidden")
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	wf := WriteFile(&config.FilesystemAccess{})
	assert.True(t, wf.RequiresApproval, "writes are approval-gated")

	res, err := wf.Handler(context.Background(), map[string]any{"path": path, "content": "data"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "4 bytes")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestWriteFileReadOnly(t *testing.T) {
	wf := WriteFile(&config.FilesystemAccess{ReadOnly: []string{"vendor/**"}})
	_, err := wf.Handler(context.Background(), map[string]any{"path": "vendor/lib/mod.go", "content": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestExecuteCommandAllowList(t *testing.T) {
	ec := ExecuteCommand([]string{`^echo .*`})
	assert.True(t, ec.RequiresApproval)

	res, err := ec.Handler(context.Background(), map[string]any{"command": "echo hi"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "hi")

	_, err = ec.Handler(context.Background(), map[string]any{"command": "rm -rf /"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the list of allowed commands")
}

func TestExecuteCommandNothingAllowed(t *testing.T) {
	ec := ExecuteCommand(nil)
	assert.Contains(t, ec.Description, "No commands are currently allowed")

	_, err := ec.Handler(context.Background(), map[string]any{"command": "echo hi"})
	assert.Error(t, err)
}

func TestCommandAllowedInvalidRegexFallback(t *testing.T) {
	// An uncompilable pattern degrades to exact string match.
	assert.True(t, commandAllowed("ls [", []string{"ls ["}))
	assert.False(t, commandAllowed("ls -la", []string{"ls ["}))
}

func TestToolsStableOrder(t *testing.T) {
	cfg := &config.Config{}
	var names []string
	for _, tl := range Tools(cfg) {
		names = append(names, tl.Name)
	}
	assert.Equal(t, []string{"read_file", "write_file", "execute_command"}, names)
}
