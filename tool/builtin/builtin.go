// Package builtin provides the stock filesystem and command tools,
// restricted by the configured access patterns.
package builtin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agentive-dev/agentive/config"
	"github.com/agentive-dev/agentive/errors"
	"github.com/agentive-dev/agentive/log"
	"github.com/agentive-dev/agentive/tool"
)

// Tools returns the builtin tools wired to the given configuration, in
// a stable order.
func Tools(cfg *config.Config) []tool.Tool {
	return []tool.Tool{
		ReadFile(&cfg.FilesystemAccess),
		WriteFile(&cfg.FilesystemAccess),
		ExecuteCommand(cfg.AllowedCommands),
	}
}

// ReadFile builds the read_file tool. Paths matching a hidden pattern
// are refused.
func ReadFile(fs *config.FilesystemAccess) tool.Tool {
	return tool.Tool{
		Name:        "read_file",
		Description: "Reads the entire content of a file. Args: path (string).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path of the file to read"},
			},
			"required": []any{"path"},
		},
		Handler: func(_ context.Context, args map[string]any) (*tool.Result, error) {
			path, ok := args["path"].(string)
			if !ok {
				return nil, errors.New("missing or invalid 'path' argument")
			}
			hidden, err := pathRestricted(path, fs.Hidden)
			if err != nil {
				return nil, err
			}
			if hidden {
				return nil, errors.New("access denied: path '%s' is hidden", path)
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read file '%s'", path)
			}
			return &tool.Result{Content: string(content)}, nil
		},
	}
}

// WriteFile builds the write_file tool. Hidden and read-only patterns
// both block writes, and every write is approval-gated.
func WriteFile(fs *config.FilesystemAccess) tool.Tool {
	return tool.Tool{
		Name:        "write_file",
		Description: "Writes content to a file, replacing it entirely. Args: path (string), content (string).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path of the file to write"},
				"content": map[string]any{"type": "string", "description": "Full replacement content"},
			},
			"required": []any{"path", "content"},
		},
		RequiresApproval: true,
		Handler: func(_ context.Context, args map[string]any) (*tool.Result, error) {
			path, pathOk := args["path"].(string)
			content, contentOk := args["content"].(string)
			if !pathOk || !contentOk {
				return nil, errors.New("missing or invalid 'path' or 'content' arguments")
			}
			hidden, err := pathRestricted(path, fs.Hidden)
			if err != nil {
				return nil, err
			}
			if hidden {
				return nil, errors.New("access denied: path '%s' is hidden", path)
			}
			readOnly, err := pathRestricted(path, fs.ReadOnly)
			if err != nil {
				return nil, err
			}
			if readOnly {
				return nil, errors.New("access denied: path '%s' is read-only", path)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return nil, errors.Wrapf(err, "failed to write to file '%s'", path)
			}
			return &tool.Result{Content: fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)}, nil
		},
	}
}

// ExecuteCommand builds the execute_command tool over the configured
// allow-list. The description enumerates the allowed patterns so the
// model does not guess.
func ExecuteCommand(allowed []string) tool.Tool {
	desc := "Executes a shell command. No commands are currently allowed. Args: command (string)."
	if len(allowed) > 0 {
		var b strings.Builder
		b.WriteString("Executes a shell command. Args: command (string).\nAllowed command patterns:\n")
		for _, cmd := range allowed {
			fmt.Fprintf(&b, "- %s\n", cmd)
		}
		desc = b.String()
	}
	return tool.Tool{
		Name:        "execute_command",
		Description: desc,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "The command line to run"},
			},
			"required": []any{"command"},
		},
		RequiresApproval: true,
		Handler: func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			command, ok := args["command"].(string)
			if !ok {
				return nil, errors.New("missing or invalid 'command' argument")
			}
			if !commandAllowed(command, allowed) {
				return nil, errors.New("command '%s' is not in the list of allowed commands", command)
			}
			parts := strings.Fields(command)
			cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
			output, err := cmd.CombinedOutput()
			if err != nil {
				return nil, errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
			}
			return &tool.Result{Content: fmt.Sprintf("Command executed successfully. Output:\n%s", string(output))}, nil
		},
	}
}

// pathRestricted checks if a path matches any of the glob patterns.
func pathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// commandAllowed checks the command against the allow-list, each entry
// a regular expression with plain-string fallback when it fails to
// compile.
func commandAllowed(command string, allowed []string) bool {
	if strings.TrimSpace(command) == "" {
		return false
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warnf("invalid regex in allowed_commands %q: %v", pattern, err)
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
