// Package session persists agent execution contexts as named snapshots
// under the project's .agentive directory, so an interrupted run can be
// resumed later.
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentive-dev/agentive/agent"
	"github.com/agentive-dev/agentive/errors"
)

// Session binds a named on-disk snapshot to a live execution context.
type Session struct {
	Name    string
	Context *agent.ExecutionContext
	path    string
}

// New creates a fresh session around the given context.
func New(name string, ec *agent.ExecutionContext) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{Name: name, Context: ec, path: path}, nil
}

// Load restores a session from disk. Tool calls left dangling by an
// interruption are patched with synthetic results so the context is
// immediately resumable.
func Load(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}
	ec, err := agent.DeserializeContext(data)
	if err != nil {
		return nil, errors.Wrapf(err, "could not restore session %q", name)
	}
	// Calls left dangling by the interruption get synthetic results, so
	// the next model call sees them like any other tool outcome.
	ec.PatchDanglingToolCalls()
	return &Session{Name: name, Context: ec, path: path}, nil
}

// Exists reports whether a snapshot is already on disk for name.
func Exists(name string) bool {
	path, err := sessionPath(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes the current context snapshot to disk.
func (s *Session) Save() error {
	data, err := s.Context.Serialize()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session %q", s.Name)
	}
	return os.WriteFile(s.path, data, 0644)
}

func sessionPath(name string) (string, error) {
	sessionDir := filepath.Join(".agentive", "sessions")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", errors.Wrapf(err, "could not create session directory")
	}
	return filepath.Join(sessionDir, fmt.Sprintf("%s.json", name)), nil
}
