package build

import (
	"context"
	"io"
	"sync"
)

// MockCommandExecutor implements CommandExecutor for testing, recording
// every invocation for later verification
type MockCommandExecutor struct {
	mu           sync.Mutex
	commands     []MockCommand
	executeFunc  func(ctx context.Context, opts CommandOptions, name string, args ...string) error
	lookPathFunc func(file string) (string, error)
}

// MockCommand records one command execution
type MockCommand struct {
	Name  string
	Args  []string
	Input string
	Error error
}

// NewMockCommandExecutor creates a recording executor whose commands
// all succeed until SetExecuteFunc overrides the behavior
func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{}
}

// SetExecuteFunc sets a custom function for Execute calls
func (m *MockCommandExecutor) SetExecuteFunc(f func(ctx context.Context, opts CommandOptions, name string, args ...string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeFunc = f
}

// SetLookPathFunc sets a custom function for LookPath calls
func (m *MockCommandExecutor) SetLookPathFunc(f func(file string) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookPathFunc = f
}

// Execute implements CommandExecutor
func (m *MockCommandExecutor) Execute(ctx context.Context, opts CommandOptions, name string, args ...string) error {
	m.mu.Lock()
	f := m.executeFunc
	m.mu.Unlock()

	var input string
	if opts.Input != nil {
		if b, err := io.ReadAll(opts.Input); err == nil {
			input = string(b)
		}
	}

	var err error
	if f != nil {
		err = f(ctx, opts, name, args...)
	}

	m.mu.Lock()
	m.commands = append(m.commands, MockCommand{Name: name, Args: args, Input: input, Error: err})
	m.mu.Unlock()
	return err
}

// LookPath implements CommandExecutor
func (m *MockCommandExecutor) LookPath(file string) (string, error) {
	m.mu.Lock()
	f := m.lookPathFunc
	m.mu.Unlock()
	if f != nil {
		return f(file)
	}
	return "/usr/bin/" + file, nil
}

// Commands returns a copy of the recorded command executions
func (m *MockCommandExecutor) Commands() []MockCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCommand, len(m.commands))
	copy(out, m.commands)
	return out
}
