package build

import (
	"context"
	"io"
	"os/exec"
)

// CommandOptions configures one engine invocation
type CommandOptions struct {
	// Input provides stdin to the command
	Input io.Reader
	// Output receives combined stdout/stderr (discarded when nil)
	Output io.Writer
	// Dir is the working directory for the command
	Dir string
}

// CommandExecutor abstracts running the build engine so drivers can be
// tested without a docker daemon
type CommandExecutor interface {
	// Execute runs a command and blocks until it exits, returning a
	// non-nil error on any nonzero exit condition
	Execute(ctx context.Context, opts CommandOptions, name string, args ...string) error
	// LookPath reports whether an executable is available on PATH
	LookPath(file string) (string, error)
}

// realCommandExecutor implements CommandExecutor using os/exec
type realCommandExecutor struct{}

// NewRealCommandExecutor creates a CommandExecutor backed by os/exec
func NewRealCommandExecutor() CommandExecutor {
	return &realCommandExecutor{}
}

func (r *realCommandExecutor) Execute(ctx context.Context, opts CommandOptions, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if opts.Input != nil {
		cmd.Stdin = opts.Input
	}
	if opts.Output != nil {
		cmd.Stdout = opts.Output
		cmd.Stderr = opts.Output
	}
	cmd.Dir = opts.Dir
	return cmd.Run()
}

func (r *realCommandExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}
