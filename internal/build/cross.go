package build

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/lei/cross-ci/pkg/logger"
)

// CrossDriver builds the recipe for a foreign architecture through a
// multi-platform buildx builder. It validates buildability only: the
// produced image is neither tagged nor retained.
type CrossDriver struct {
	dockerCmd  string
	builder    string
	contextDir string
	cmd        CommandExecutor
	mirror     io.Writer
	logger     *logger.Logger
}

// CrossDriverConfig configures a CrossDriver
type CrossDriverConfig struct {
	// Builder names the buildx builder provisioned by the Bootstrapper
	Builder string
	// ContextDir is the build context directory, "." when empty
	ContextDir string
	// DockerCmd overrides the engine binary, "docker" when empty
	DockerCmd string
	// CommandExecutor overrides engine invocation, used in tests
	CommandExecutor CommandExecutor
	// Mirror additionally receives engine output as it is produced
	Mirror io.Writer
	// Logger receives driver-level log lines
	Logger *logger.Logger
}

// NewCrossDriver creates a cross-architecture build driver, verifying
// that the build engine is present on PATH
func NewCrossDriver(cfg CrossDriverConfig) (*CrossDriver, error) {
	if cfg.Builder == "" {
		return nil, errors.New("cross driver requires a builder name")
	}
	cmd := cfg.CommandExecutor
	if cmd == nil {
		cmd = NewRealCommandExecutor()
	}
	dockerCmd := cfg.DockerCmd
	if dockerCmd == "" {
		dockerCmd = "docker"
	}
	if _, err := cmd.LookPath(dockerCmd); err != nil {
		return nil, errors.Wrap(err, "build engine not found")
	}
	contextDir := cfg.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &CrossDriver{
		dockerCmd:  dockerCmd,
		builder:    cfg.Builder,
		contextDir: contextDir,
		cmd:        cmd,
		mirror:     cfg.Mirror,
		logger:     log,
	}, nil
}

// Build runs the engine against the recipe for the given foreign
// architecture. The Bootstrapper must have completed for arch before
// this is called.
func (d *CrossDriver) Build(ctx context.Context, recipe, arch string) Result {
	platform := "linux/" + arch
	d.logger.Info("starting cross build", "recipe", recipe, "platform", platform, "builder", d.builder)

	outbuf := &bytes.Buffer{}
	var out io.Writer = outbuf
	if d.mirror != nil {
		out = io.MultiWriter(outbuf, d.mirror)
	}

	args := []string{
		"buildx", "build",
		"--builder", d.builder,
		"--platform", platform,
		"-f", recipe,
		d.contextDir,
	}
	start := time.Now()
	err := d.cmd.Execute(ctx, CommandOptions{Output: out}, d.dockerCmd, args...)
	elapsed := time.Since(start)
	if err != nil {
		d.logger.Error("cross build failed", "recipe", recipe, "platform", platform, "error", err, "duration", elapsed)
		err = errors.Wrap(err, "cross build failed")
	} else {
		d.logger.Info("cross build succeeded", "platform", platform, "duration", elapsed)
	}
	return Result{Error: err, Output: outbuf.String(), Duration: elapsed}
}
