package build

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/lei/cross-ci/pkg/logger"
)

// NativeDriver builds the recipe for the host's own architecture,
// tagging the produced image with a run-unique tag.
type NativeDriver struct {
	dockerCmd  string
	image      string
	contextDir string
	cmd        CommandExecutor
	mirror     io.Writer
	logger     *logger.Logger
}

// NativeDriverConfig configures a NativeDriver
type NativeDriverConfig struct {
	// Image is the fixed image name; the build tag is appended per run
	Image string
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

// NewNativeDriver creates a native build driver, verifying that the
// build engine is present on PATH
func NewNativeDriver(cfg NativeDriverConfig) (*NativeDriver, error) {
	if cfg.Image == "" {
		return nil, errors.New("native driver requires an image name")
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
	return &NativeDriver{
		dockerCmd:  dockerCmd,
		image:      cfg.Image,
		contextDir: contextDir,
		cmd:        cmd,
		mirror:     cfg.Mirror,
		logger:     log,
	}, nil
}

// Build runs the engine against the recipe for the host architecture,
// labeling the image <image>:<tag>. A nonzero engine exit becomes a
// failed Result carrying the engine's output.
func (d *NativeDriver) Build(ctx context.Context, recipe, tag string) Result {
	ref := d.image + ":" + tag
	d.logger.Info("starting native build", "recipe", recipe, "image", ref)

	outbuf := &bytes.Buffer{}
	var out io.Writer = outbuf
	if d.mirror != nil {
		out = io.MultiWriter(outbuf, d.mirror)
	}

	args := []string{"build", "-f", recipe, "-t", ref, d.contextDir}
	start := time.Now()
	err := d.cmd.Execute(ctx, CommandOptions{Output: out}, d.dockerCmd, args...)
	elapsed := time.Since(start)
	if err != nil {
		d.logger.Error("native build failed", "recipe", recipe, "image", ref, "error", err, "duration", elapsed)
		err = errors.Wrap(err, "native build failed")
	} else {
		d.logger.Info("native build succeeded", "image", ref, "duration", elapsed)
	}
	return Result{Error: err, Output: outbuf.String(), Duration: elapsed}
}
