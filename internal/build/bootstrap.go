package build

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/lei/cross-ci/pkg/logger"
)

// ErrEmulationSetup marks a fault in the emulation layer itself, before
// any recipe is built. Callers match it with errors.Is to separate an
// infrastructure failure from a build failure.
var ErrEmulationSetup = errors.New("emulation setup failed")

// Bootstrapper idempotently registers QEMU binfmt handlers for a
// foreign architecture and provisions a multi-platform buildx builder.
// Setup is remembered per architecture for the process lifetime; the
// short-lived process needs no teardown.
type Bootstrapper struct {
	dockerCmd   string
	binfmtImage string
	builder     string
	hostArch    string
	cmd         CommandExecutor
	logger      *logger.Logger

	mu    sync.Mutex
	ready map[string]bool
}

// BootstrapperConfig configures a Bootstrapper
type BootstrapperConfig struct {
	// BinfmtImage is the installer image that registers the QEMU
	// instruction translators with the host kernel
	BinfmtImage string
	// Builder is the name of the buildx builder to provision
	Builder string
	// HostArch overrides the detected host architecture, used in tests
	HostArch string
	// DockerCmd overrides the engine binary, "docker" when empty
	DockerCmd string
	// CommandExecutor overrides engine invocation, used in tests
	CommandExecutor CommandExecutor
	// Logger receives bootstrap log lines
	Logger *logger.Logger
}

// NewBootstrapper creates an emulation bootstrapper
func NewBootstrapper(cfg BootstrapperConfig) *Bootstrapper {
	cmd := cfg.CommandExecutor
	if cmd == nil {
		cmd = NewRealCommandExecutor()
	}
	dockerCmd := cfg.DockerCmd
	if dockerCmd == "" {
		dockerCmd = "docker"
	}
	binfmtImage := cfg.BinfmtImage
	if binfmtImage == "" {
		binfmtImage = "tonistiigi/binfmt"
	}
	builder := cfg.Builder
	if builder == "" {
		builder = "crossci-builder"
	}
	hostArch := cfg.HostArch
	if hostArch == "" {
		hostArch = runtime.GOARCH
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Bootstrapper{
		dockerCmd:   dockerCmd,
		binfmtImage: binfmtImage,
		builder:     builder,
		hostArch:    hostArch,
		cmd:         cmd,
		logger:      log,
		ready:       make(map[string]bool),
	}
}

// Builder returns the name of the buildx builder this bootstrapper
// provisions
func (b *Bootstrapper) Builder() string {
	return b.builder
}

// Ensure makes the host able to build for arch: it registers the
// instruction translator when arch differs from the host, and creates
// the buildx builder if it does not already exist. Every returned error
// wraps ErrEmulationSetup.
func (b *Bootstrapper) Ensure(ctx context.Context, arch string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready[arch] {
		return nil
	}

	if arch != b.hostArch {
		if err := b.registerBinfmt(ctx, arch); err != nil {
			return err
		}
	} else {
		b.logger.Debug("target matches host architecture, skipping binfmt registration", "arch", arch)
	}

	if err := b.ensureBuilder(ctx); err != nil {
		return err
	}

	b.ready[arch] = true
	b.logger.Info("emulation layer ready", "arch", arch, "builder", b.builder)
	return nil
}

// registerBinfmt installs the QEMU handlers through the installer
// image. Re-registration is harmless, so no prior check is needed.
func (b *Bootstrapper) registerBinfmt(ctx context.Context, arch string) error {
	b.logger.Info("registering binfmt handlers", "arch", arch, "image", b.binfmtImage)
	outbuf := &bytes.Buffer{}
	args := []string{"run", "--privileged", "--rm", b.binfmtImage, "--install", arch}
	if err := b.cmd.Execute(ctx, CommandOptions{Output: outbuf}, b.dockerCmd, args...); err != nil {
		return setupError("register binfmt handlers", err, outbuf.String())
	}
	return nil
}

// ensureBuilder provisions the docker-container buildx builder, probing
// with inspect first so repeat calls are no-ops.
func (b *Bootstrapper) ensureBuilder(ctx context.Context) error {
	if err := b.cmd.Execute(ctx, CommandOptions{}, b.dockerCmd, "buildx", "inspect", b.builder); err == nil {
		b.logger.Debug("buildx builder already exists", "builder", b.builder)
		return nil
	}
	b.logger.Info("creating buildx builder", "builder", b.builder)
	outbuf := &bytes.Buffer{}
	args := []string{"buildx", "create", "--name", b.builder, "--driver", "docker-container", "--bootstrap"}
	if err := b.cmd.Execute(ctx, CommandOptions{Output: outbuf}, b.dockerCmd, args...); err != nil {
		return setupError("create buildx builder", err, outbuf.String())
	}
	return nil
}

// setupError wraps ErrEmulationSetup with the failed stage and the tail
// of the engine output
func setupError(stage string, err error, output string) error {
	r := Result{Error: err, Output: output}
	return fmt.Errorf("%w: %s: %s", ErrEmulationSetup, stage, r.Diagnostics())
}
