package build

import (
	"context"
	"slices"
	"testing"

	"github.com/pkg/errors"
)

func TestBootstrapper_RegistersBinfmtAndCreatesBuilder(t *testing.T) {
	exec := NewMockCommandExecutor()
	// First inspect fails (builder absent), everything else succeeds.
	exec.SetExecuteFunc(func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
		if len(args) >= 2 && args[0] == "buildx" && args[1] == "inspect" {
			return errors.New("no builder found")
		}
		return nil
	})

	b := NewBootstrapper(BootstrapperConfig{
		BinfmtImage:     "tonistiigi/binfmt",
		Builder:         "crossci-builder",
		HostArch:        "amd64",
		CommandExecutor: exec,
	})

	if err := b.Ensure(context.Background(), "arm64"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	cmds := exec.Commands()
	if len(cmds) != 3 {
		t.Fatalf("recorded %d commands, want 3 (binfmt install, inspect, create)", len(cmds))
	}
	wantInstall := []string{"run", "--privileged", "--rm", "tonistiigi/binfmt", "--install", "arm64"}
	if !slices.Equal(cmds[0].Args, wantInstall) {
		t.Errorf("binfmt args = %v, want %v", cmds[0].Args, wantInstall)
	}
	wantCreate := []string{"buildx", "create", "--name", "crossci-builder", "--driver", "docker-container", "--bootstrap"}
	if !slices.Equal(cmds[2].Args, wantCreate) {
		t.Errorf("create args = %v, want %v", cmds[2].Args, wantCreate)
	}
}

func TestBootstrapper_SecondEnsureIsNoOp(t *testing.T) {
	exec := NewMockCommandExecutor()
	b := NewBootstrapper(BootstrapperConfig{HostArch: "amd64", CommandExecutor: exec})

	if err := b.Ensure(context.Background(), "arm64"); err != nil {
		t.Fatalf("first Ensure() error = %v", err)
	}
	first := len(exec.Commands())
	if err := b.Ensure(context.Background(), "arm64"); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if got := len(exec.Commands()); got != first {
		t.Errorf("second Ensure() ran %d extra commands, want 0", got-first)
	}
}

func TestBootstrapper_SkipsBinfmtForHostArch(t *testing.T) {
	exec := NewMockCommandExecutor()
	b := NewBootstrapper(BootstrapperConfig{HostArch: "arm64", CommandExecutor: exec})

	if err := b.Ensure(context.Background(), "arm64"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	for _, c := range exec.Commands() {
		if slices.Contains(c.Args, "--install") {
			t.Errorf("binfmt registration ran for the host architecture: %v", c.Args)
		}
	}
}

func TestBootstrapper_ExistingBuilderNotRecreated(t *testing.T) {
	exec := NewMockCommandExecutor() // inspect succeeds by default
	b := NewBootstrapper(BootstrapperConfig{HostArch: "amd64", CommandExecutor: exec})

	if err := b.Ensure(context.Background(), "arm64"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	for _, c := range exec.Commands() {
		if len(c.Args) >= 2 && c.Args[0] == "buildx" && c.Args[1] == "create" {
			t.Errorf("builder was recreated despite inspect succeeding: %v", c.Args)
		}
	}
}

func TestBootstrapper_FailureWrapsErrEmulationSetup(t *testing.T) {
	tests := []struct {
		name     string
		failArgs string // first arg of the command made to fail
	}{
		{"binfmt registration fails", "run"},
		{"builder creation fails", "buildx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewMockCommandExecutor()
			exec.SetExecuteFunc(func(ctx context.Context, opts CommandOptions, name string, args ...string) error {
				if len(args) > 0 && args[0] == tt.failArgs {
					return errors.New("exit status 1")
				}
				if len(args) >= 2 && args[0] == "buildx" && args[1] == "inspect" {
					return errors.New("no builder found")
				}
				return nil
			})
			b := NewBootstrapper(BootstrapperConfig{HostArch: "amd64", CommandExecutor: exec})

			err := b.Ensure(context.Background(), "arm64")
			if err == nil {
				t.Fatal("Ensure() should fail")
			}
			if !errors.Is(err, ErrEmulationSetup) {
				t.Errorf("Ensure() error = %v, want wrapped ErrEmulationSetup", err)
			}

			// A failed Ensure must not be remembered as ready.
			if err := b.Ensure(context.Background(), "arm64"); err == nil {
				t.Error("Ensure() after failure should retry and fail again")
			}
		})
	}
}
