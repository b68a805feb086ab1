package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lei/cross-ci/internal/build"
	"github.com/lei/cross-ci/internal/config"
	"github.com/lei/cross-ci/internal/models"
	"github.com/lei/cross-ci/pkg/logger"
	"github.com/lei/cross-ci/pkg/pipeline"
)

const defaultConfigPath = "configs/config.yaml"

// execOverride routes engine invocations through a recording executor
// in tests; nil means os/exec.
var execOverride build.CommandExecutor

func newPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	pcfg := pipeline.FromConfig(cfg)
	pcfg.Executor = execOverride
	return pipeline.New(pcfg)
}

// loadConfig loads the config file, falling back to built-in defaults
// when the default path does not exist and no explicit path was given
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crossci",
		Short:         "Validate that a container recipe builds on the native and an emulated foreign architecture",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newRunCmd(), newBuildNativeCmd(), newBuildCrossCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook-driven validation service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			pl, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return pl.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		eventKind  string
		branch     string
		commit     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate one event and, when it qualifies, run both build paths to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			pl, err := newPipeline(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ev := models.TriggerEvent{
				Kind:   models.EventKind(eventKind),
				Branch: branch,
				Commit: commit,
			}
			if !ev.Kind.Valid() {
				return fmt.Errorf("unknown event kind %q (want push or pull_request)", eventKind)
			}

			run, started, err := pl.Service().RunOnce(ctx, ev)
			if !started {
				fmt.Printf("event does not target branch %q; nothing to do\n", cfg.Pipeline.Branch)
				return nil
			}
			printRun(run)
			if err != nil || run.Result != models.ResultSuccess {
				return errors.New("run failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")
	cmd.Flags().StringVar(&eventKind, "event", "push", "event kind (push or pull_request)")
	cmd.Flags().StringVar(&branch, "branch", "main", "target branch of the event")
	cmd.Flags().StringVar(&commit, "commit", "", "commit id, for logging only")
	return cmd
}

func newBuildNativeCmd() *cobra.Command {
	var (
		configPath string
		recipe     string
	)
	cmd := &cobra.Command{
		Use:   "build-native",
		Short: "Build the recipe for the host architecture with a run-unique tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if recipe == "" {
				recipe = cfg.Pipeline.Native.Recipe
			}
			log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

			driver, err := build.NewNativeDriver(build.NativeDriverConfig{
				Image:           cfg.Pipeline.Native.Image,
				ContextDir:      cfg.Pipeline.Native.Context,
				CommandExecutor: execOverride,
				Mirror:          os.Stdout,
				Logger:          log,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tag := build.NewTagGenerator().Next()
			fmt.Println("tag:", tag)
			res := driver.Build(ctx, recipe, tag)
			return res.Error
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")
	cmd.Flags().StringVar(&recipe, "recipe", "", "native build definition (defaults to the configured recipe)")
	return cmd
}

func newBuildCrossCmd() *cobra.Command {
	var (
		configPath string
		recipe     string
		arch       string
	)
	cmd := &cobra.Command{
		Use:   "build-cross",
		Short: "Build the recipe for a foreign architecture through the emulation layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if recipe == "" {
				recipe = cfg.Pipeline.Cross.Recipe
			}
			if arch == "" {
				arch = cfg.Pipeline.ForeignArch
			}
			log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

			bootstrap := build.NewBootstrapper(build.BootstrapperConfig{
				BinfmtImage:     cfg.Pipeline.Cross.BinfmtImage,
				Builder:         cfg.Pipeline.Cross.Builder,
				CommandExecutor: execOverride,
				Logger:          log,
			})
			driver, err := build.NewCrossDriver(build.CrossDriverConfig{
				Builder:         bootstrap.Builder(),
				ContextDir:      cfg.Pipeline.Cross.Context,
				CommandExecutor: execOverride,
				Mirror:          os.Stdout,
				Logger:          log,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := bootstrap.Ensure(ctx, arch); err != nil {
				return err
			}
			res := driver.Build(ctx, recipe, arch)
			return res.Error
		},
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")
	cmd.Flags().StringVar(&recipe, "recipe", "", "foreign build definition (defaults to the configured recipe)")
	cmd.Flags().StringVar(&arch, "arch", "", "target architecture (defaults to the configured foreign_arch)")
	return cmd
}

// printRun writes a one-shot run summary to stdout
func printRun(run *models.Run) {
	fmt.Printf("run %s: %s\n", run.RunID, run.Result)
	for _, j := range run.Jobs {
		switch {
		case j.Outcome == models.OutcomeSuccess && j.Tag != "":
			fmt.Printf("  %-8s %s (tag %s)\n", j.Architecture, j.Outcome, j.Tag)
		case j.Outcome == models.OutcomeFailure:
			fmt.Printf("  %-8s %s (%s)\n", j.Architecture, j.Outcome, j.ErrorKind)
			if j.Diagnostics != "" {
				fmt.Println(indent(j.Diagnostics, "    "))
			}
		default:
			fmt.Printf("  %-8s %s\n", j.Architecture, j.Outcome)
		}
	}
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}
