// Package pipeline provides an embeddable instance of the
// dual-architecture build validation service.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lei/cross-ci/internal/api"
	"github.com/lei/cross-ci/internal/build"
	"github.com/lei/cross-ci/internal/config"
	"github.com/lei/cross-ci/internal/orchestrator"
	"github.com/lei/cross-ci/internal/service"
	"github.com/lei/cross-ci/internal/trigger"
	"github.com/lei/cross-ci/pkg/logger"
)

// Pipeline represents a cross-ci instance that can be embedded in
// applications or served standalone
type Pipeline struct {
	config  *Config
	service *service.Service
	router  http.Handler
	server  *http.Server
	logger  *logger.Logger
}

// Config holds the configuration for a Pipeline
type Config struct {
	// Server configuration
	Server ServerConfig

	// Authentication configuration
	Auth AuthConfig

	// Build configuration: designated branch, architectures, recipes
	Build BuildConfig

	// Logging configuration
	Logging LoggingConfig

	// Executor overrides build-engine invocation; nil uses os/exec
	Executor build.CommandExecutor
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys []APIKey
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string
	Key  string
}

// BuildConfig holds the deployment-time build settings
type BuildConfig struct {
	// Branch is the designated branch that qualifies events
	Branch string
	// ForeignArch is the emulated architecture, e.g. "arm64"
	ForeignArch string
	// NativeRecipe and NativeContext describe the native build path
	NativeRecipe  string
	NativeContext string
	// NativeImage is the fixed image name tagged per run
	NativeImage string
	// CrossRecipe and CrossContext describe the foreign build path
	CrossRecipe  string
	CrossContext string
	// BinfmtImage is the QEMU handler installer image
	BinfmtImage string
	// Builder is the buildx builder name
	Builder string
	// BuildTimeout bounds each build path (0 = none)
	BuildTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// New creates a new Pipeline instance with the provided configuration
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	exec := cfg.Executor
	if exec == nil {
		exec = build.NewRealCommandExecutor()
	}

	native, err := build.NewNativeDriver(build.NativeDriverConfig{
		Image:           cfg.Build.NativeImage,
		ContextDir:      cfg.Build.NativeContext,
		CommandExecutor: exec,
		Logger:          appLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize native driver: %w", err)
	}

	bootstrap := build.NewBootstrapper(build.BootstrapperConfig{
		BinfmtImage:     cfg.Build.BinfmtImage,
		Builder:         cfg.Build.Builder,
		CommandExecutor: exec,
		Logger:          appLogger,
	})

	cross, err := build.NewCrossDriver(build.CrossDriverConfig{
		Builder:         bootstrap.Builder(),
		ContextDir:      cfg.Build.CrossContext,
		CommandExecutor: exec,
		Logger:          appLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize cross driver: %w", err)
	}

	store := service.NewRunStore()
	orch := orchestrator.New(
		trigger.New(cfg.Build.Branch),
		build.NewTagGenerator(),
		native, cross, bootstrap, store,
		orchestrator.Config{
			NativeRecipe: cfg.Build.NativeRecipe,
			CrossRecipe:  cfg.Build.CrossRecipe,
			ForeignArch:  cfg.Build.ForeignArch,
			BuildTimeout: cfg.Build.BuildTimeout,
		},
		appLogger,
	)
	svc := service.NewService(orch, store, exec, appLogger)
	appLogger.Info("initialized pipeline",
		"branch", cfg.Build.Branch,
		"foreign_arch", cfg.Build.ForeignArch)

	handlers := api.NewHandlers(svc)

	configAPIKeys := make([]config.APIKey, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		configAPIKeys[i] = config.APIKey{Name: key.Name, Key: key.Key}
	}
	authMiddleware := api.NewAuthMiddleware(configAPIKeys)
	loggingMiddleware := api.NewLoggingMiddleware(appLogger)
	router := api.NewRouter(handlers, authMiddleware, loggingMiddleware)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Pipeline{
		config:  cfg,
		service: svc,
		router:  router,
		server:  srv,
		logger:  appLogger,
	}, nil
}

// Start starts the HTTP server. This is a blocking call that runs
// until the context is canceled or an error occurs.
func (p *Pipeline) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		p.logger.Info("starting http server", "port", p.config.Server.Port)
		serverErrors <- p.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		p.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := p.server.Shutdown(shutdownCtx); err != nil {
			p.server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Let in-flight runs settle before reporting a clean stop.
		p.service.Wait()
		p.logger.Info("server stopped gracefully")
		return nil
	}
}

// Handler returns the http.Handler for the pipeline. Use this to mount
// the pipeline into an existing HTTP server.
func (p *Pipeline) Handler() http.Handler {
	return p.router
}

// Service returns the underlying service layer for direct programmatic
// access
func (p *Pipeline) Service() *service.Service {
	return p.service
}

// NewFromConfig converts a loaded configuration file into a Pipeline
func NewFromConfig(cfg *config.Config) (*Pipeline, error) {
	return New(FromConfig(cfg))
}

// FromConfig converts a loaded configuration file into a pipeline
// Config, for callers that adjust the wiring before New
func FromConfig(cfg *config.Config) *Config {
	apiKeys := make([]APIKey, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		apiKeys[i] = APIKey{Name: key.Name, Key: key.Key}
	}

	return &Config{
		Server: ServerConfig{
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		Auth: AuthConfig{APIKeys: apiKeys},
		Build: BuildConfig{
			Branch:        cfg.Pipeline.Branch,
			ForeignArch:   cfg.Pipeline.ForeignArch,
			NativeRecipe:  cfg.Pipeline.Native.Recipe,
			NativeContext: cfg.Pipeline.Native.Context,
			NativeImage:   cfg.Pipeline.Native.Image,
			CrossRecipe:   cfg.Pipeline.Cross.Recipe,
			CrossContext:  cfg.Pipeline.Cross.Context,
			BinfmtImage:   cfg.Pipeline.Cross.BinfmtImage,
			Builder:       cfg.Pipeline.Cross.Builder,
			BuildTimeout:  cfg.Pipeline.BuildTimeout,
		},
		Logging: LoggingConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		},
	}
}

// NewFromEnv creates a Pipeline from a configuration file with
// environment variable expansion applied
func NewFromEnv(configFile string) (*Pipeline, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewFromConfig(cfg)
}
