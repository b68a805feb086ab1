// Package orchestrator drives one pipeline run: it gates on the trigger
// evaluator, forks the native and cross-architecture build paths as
// independent units of work, and aggregates their outcomes.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/lei/cross-ci/internal/build"
	"github.com/lei/cross-ci/internal/models"
	"github.com/lei/cross-ci/internal/trigger"
	"github.com/lei/cross-ci/pkg/logger"
)

// NativeBuilder builds the recipe for the host architecture
type NativeBuilder interface {
	Build(ctx context.Context, recipe, tag string) build.Result
}

// CrossBuilder builds the recipe for a foreign architecture
type CrossBuilder interface {
	Build(ctx context.Context, recipe, arch string) build.Result
}

// EmulationBootstrapper prepares the host to build for a foreign
// architecture
type EmulationBootstrapper interface {
	Ensure(ctx context.Context, arch string) error
}

// TagSource yields run-unique build tags
type TagSource interface {
	Next() string
}

// Recorder applies run mutations. Update must run fn while holding
// whatever lock makes the run's readers see consistent snapshots.
type Recorder interface {
	Update(runID string, fn func(*models.Run))
}

// Config carries the deployment-time values the orchestrator needs;
// none of them are hard-coded into the pipeline logic
type Config struct {
	// NativeRecipe is the path of the native build definition
	NativeRecipe string
	// CrossRecipe is the path of the foreign build definition
	CrossRecipe string
	// ForeignArch is the emulated target architecture, e.g. "arm64"
	ForeignArch string
	// BuildTimeout bounds each path's engine invocation (0 = none)
	BuildTimeout time.Duration
}

// Orchestrator composes the pipeline components for a run
type Orchestrator struct {
	evaluator *trigger.Evaluator
	tags      TagSource
	native    NativeBuilder
	cross     CrossBuilder
	bootstrap EmulationBootstrapper
	recorder  Recorder
	cfg       Config
	logger    *logger.Logger
}

// New creates an orchestrator
func New(ev *trigger.Evaluator, tags TagSource, native NativeBuilder, cross CrossBuilder, bootstrap EmulationBootstrapper, recorder Recorder, cfg Config, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		evaluator: ev,
		tags:      tags,
		native:    native,
		cross:     cross,
		bootstrap: bootstrap,
		recorder:  recorder,
		cfg:       cfg,
		logger:    log,
	}
}

// Evaluate reports whether the event qualifies to start a run
func (o *Orchestrator) Evaluate(ev models.TriggerEvent) bool {
	return o.evaluator.Qualifies(ev)
}

// NewRun creates the run record for a qualifying event: state
// triggered, both build jobs pending. The caller registers it with the
// recorder before Execute.
func (o *Orchestrator) NewRun(ev models.TriggerEvent) *models.Run {
	return &models.Run{
		RunID: uuid.NewString(),
		Event: ev,
		State: models.StateTriggered,
		Jobs: []*models.BuildJob{
			{
				Architecture: models.ArchNative,
				Recipe:       o.cfg.NativeRecipe,
				Outcome:      models.OutcomePending,
			},
			{
				Architecture: models.ArchForeign,
				Recipe:       o.cfg.CrossRecipe,
				Platform:     "linux/" + o.cfg.ForeignArch,
				Outcome:      models.OutcomePending,
			},
		},
		Result:    models.ResultPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Execute drives the run to completion, blocking until both paths have
// settled. The two paths share no state and neither one's failure
// aborts the other; cancelling ctx cancels both in-flight engine
// invocations. The returned error combines the per-path failures.
func (o *Orchestrator) Execute(ctx context.Context, runID string) (models.RunResult, error) {
	o.update(runID, func(r *models.Run) {
		r.State = models.StateRunning
	})

	var wg sync.WaitGroup
	var nativeErr, crossErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		nativeErr = o.runNativePath(ctx, runID)
	}()
	go func() {
		defer wg.Done()
		crossErr = o.runCrossPath(ctx, runID)
	}()
	wg.Wait()

	// Paths settle their jobs as failed exactly when they return an
	// error, so the aggregate holds with or without a recorder.
	result := models.ResultSuccess
	if nativeErr != nil || crossErr != nil {
		result = models.ResultFailure
	}
	o.update(runID, func(r *models.Run) {
		r.State = models.StateAggregated
		r.Result = result
		now := time.Now().UTC()
		r.FinishedAt = &now
		r.State = models.StateDone
	})

	o.logger.Info("run finished",
		"run_id", runID,
		"result", result)
	return result, multierr.Append(nativeErr, crossErr)
}

// runNativePath generates the build tag and drives the native build
func (o *Orchestrator) runNativePath(ctx context.Context, runID string) error {
	ctx, cancel := o.pathContext(ctx)
	defer cancel()

	tag := o.tags.Next()
	o.update(runID, func(r *models.Run) {
		j := r.Job(models.ArchNative)
		j.Tag = tag
		now := time.Now().UTC()
		j.StartedAt = &now
	})
	o.logger.Info("native path started", "run_id", runID, "tag", tag)

	res := o.native.Build(ctx, o.cfg.NativeRecipe, tag)
	o.settle(ctx, runID, models.ArchNative, res.Error, res.Diagnostics(), models.ErrorKindBuildFailed)
	return res.Error
}

// runCrossPath bootstraps the emulation layer, then drives the cross
// build. A bootstrap failure settles the job with the distinct
// emulation-setup error kind and the build driver is never invoked.
func (o *Orchestrator) runCrossPath(ctx context.Context, runID string) error {
	ctx, cancel := o.pathContext(ctx)
	defer cancel()

	o.update(runID, func(r *models.Run) {
		now := time.Now().UTC()
		r.Job(models.ArchForeign).StartedAt = &now
	})
	o.logger.Info("cross path started", "run_id", runID, "arch", o.cfg.ForeignArch)

	if err := o.bootstrap.Ensure(ctx, o.cfg.ForeignArch); err != nil {
		o.settle(ctx, runID, models.ArchForeign, err, err.Error(), models.ErrorKindEmulationSetup)
		return err
	}

	res := o.cross.Build(ctx, o.cfg.CrossRecipe, o.cfg.ForeignArch)
	o.settle(ctx, runID, models.ArchForeign, res.Error, res.Diagnostics(), models.ErrorKindBuildFailed)
	return res.Error
}

// pathContext applies the per-path build timeout
func (o *Orchestrator) pathContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.BuildTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.BuildTimeout)
	}
	return context.WithCancel(ctx)
}

// settle records a job's terminal outcome exactly once
func (o *Orchestrator) settle(ctx context.Context, runID string, arch models.Architecture, err error, diagnostics string, kind models.ErrorKind) {
	o.update(runID, func(r *models.Run) {
		j := r.Job(arch)
		if j.Outcome != models.OutcomePending {
			return
		}
		now := time.Now().UTC()
		j.FinishedAt = &now
		if err == nil {
			j.Outcome = models.OutcomeSuccess
			return
		}
		j.Outcome = models.OutcomeFailure
		j.ErrorKind = kind
		// A timed-out build is still a build-stage failure; only
		// cancellation gets its own kind.
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			j.ErrorKind = models.ErrorKindCanceled
		}
		j.Diagnostics = diagnostics
	})
	if err != nil {
		o.logger.Warn("build path failed", "run_id", runID, "architecture", arch, "error", err)
	} else {
		o.logger.Info("build path succeeded", "run_id", runID, "architecture", arch)
	}
}

// update routes a mutation through the recorder, tolerating a nil
// recorder for one-shot invocations that keep the run themselves
func (o *Orchestrator) update(runID string, fn func(*models.Run)) {
	if o.recorder != nil {
		o.recorder.Update(runID, fn)
	}
}
