// Package service coordinates between the HTTP surface and the run
// orchestrator: it owns the run registry and the lifecycle of in-flight
// runs, including superseding an older run when a newer qualifying
// event arrives for the same branch.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/lei/cross-ci/internal/build"
	"github.com/lei/cross-ci/internal/models"
	"github.com/lei/cross-ci/internal/orchestrator"
	"github.com/lei/cross-ci/pkg/logger"
)

// ErrRunNotFound indicates the requested run doesn't exist
var ErrRunNotFound = errors.New("run not found")

// activeRun tracks a run whose paths are still executing
type activeRun struct {
	runID  string
	cancel context.CancelFunc
}

// Service coordinates run submission, inspection and cancellation
type Service struct {
	store  *RunStore
	orch   *orchestrator.Orchestrator
	exec   build.CommandExecutor
	logger *logger.Logger

	mu     sync.Mutex
	active map[string]*activeRun // branch -> in-flight run
	wg     sync.WaitGroup
}

// NewService creates a service instance. exec is only used for engine
// availability reporting in health checks and may be nil.
func NewService(orch *orchestrator.Orchestrator, store *RunStore, exec build.CommandExecutor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:  store,
		orch:   orch,
		exec:   exec,
		logger: log,
		active: make(map[string]*activeRun),
	}
}

// getLogger retrieves the request-scoped logger from the context or
// falls back to the service logger
func (s *Service) getLogger(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Submit evaluates the event and, when it qualifies, starts a run
// asynchronously. The returned bool reports whether a run was started;
// a non-qualifying event is a legitimate no-op, not an error. A newer
// qualifying event supersedes the branch's in-flight run: that run is
// cancelled and its partial artifacts are discarded, never published.
func (s *Service) Submit(ctx context.Context, ev models.TriggerEvent) (*models.Run, bool) {
	log := s.getLogger(ctx)

	if !s.orch.Evaluate(ev) {
		log.Debug("event does not qualify, no run created",
			"event", ev.Kind,
			"branch", ev.Branch)
		return nil, false
	}

	run := s.orch.NewRun(ev)
	s.store.Create(run)
	// Snapshot before execution starts mutating the stored run.
	snapshot := run.Clone()

	// Runs outlive the webhook request, so the execution context is
	// detached from ctx and only cancelled by supersede or CancelRun.
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if prev, ok := s.active[ev.Branch]; ok {
		log.Info("superseding in-flight run",
			"branch", ev.Branch,
			"old_run_id", prev.runID,
			"new_run_id", run.RunID)
		prev.cancel()
	}
	s.active[ev.Branch] = &activeRun{runID: run.RunID, cancel: cancel}
	s.mu.Unlock()

	log.Info("run started",
		"run_id", run.RunID,
		"event", ev.Kind,
		"branch", ev.Branch,
		"commit", ev.Commit)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		result, err := s.orch.Execute(runCtx, run.RunID)
		if err != nil {
			s.logger.Warn("run completed with failures",
				"run_id", run.RunID,
				"result", result,
				"error", err)
		} else {
			s.logger.Info("run completed",
				"run_id", run.RunID,
				"result", result)
		}
		s.mu.Lock()
		if cur, ok := s.active[ev.Branch]; ok && cur.runID == run.RunID {
			delete(s.active, ev.Branch)
		}
		s.mu.Unlock()
	}()

	return snapshot, true
}

// RunOnce executes a run synchronously for a qualifying event. Used by
// the one-shot CLI surface; the webhook path goes through Submit.
func (s *Service) RunOnce(ctx context.Context, ev models.TriggerEvent) (*models.Run, bool, error) {
	if !s.orch.Evaluate(ev) {
		return nil, false, nil
	}
	run := s.orch.NewRun(ev)
	s.store.Create(run)
	_, err := s.orch.Execute(ctx, run.RunID)
	final, _ := s.store.Get(run.RunID)
	return final, true, err
}

// GetRun returns a snapshot of the run
func (s *Service) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	run, ok := s.store.Get(runID)
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns snapshots of all runs in creation order
func (s *Service) ListRuns(ctx context.Context) []*models.Run {
	return s.store.List()
}

// CancelRun cancels an in-flight run. Cancelling a finished run is a
// no-op; an unknown run id is an error.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	if _, ok := s.store.Get(runID); !ok {
		return ErrRunNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for branch, ar := range s.active {
		if ar.runID == runID {
			s.getLogger(ctx).Info("canceling run", "run_id", runID, "branch", branch)
			ar.cancel()
			delete(s.active, branch)
			return nil
		}
	}
	return nil
}

// Wait blocks until all in-flight runs have settled. Used by shutdown
// and tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// HealthCheck reports service and build-engine health
func (s *Service) HealthCheck(ctx context.Context) map[string]interface{} {
	health := map[string]interface{}{
		"status":  "healthy",
		"service": "cross-ci",
	}
	checks := make(map[string]interface{})
	health["checks"] = checks

	s.mu.Lock()
	inFlight := len(s.active)
	s.mu.Unlock()
	checks["runs"] = map[string]interface{}{
		"status":    "healthy",
		"total":     s.store.Len(),
		"in_flight": inFlight,
	}

	if s.exec != nil {
		if _, err := s.exec.LookPath("docker"); err != nil {
			checks["build_engine"] = map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			}
			health["status"] = "degraded"
		} else {
			checks["build_engine"] = map[string]interface{}{
				"status": "healthy",
			}
		}
	}

	return health
}
