// Package trigger decides whether an incoming version-control event
// should start a pipeline run.
package trigger

import "github.com/lei/cross-ci/internal/models"

// Evaluator gates runs on the designated branch. Evaluation is pure
// and synchronous; a non-qualifying event is a no-op, not an error.
type Evaluator struct {
	branch string
}

// New creates an evaluator for the designated branch
func New(branch string) *Evaluator {
	return &Evaluator{branch: branch}
}

// Branch returns the designated branch
func (e *Evaluator) Branch() string {
	return e.branch
}

// Qualifies reports whether the event should start a run: the kind must
// be push or pull_request and the target branch must match exactly.
func (e *Evaluator) Qualifies(ev models.TriggerEvent) bool {
	if !ev.Kind.Valid() {
		return false
	}
	return ev.Branch == e.branch
}
