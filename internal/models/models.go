package models

import "time"

// EventKind is the kind of version-control event that can trigger a run
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// Valid reports whether the kind is one the pipeline understands
func (k EventKind) Valid() bool {
	return k == EventPush || k == EventPullRequest
}

// TriggerEvent is the slice of a version-control webhook payload the
// pipeline reads. Commit and Sender are carried for logging only;
// trigger evaluation looks at Kind and Branch exclusively.
type TriggerEvent struct {
	Kind   EventKind `json:"event"`
	Branch string    `json:"branch"`
	Commit string    `json:"commit,omitempty"`
	Sender string    `json:"sender,omitempty"`
}

// Architecture identifies which build path a job belongs to
type Architecture string

const (
	ArchNative  Architecture = "native"
	ArchForeign Architecture = "foreign"
)

// Outcome represents the state of a build job
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ErrorKind distinguishes why a job failed, so operators can tell
// "your recipe is broken" from "the CI environment is broken"
type ErrorKind string

const (
	ErrorKindBuildFailed    ErrorKind = "build failed"
	ErrorKindEmulationSetup ErrorKind = "emulation setup failed"
	ErrorKindCanceled       ErrorKind = "canceled"
)

// BuildJob represents one build path of a run. Outcome moves from
// pending to exactly one terminal value.
type BuildJob struct {
	Architecture Architecture `json:"architecture"`
	Recipe       string       `json:"recipe"`
	Platform     string       `json:"platform,omitempty"` // foreign jobs only
	Tag          string       `json:"tag,omitempty"`      // native jobs only
	Outcome      Outcome      `json:"outcome"`
	ErrorKind    ErrorKind    `json:"error_kind,omitempty"`
	Diagnostics  string       `json:"diagnostics,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// RunState is the orchestrator's state machine position for a run
type RunState string

const (
	StateTriggered  RunState = "triggered"
	StateRunning    RunState = "running"
	StateAggregated RunState = "aggregated"
	StateDone       RunState = "done"
)

// RunResult is the aggregate outcome of all build jobs in a run
type RunResult string

const (
	ResultPending RunResult = "pending"
	ResultSuccess RunResult = "success"
	ResultFailure RunResult = "failure"
)

// Run represents a single execution of the pipeline for one trigger event.
// Runs exist only for qualifying events and only in memory; nothing is
// persisted across runs.
type Run struct {
	RunID      string       `json:"run_id"`
	Event      TriggerEvent `json:"event"`
	State      RunState     `json:"state"`
	Jobs       []*BuildJob  `json:"jobs"`
	Result     RunResult    `json:"result"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Job returns the job for the given architecture, or nil
func (r *Run) Job(arch Architecture) *BuildJob {
	for _, j := range r.Jobs {
		if j.Architecture == arch {
			return j
		}
	}
	return nil
}

// Settled reports whether every job has a terminal outcome
func (r *Run) Settled() bool {
	for _, j := range r.Jobs {
		if j.Outcome == OutcomePending {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand out while the run is mutating
func (r *Run) Clone() *Run {
	out := *r
	out.Jobs = make([]*BuildJob, len(r.Jobs))
	for i, j := range r.Jobs {
		jc := *j
		out.Jobs[i] = &jc
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
