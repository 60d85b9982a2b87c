package api

import (
	"context"
	"time"
)

// Name identifies a step or a flow.
type Name string

// Key names an artifact within a run.
type Key string

// Status represents the lifecycle state of a run or a step instance.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// TransitionKind discriminates how control moves out of a step.
type TransitionKind string

const (
	// TransitionLinear moves to exactly one successor step.
	TransitionLinear TransitionKind = "linear"

	// TransitionSplit fans out to several successor steps in parallel.
	// The branches form a fan-out group that a later join step collects.
	TransitionSplit TransitionKind = "split"

	// TransitionForEach fans out one successor instance per element of a
	// slice artifact named by Transition.Source.
	TransitionForEach TransitionKind = "foreach"

	// TransitionEnd marks the terminal step of the flow.
	TransitionEnd TransitionKind = "end"
)

// Transition describes where control goes after a step's body commits.
type Transition struct {
	Kind    TransitionKind
	Targets []Name

	// Source is the artifact key holding the fan-out slice.
	// Only meaningful for TransitionForEach.
	Source Key
}

// To returns a linear transition to the named step.
func To(next Name) Transition {
	return Transition{Kind: TransitionLinear, Targets: []Name{next}}
}

// Split returns a fan-out transition. One successor instance is scheduled
// per listed branch; join input order follows this declaration order.
func Split(branches ...Name) Transition {
	return Transition{Kind: TransitionSplit, Targets: branches}
}

// ForEach returns a fan-out transition that schedules one instance of the
// named step per element of the slice artifact stored under source. Join
// input order follows the source slice order.
func ForEach(next Name, source Key) Transition {
	return Transition{Kind: TransitionForEach, Targets: []Name{next}, Source: source}
}

// End marks the terminal step. A flow has exactly one.
func End() Transition {
	return Transition{Kind: TransitionEnd}
}

// StepFunc is the body of an ordinary step. It reads and writes artifacts
// through the state handle; writes are buffered and committed only if the
// body returns nil.
type StepFunc func(ctx context.Context, s *State) error

// JoinFunc is the body of a join step. inputs holds the terminal states of
// every sibling in the fan-out group, in deterministic order (branch
// declaration order for splits, source slice order for foreach). The inputs
// are read-only; results go through s.
type JoinFunc func(ctx context.Context, s *State, inputs []*State) error

// Behavior wraps a step body with cross-cutting behavior, e.g. an
// environment overlay or card rendering. Behaviors are applied in
// declaration order, so the first behavior is the outermost wrapper.
type Behavior func(next StepFunc) StepFunc

// RetryPolicy controls how a step body is retried when it returns an error.
// MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// Backoff between attempts is optional; if InitialBackoff is zero, retries
// happen immediately.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// StepDefinition describes a named step. Exactly one of Fn and JoinFn is
// set; steps with JoinFn collect a fan-out group.
type StepDefinition struct {
	Name      Name
	Fn        StepFunc
	JoinFn    JoinFunc
	Next      Transition
	Retry     *RetryPolicy
	Behaviors []Behavior
}

// IsJoin reports whether the step collects a fan-out group.
func (d *StepDefinition) IsJoin() bool {
	return d.JoinFn != nil
}

// ParamKind is the declared type of a flow parameter.
type ParamKind string

const (
	ParamString ParamKind = "string"
	ParamInt    ParamKind = "int"

	// ParamFile is a string parameter whose command-line value names a file;
	// the outer layer resolves it to the file's contents before the run
	// starts.
	ParamFile ParamKind = "file"
)

// ParamSpec declares a run-scoped parameter with help text and a default.
// Parameter values are seeded into the run-level artifact namespace before
// the start step executes, so every step can read them.
type ParamSpec struct {
	Name    Key
	Help    string
	Kind    ParamKind
	Default any
}

// Params carries the parameter overrides supplied when a run starts.
// Missing keys fall back to the declared defaults.
type Params map[Key]any

// FlowDefinition describes a flow as a set of steps. Step order is the
// declaration order and is used for deterministic reporting; the actual
// execution order is determined by the transitions.
type FlowDefinition struct {
	Name   Name
	Steps  []StepDefinition
	Params []ParamSpec
}

// Step returns the definition of the named step, or nil.
func (d *FlowDefinition) Step(name Name) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i]
		}
	}
	return nil
}

// RunListOptions controls how runs are listed.
// Zero values mean "no filter" for that field.
type RunListOptions struct {
	// FlowName, if non-empty, limits results to runs of the given flow.
	FlowName Name

	// Status, if non-empty, limits results to runs with the given status.
	Status Status
}

// Engine is the high-level engine API. Runs execute synchronously: Run
// returns once the terminal step has committed or the run has failed.
type Engine interface {
	// RegisterFlow validates the flow graph and registers it by name.
	// Structural violations are reported as *GraphError.
	RegisterFlow(def FlowDefinition) error

	// Run starts a run of the named flow and drives it to completion.
	// The returned run carries the terminal artifact snapshot on success,
	// or the failing step and error on failure.
	Run(ctx context.Context, name Name, params Params) (*Run, error)

	// GetRun looks up a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs matching the given options.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*Run, error)
}
