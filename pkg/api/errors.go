package api

import (
	"errors"
	"fmt"
)

// GraphError reports a structural invariant violation detected when a flow
// is validated. A flow with a graph error can never start a run.
type GraphError struct {
	Flow   Name
	Reason string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("flow %q: invalid graph: %s", e.Flow, e.Reason)
}

// DuplicateStepError reports a step registered twice under the same name.
type DuplicateStepError struct {
	Flow Name
	Step Name
}

func (e *DuplicateStepError) Error() string {
	return fmt.Sprintf("flow %q: duplicate step %q", e.Flow, e.Step)
}

// ArtifactAlreadySetError reports a second write of the same artifact key
// by the same step instance. Artifacts are single-assignment per instance;
// a successor instance may shadow the key with its own write.
type ArtifactAlreadySetError struct {
	Step Name
	Key  Key
}

func (e *ArtifactAlreadySetError) Error() string {
	return fmt.Sprintf("step %q: artifact %q already set", e.Step, e.Key)
}

// ArtifactNotFoundError reports a read of an artifact key that no step in
// the instance's overlay chain has written.
type ArtifactNotFoundError struct {
	Step Name
	Key  Key
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("step %q: artifact %q not found", e.Step, e.Key)
}

// ArtifactConflictError reports two fan-out siblings committing different
// values under the same key, unresolved by the join. The join body resolves
// a conflict either by writing the key itself or by reading it through its
// inputs, in which case the divergent values are dropped from the merge.
type ArtifactConflictError struct {
	Join Name
	Key  Key
}

func (e *ArtifactConflictError) Error() string {
	return fmt.Sprintf("join %q: conflicting sibling writes for artifact %q", e.Join, e.Key)
}

// RetryExhaustedError is the terminal form of a step-body failure: the body
// was attempted MaxAttempts times and failed every time. It is fatal to the
// run. Unwrap returns the final attempt's error.
type RetryExhaustedError struct {
	Step     Name
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("step %q: failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsContractError reports whether err is one of the artifact/graph contract
// violations that must never be retried and immediately fail the run.
func IsContractError(err error) bool {
	var (
		graphErr    *GraphError
		dupErr      *DuplicateStepError
		setErr      *ArtifactAlreadySetError
		notFoundErr *ArtifactNotFoundError
		conflictErr *ArtifactConflictError
	)
	return errors.As(err, &graphErr) ||
		errors.As(err, &dupErr) ||
		errors.As(err, &setErr) ||
		errors.As(err, &notFoundErr) ||
		errors.As(err, &conflictErr)
}
