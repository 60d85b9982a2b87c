package persistence

import (
	"errors"

	"github.com/petrijr/stepflow/pkg/api"
)

var (
	// ErrFlowNotFound is returned when a flow definition is not found.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = errors.New("run not found")
)

// FlowStore handles storage of flow definitions. Definitions carry Go
// function values, so they are always kept in-memory; durable backends
// only persist runs.
type FlowStore interface {
	SaveFlow(def api.FlowDefinition) error
	GetFlow(name api.Name) (api.FlowDefinition, error)
}

// RunFilter is used to select runs from the store.
// Empty string / zero status mean "no filter" for that field.
type RunFilter struct {
	FlowName api.Name
	Status   api.Status
}

// RunStore handles storage of runs: saved when the run starts, updated at
// step boundaries, and finalized with the terminal artifact snapshot.
type RunStore interface {
	SaveRun(run *api.Run) error
	UpdateRun(run *api.Run) error
	GetRun(id string) (*api.Run, error)
	ListRuns(filter RunFilter) ([]*api.Run, error)
}

// Persistence bundles the stores an engine needs.
type Persistence struct {
	Flows FlowStore
	Runs  RunStore
}
