package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/stepflow/internal/graph"
	"github.com/petrijr/stepflow/internal/persistence"
	"github.com/petrijr/stepflow/pkg/api"
)

// engineImpl is a synchronous, in-process engine implementation. Run
// drives a flow to completion before returning; parallelism exists only
// inside fan-out groups.
type engineImpl struct {
	flows    persistence.FlowStore
	runs     persistence.RunStore
	observer api.Observer

	mu     sync.RWMutex
	graphs map[api.Name]*graph.Graph
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer
}

func NewInMemoryEngine() api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngine(persistence.Persistence{
		Flows: mem,
		Runs:  mem,
	})
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Flows: mem, Runs: mem},
		Observer:    obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	runs, err := persistence.NewSQLiteRunStore(db)
	if err != nil {
		return nil, err
	}
	// Flow definitions carry Go functions, so they remain in-memory.
	memFlows := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Flows: memFlows, Runs: runs},
		Observer:    obs,
	}), nil
}

func NewRedisEngine(client *redis.Client) api.Engine {
	return NewRedisEngineWithObserver(client, nil)
}

func NewRedisEngineWithObserver(client *redis.Client, obs api.Observer) api.Engine {
	runs := persistence.NewRedisRunStore(client, "stepflow:")
	memFlows := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Flows: memFlows, Runs: runs},
		Observer:    obs,
	})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &engineImpl{
		flows:    cfg.Persistence.Flows,
		runs:     cfg.Persistence.Runs,
		observer: obs,
		graphs:   make(map[api.Name]*graph.Graph),
	}
}

// NewEngine returns an Engine backed by the given stores with no observer.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
	})
}

func (e *engineImpl) RegisterFlow(def api.FlowDefinition) error {
	if def.Name == "" {
		return errors.New("flow name is required")
	}
	if len(def.Steps) == 0 {
		return errors.New("flow must have at least one step")
	}

	// Check for duplicates via the store.
	if existing, err := e.flows.GetFlow(def.Name); err == nil && existing.Name != "" {
		return fmt.Errorf("flow already registered: %s", def.Name)
	} else if err != nil && !errors.Is(err, persistence.ErrFlowNotFound) {
		// Unexpected store error.
		return err
	}

	g, err := graph.New(&def)
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}

	if err := e.flows.SaveFlow(def); err != nil {
		return err
	}

	e.mu.Lock()
	e.graphs[def.Name] = g
	e.mu.Unlock()
	return nil
}

func (e *engineImpl) Run(ctx context.Context, name api.Name, params api.Params) (*api.Run, error) {
	def, err := e.flows.GetFlow(name)
	if err != nil {
		if errors.Is(err, persistence.ErrFlowNotFound) {
			return nil, fmt.Errorf("unknown flow: %s", name)
		}
		return nil, err
	}

	e.mu.RLock()
	g := e.graphs[name]
	e.mu.RUnlock()
	if g == nil {
		return nil, fmt.Errorf("flow %s has no validated graph", name)
	}

	base, err := resolveParams(&def, params)
	if err != nil {
		return nil, err
	}

	run := &api.Run{
		ID:       uuid.NewString(),
		FlowName: def.Name,
		Status:   api.StatusRunning,
	}

	e.observer.OnRunStart(ctx, run)

	// Persist the run as soon as it starts.
	if err := e.runs.SaveRun(run.Clone()); err != nil {
		run.Status = api.StatusFailed
		run.Err = err
		e.observer.OnRunFailed(ctx, run, err)
		return run, err
	}

	x := &execution{
		engine: e,
		graph:  g,
		run:    run,
	}

	if err := x.execute(ctx, api.NewBindings(base)); err != nil {
		run.Status = api.StatusFailed
		run.Err = err
		_ = e.runs.UpdateRun(run.Clone())
		e.observer.OnRunFailed(ctx, run, err)
		return run, err
	}

	run.Status = api.StatusCompleted
	if err := e.runs.UpdateRun(run.Clone()); err != nil {
		return run, err
	}

	e.observer.OnRunCompleted(ctx, run)

	return run, nil
}

func (e *engineImpl) GetRun(ctx context.Context, id string) (*api.Run, error) {
	run, err := e.runs.GetRun(id)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, err
	}
	return run, nil
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.Run, error) {
	filter := persistence.RunFilter{
		FlowName: opts.FlowName,
		Status:   opts.Status,
	}
	return e.runs.ListRuns(filter)
}

// resolveParams merges the supplied overrides with the declared defaults
// into the run-level base namespace. Unknown overrides and type mismatches
// are rejected before the run starts.
func resolveParams(def *api.FlowDefinition, params api.Params) (map[api.Key]any, error) {
	declared := make(map[api.Key]*api.ParamSpec, len(def.Params))
	for i := range def.Params {
		declared[def.Params[i].Name] = &def.Params[i]
	}

	for key := range params {
		if _, ok := declared[key]; !ok {
			return nil, fmt.Errorf("flow %s: unknown parameter %q", def.Name, key)
		}
	}

	base := make(map[api.Key]any, len(def.Params))
	for name, spec := range declared {
		value, ok := params[name]
		if !ok {
			value = spec.Default
		}
		switch spec.Kind {
		case api.ParamInt:
			if _, ok := value.(int); !ok {
				return nil, fmt.Errorf("flow %s: parameter %q must be an int, got %T", def.Name, name, value)
			}
		case api.ParamString, api.ParamFile, "":
			if _, ok := value.(string); !ok {
				return nil, fmt.Errorf("flow %s: parameter %q must be a string, got %T", def.Name, name, value)
			}
		default:
			return nil, fmt.Errorf("flow %s: parameter %q has unknown kind %q", def.Name, name, spec.Kind)
		}
		base[name] = value
	}
	return base, nil
}
