package stepflow

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/stepflow/internal/engine"
	"github.com/petrijr/stepflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	FlowDefinition       = api.FlowDefinition
	StepDefinition       = api.StepDefinition
	RunListOptions       = api.RunListOptions
	Name                 = api.Name
	Key                  = api.Key
	Status               = api.Status
	Transition           = api.Transition
	State                = api.State
	Params               = api.Params
	StepFunc             = api.StepFunc
	JoinFunc             = api.JoinFunc
	Behavior             = api.Behavior
	RetryPolicy          = api.RetryPolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export the transition constructors and observer helpers.

var (
	To      = api.To
	Split   = api.Split
	ForEach = api.ForEach
	End     = api.End

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists runs in a SQLite
// database. Flow definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewRedisEngine returns an Engine that persists runs in Redis.
func NewRedisEngine(client *redis.Client) Engine {
	return engine.NewRedisEngine(client)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs Observer) Engine {
	return engine.NewRedisEngineWithObserver(client, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Run runs a registered flow synchronously.
func Run(ctx context.Context, eng Engine, name Name, params Params) (*api.Run, error) {
	return eng.Run(ctx, name, params)
}

// GetRun fetches a run by ID.
func GetRun(ctx context.Context, eng Engine, id string) (*api.Run, error) {
	return eng.GetRun(ctx, id)
}

// ListRuns lists runs according to the given options.
func ListRuns(ctx context.Context, eng Engine, opts RunListOptions) ([]*api.Run, error) {
	return eng.ListRuns(ctx, opts)
}
