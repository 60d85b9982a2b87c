// Package stepflow provides a lightweight, embeddable step-flow engine for Go.
//
// Stepflow runs dataflow-style pipelines: a flow is a static graph of named
// steps connected by transitions, and a run executes that graph once, passing
// named artifacts from step to step. It runs fully in Go, supports multiple
// persistence backends, and integrates cleanly into existing codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. FlowBuilder
//  3. StepFunc / JoinFunc
//  4. State (artifacts)
//  5. RetryPolicy
//
// # Engine
//
// The Engine stores flow definitions, validates their graphs, executes runs
// synchronously, and persists run state. Engines can be backed by different
// storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Redis
//
// Run returns once the terminal step has committed or the run has failed;
// parallelism exists only inside fan-out groups, where every branch gets its
// own goroutine.
//
// # FlowBuilder
//
// FlowBuilder provides the declarative API used to define flows. Each step
// names its outgoing transition explicitly:
//
//	stepflow.New("Squares").
//	    Step("start", start, stepflow.ForEach("square", "numbers")).
//	    Step("square", square, stepflow.To("collect")).
//	    Join("collect", collect, stepflow.To("end")).
//	    Step("end", finish, stepflow.End())
//
// Transitions come in four kinds: To (linear), Split (static parallel
// branches), ForEach (one branch instance per element of a slice artifact),
// and End (the unique terminal step). Every split or foreach converges on a
// join step, which receives the sibling states in deterministic order.
// Registration validates the whole graph up front; a malformed flow never
// starts a run.
//
// # Steps and Artifacts
//
// A StepFunc is the executable unit of a flow:
//
//	type StepFunc func(ctx context.Context, s *State) error
//
// Steps communicate exclusively through artifacts: named values written with
// s.Set and read with s.Get. Each step instance sees the artifacts of its
// predecessors through a copy-on-write overlay, writes are buffered and
// commit atomically only when the body returns nil, and parallel branches
// are fully isolated from each other until their join.
//
// # Retries
//
// A step can carry a RetryPolicy, built fluently:
//
//	stepflow.Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, time.Second).Policy()
//
// Failed attempts leave no partial artifacts behind; artifact contract
// violations are never retried.
//
// # Observability
//
// An Observer receives run and step lifecycle callbacks. LoggingObserver
// emits structured logs via log/slog and BasicMetrics keeps simple counters;
// both can be combined with NewCompositeObserver.
//
// For complete programs, see the /examples directory.
package stepflow
