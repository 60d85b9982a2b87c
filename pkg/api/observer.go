package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the flow engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay flow execution. Step callbacks may be
// invoked concurrently for parallel branch instances.
type Observer interface {
	// OnRunStart is called once when a run is first started, before the
	// start step executes.
	OnRunStart(ctx context.Context, run *Run)

	// OnRunCompleted is called when a run reaches StatusCompleted.
	OnRunCompleted(ctx context.Context, run *Run)

	// OnRunFailed is called when a run transitions to StatusFailed.
	OnRunFailed(ctx context.Context, run *Run, err error)

	// OnStepStart is called before each attempt of a step body.
	// attempt is 1-based and index is the foreach item index, or -1.
	OnStepStart(ctx context.Context, run *Run, step Name, index, attempt int)

	// OnStepCompleted is called after each attempt returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, run *Run, step Name, index, attempt int, err error, duration time.Duration)

	// OnStepRetry is called when a failed attempt will be retried.
	OnStepRetry(ctx context.Context, run *Run, step Name, index, attempt int, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *Run)               {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *Run)           {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *Run, err error)   {}
func (NoopObserver) OnStepStart(ctx context.Context, run *Run, step Name, index, attempt int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, run *Run, step Name, index, attempt int, err error, d time.Duration) {
}
func (NoopObserver) OnStepRetry(ctx context.Context, run *Run, step Name, index, attempt int, err error) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run *Run, step Name, index, attempt int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, step, index, attempt)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run *Run, step Name, index, attempt int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, step, index, attempt, err, d)
	}
}

func (c *CompositeObserver) OnStepRetry(ctx context.Context, run *Run, step Name, index, attempt int, err error) {
	for _, o := range c.observers {
		o.OnStepRetry(ctx, run, step, index, attempt, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("flow", string(run.FlowName)),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("flow", string(run.FlowName)),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("flow", string(run.FlowName)),
		slog.String("run_id", run.ID),
		slog.String("step", string(run.CurrentStep)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run *Run, step Name, index, attempt int) {
	o.Logger.InfoContext(ctx, "step_start",
		slog.String("flow", string(run.FlowName)),
		slog.String("run_id", run.ID),
		slog.String("step", string(step)),
		slog.Int("index", index),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run *Run, step Name, index, attempt int, err error, d time.Duration) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("flow", string(run.FlowName)),
		slog.String("run_id", run.ID),
		slog.String("step", string(step)),
		slog.Int("index", index),
		slog.Int("attempt", attempt),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepRetry(ctx context.Context, run *Run, step Name, index, attempt int, err error) {
	o.Logger.WarnContext(ctx, "step_retry",
		slog.String("flow", string(run.FlowName)),
		slog.String("run_id", run.ID),
		slog.String("step", string(step)),
		slog.Int("index", index),
		slog.Int("failed_attempt", attempt),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	stepsCompleted    atomic.Int64
	stepRetries       atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	ActiveRuns    int64

	StepsCompleted  int64
	StepRetries     int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *Run) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *Run) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *Run, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, run *Run, step Name, index, attempt int, err error, d time.Duration) {
	// Only count successful attempts for the average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

func (m *BasicMetrics) OnStepRetry(ctx context.Context, run *Run, step Name, index, attempt int, err error) {
	m.stepRetries.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		ActiveRuns:      started - completed - failed,
		StepsCompleted:  steps,
		StepRetries:     m.stepRetries.Load(),
		AvgStepDuration: avg,
	}
}
