package engine

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/stepflow/internal/graph"
	"github.com/petrijr/stepflow/pkg/api"
)

// execution drives a single run through the step graph. Linear chains run
// on the calling goroutine; each fan-out branch gets its own goroutine and
// its own artifact overlay, and the join observes the branch states in
// deterministic order regardless of physical completion order.
type execution struct {
	engine *engineImpl
	graph  *graph.Graph
	run    *api.Run
}

func (x *execution) execute(ctx context.Context, base *api.Bindings) error {
	start := x.graph.Start()
	st := api.NewState(x.run, start, base.Fork())

	join, final, err := x.runSegment(ctx, start, st)
	if err != nil {
		return err
	}
	if join != "" {
		// Validation guarantees every join sits inside a fan-out.
		return fmt.Errorf("flow %s: join %q reached outside a fan-out", x.run.FlowName, join)
	}

	x.run.Artifacts = final.Snapshot()
	return nil
}

// runSegment executes steps beginning at name, whose state st must already
// be prepared, following linear transitions and resolving fan-outs inline.
// It returns ("", finalState, nil) when the terminal step commits, or
// (join, tailState, nil) when the segment is a fan-out branch that reached
// its join.
func (x *execution) runSegment(ctx context.Context, name api.Name, st *api.State) (api.Name, *api.State, error) {
	for {
		step := x.graph.Step(name)

		if err := x.supervise(ctx, step, st, nil); err != nil {
			return "", nil, err
		}

		// A fan-out executes through its join before control continues.
		for step.Next.Kind == api.TransitionSplit || step.Next.Kind == api.TransitionForEach {
			joinName, joinState, err := x.fanOut(ctx, step, st)
			if err != nil {
				return "", nil, err
			}
			step, st = x.graph.Step(joinName), joinState
		}

		if step.Next.Kind == api.TransitionEnd {
			return "", st, nil
		}

		next := step.Next.Targets[0]
		if x.graph.Step(next).IsJoin() {
			return next, st, nil
		}
		st = st.Fork(next)
		name = next
	}
}

// branchSpec describes one scheduled sibling of a fan-out group.
type branchSpec struct {
	target api.Name
	item   any
	index  int
}

// fanOut schedules one branch instance per split target or foreach item,
// waits for the whole group, executes the join with the sibling states in
// declaration/source order, and merges the branch overlays underneath the
// join's own writes.
func (x *execution) fanOut(ctx context.Context, step *api.StepDefinition, st *api.State) (api.Name, *api.State, error) {
	branches, err := x.expandBranches(step, st)
	if err != nil {
		return "", nil, err
	}

	ancestor := st.Bindings()
	states := make([]*api.State, len(branches))

	g, gctx := errgroup.WithContext(ctx)
	for i, br := range branches {
		i, br := i, br
		bst := st.Fork(br.target)
		if step.Next.Kind == api.TransitionForEach {
			bst.BindItem(br.item, br.index)
		}
		g.Go(func() error {
			join, out, err := x.runSegment(gctx, br.target, bst)
			if err != nil {
				return err
			}
			if join == "" {
				return fmt.Errorf("flow %s: branch %q of fan-out %q completed without a join",
					x.run.FlowName, br.target, step.Name)
			}
			states[i] = out
			return nil
		})
	}
	// Wait for every sibling: an exhausted branch fails the group, but
	// already-started siblings finish their current step first.
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	joinName := x.graph.JoinOf(step.Name)
	joinStep := x.graph.Step(joinName)
	joinState := st.Fork(joinName)

	inputs := make([]*api.State, len(states))
	for i, s := range states {
		inputs[i] = s.Frozen()
	}

	if err := x.supervise(ctx, joinStep, joinState, inputs); err != nil {
		return "", nil, err
	}

	if err := joinState.MergeBranches(ancestor, inputs); err != nil {
		return "", nil, err
	}

	return joinName, joinState, nil
}

func (x *execution) expandBranches(step *api.StepDefinition, st *api.State) ([]branchSpec, error) {
	if step.Next.Kind == api.TransitionSplit {
		branches := make([]branchSpec, len(step.Next.Targets))
		for i, t := range step.Next.Targets {
			branches[i] = branchSpec{target: t, index: -1}
		}
		return branches, nil
	}

	source := step.Next.Source
	value, ok := st.Lookup(source)
	if !ok {
		return nil, &api.ArtifactNotFoundError{Step: step.Name, Key: source}
	}
	items, err := toSlice(value)
	if err != nil {
		return nil, fmt.Errorf("step %q: foreach source %q: %w", step.Name, source, err)
	}

	target := step.Next.Targets[0]
	branches := make([]branchSpec, len(items))
	for i, item := range items {
		branches[i] = branchSpec{target: target, item: item, index: i}
	}
	return branches, nil
}

// supervise wraps one step-body invocation with the retry supervisor:
// bounded attempts, discarded writes on failure, atomic commit on success.
// Contract violations (artifact single-assignment, missing artifacts,
// merge conflicts) are never retried.
func (x *execution) supervise(ctx context.Context, step *api.StepDefinition, st *api.State, inputs []*api.State) error {
	x.run.SetCurrentStep(step.Name)
	_ = x.engine.runs.UpdateRun(x.run.Clone())

	maxAttempts := 1
	var (
		backoff    time.Duration
		maxBackoff time.Duration
		multiplier float64
	)
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		backoff = step.Retry.InitialBackoff
		maxBackoff = step.Retry.MaxBackoff
		multiplier = step.Retry.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
	}

	body := step.Fn
	if body != nil {
		// Behaviors wrap in declaration order: the first is outermost.
		for i := len(step.Behaviors) - 1; i >= 0; i-- {
			body = step.Behaviors[i](body)
		}
	}

	obs := x.engine.observer

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		st.BeginAttempt(attempt)

		startTime := time.Now()
		obs.OnStepStart(ctx, x.run, step.Name, st.Index(), attempt)

		var err error
		if step.JoinFn != nil {
			err = step.JoinFn(ctx, st, inputs)
		} else {
			err = body(ctx, st)
		}

		duration := time.Since(startTime)
		obs.OnStepCompleted(ctx, x.run, step.Name, st.Index(), attempt, err, duration)

		if err == nil {
			st.Commit()
			return nil
		}

		st.Discard()

		if api.IsContractError(err) {
			// Programming-contract violation: fatal, never retried.
			return err
		}

		lastErr = err

		if attempt == maxAttempts {
			break
		}

		obs.OnStepRetry(ctx, x.run, step.Name, st.Index(), attempt, err)

		if backoff > 0 {
			delay := backoff
			if maxBackoff > 0 && delay > maxBackoff {
				delay = maxBackoff
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			next := time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && next > maxBackoff {
				backoff = maxBackoff
			} else {
				backoff = next
			}
		}
	}

	return &api.RetryExhaustedError{Step: step.Name, Attempts: maxAttempts, Err: lastErr}
}

// toSlice normalizes the foreach source artifact into []any. Any slice or
// array type qualifies; everything else is a contract failure.
func toSlice(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a slice", v)
	}
}
