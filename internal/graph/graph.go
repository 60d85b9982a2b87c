// Package graph holds the static structure of a flow: the step definitions,
// their transitions, and the construction-time validation of the structural
// invariants every runnable flow must satisfy.
package graph

import (
	"fmt"

	"github.com/petrijr/stepflow/pkg/api"
)

// Graph is the static step graph of one flow definition.
type Graph struct {
	flow  api.Name
	steps map[api.Name]*api.StepDefinition
	order []api.Name
	preds map[api.Name][]api.Name
	start api.Name
	joins map[api.Name]api.Name
}

// New indexes the flow's steps. It fails with *api.DuplicateStepError if a
// step name is registered twice; deeper structural checks are left to
// Validate.
func New(def *api.FlowDefinition) (*Graph, error) {
	g := &Graph{
		flow:  def.Name,
		steps: make(map[api.Name]*api.StepDefinition, len(def.Steps)),
		preds: make(map[api.Name][]api.Name),
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		if _, ok := g.steps[step.Name]; ok {
			return nil, &api.DuplicateStepError{Flow: def.Name, Step: step.Name}
		}
		g.steps[step.Name] = step
		g.order = append(g.order, step.Name)
	}
	for _, name := range g.order {
		for _, t := range g.steps[name].Next.Targets {
			g.preds[t] = append(g.preds[t], name)
		}
	}
	return g, nil
}

// Step returns the definition of the named step, or nil.
func (g *Graph) Step(name api.Name) *api.StepDefinition {
	return g.steps[name]
}

// Start returns the unique start step. Only meaningful after Validate.
func (g *Graph) Start() api.Name {
	return g.start
}

// SuccessorsOf returns the transition targets of the named step.
func (g *Graph) SuccessorsOf(name api.Name) []api.Name {
	if s, ok := g.steps[name]; ok {
		return s.Next.Targets
	}
	return nil
}

// PredecessorsOf returns the steps whose transitions target the named step,
// in declaration order.
func (g *Graph) PredecessorsOf(name api.Name) []api.Name {
	return g.preds[name]
}

// Validate checks the structural invariants: every transition target
// exists, there is exactly one start and one terminal step, every step is
// reachable from start, and every join collects exactly the fan-out group
// of its most recent enclosing split or foreach. A run may not begin
// against a graph that fails validation.
func (g *Graph) Validate() error {
	if len(g.order) == 0 {
		return g.errf("flow has no steps")
	}

	for _, name := range g.order {
		step := g.steps[name]
		if err := g.checkStep(step); err != nil {
			return err
		}
	}

	starts := g.findStarts()
	if len(starts) != 1 {
		return g.errf("expected exactly one start step, found %d", len(starts))
	}
	g.start = starts[0]
	if g.steps[g.start].IsJoin() {
		return g.errf("start step %q cannot be a join", g.start)
	}

	terminals := 0
	for _, name := range g.order {
		if g.steps[name].Next.Kind == api.TransitionEnd {
			terminals++
		}
	}
	if terminals != 1 {
		return g.errf("expected exactly one terminal step, found %d", terminals)
	}

	if err := g.checkReachable(); err != nil {
		return err
	}
	return g.checkFanOuts()
}

func (g *Graph) checkStep(step *api.StepDefinition) error {
	if step.Fn == nil && step.JoinFn == nil {
		return g.errf("step %q has no body", step.Name)
	}
	if step.Fn != nil && step.JoinFn != nil {
		return g.errf("step %q has both a step body and a join body", step.Name)
	}

	switch step.Next.Kind {
	case api.TransitionLinear:
		if len(step.Next.Targets) != 1 {
			return g.errf("step %q: linear transition needs exactly one target", step.Name)
		}
	case api.TransitionSplit:
		if len(step.Next.Targets) < 2 {
			return g.errf("step %q: split transition needs at least two branches", step.Name)
		}
		seen := make(map[api.Name]bool)
		for _, t := range step.Next.Targets {
			if seen[t] {
				return g.errf("step %q: split lists branch %q twice", step.Name, t)
			}
			seen[t] = true
		}
	case api.TransitionForEach:
		if len(step.Next.Targets) != 1 {
			return g.errf("step %q: foreach transition needs exactly one target", step.Name)
		}
		if step.Next.Source == "" {
			return g.errf("step %q: foreach transition needs a source artifact key", step.Name)
		}
	case api.TransitionEnd:
		if len(step.Next.Targets) != 0 {
			return g.errf("step %q: terminal step cannot have targets", step.Name)
		}
	default:
		return g.errf("step %q: unknown transition kind %q", step.Name, step.Next.Kind)
	}

	for _, t := range step.Next.Targets {
		if _, ok := g.steps[t]; !ok {
			return g.errf("step %q targets unknown step %q", step.Name, t)
		}
	}

	// Only joins may have multiple predecessors; they reconcile a fan-out.
	if !step.IsJoin() && len(g.preds[step.Name]) > 1 {
		return g.errf("step %q has %d predecessors but is not a join",
			step.Name, len(g.preds[step.Name]))
	}
	return nil
}

func (g *Graph) findStarts() []api.Name {
	var starts []api.Name
	for _, name := range g.order {
		if len(g.preds[name]) == 0 {
			starts = append(starts, name)
		}
	}
	return starts
}

func (g *Graph) checkReachable() error {
	seen := make(map[api.Name]bool)
	queue := []api.Name{g.start}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		queue = append(queue, g.steps[name].Next.Targets...)
	}
	for _, name := range g.order {
		if !seen[name] {
			return g.errf("step %q is not reachable from start", name)
		}
	}
	return nil
}

// JoinOf returns the join step collecting the named fan-out step's
// branches. Only meaningful after Validate.
func (g *Graph) JoinOf(fanOut api.Name) api.Name {
	return g.joins[fanOut]
}

// checkFanOuts verifies that every split and foreach converges on a single
// join whose predecessor set is exactly the set of branch tails, and that
// every join belongs to such a fan-out.
func (g *Graph) checkFanOuts() error {
	claimed := make(map[api.Name]bool)
	g.joins = make(map[api.Name]api.Name)

	for _, name := range g.order {
		step := g.steps[name]
		kind := step.Next.Kind
		if kind != api.TransitionSplit && kind != api.TransitionForEach {
			continue
		}

		join, tails, err := g.converge(step)
		if err != nil {
			return err
		}
		claimed[join] = true
		g.joins[name] = join

		if kind == api.TransitionForEach {
			// All foreach instances run the same branch chain, so the join
			// has a single static predecessor: the branch tail.
			if len(g.preds[join]) != 1 {
				return g.errf("join %q must have exactly the foreach branch as predecessor", join)
			}
			continue
		}

		if len(g.preds[join]) != len(tails) {
			return g.errf("join %q collects %d predecessors but fan-out %q produces %d branches",
				join, len(g.preds[join]), name, len(tails))
		}
		for _, tail := range tails {
			if !g.hasPred(join, tail) {
				return g.errf("branch tail %q of fan-out %q does not feed join %q", tail, name, join)
			}
		}
	}

	for _, name := range g.order {
		if g.steps[name].IsJoin() && !claimed[name] {
			return g.errf("join %q does not collect any fan-out", name)
		}
	}
	return nil
}

func (g *Graph) hasPred(join, step api.Name) bool {
	for _, p := range g.preds[join] {
		if p == step {
			return true
		}
	}
	return false
}

// converge follows every branch of a fan-out until it reaches a join step,
// passing through nested fan-outs, and checks that all branches reach the
// same join. It returns the join and the tail step of each branch.
func (g *Graph) converge(fanOut *api.StepDefinition) (api.Name, []api.Name, error) {
	var (
		join  api.Name
		tails []api.Name
	)
	for _, target := range fanOut.Next.Targets {
		branchJoin, tail, err := g.walkBranch(fanOut.Name, target)
		if err != nil {
			return "", nil, err
		}
		if join == "" {
			join = branchJoin
		} else if join != branchJoin {
			return "", nil, g.errf("fan-out %q branches reach different joins %q and %q",
				fanOut.Name, join, branchJoin)
		}
		tails = append(tails, tail)
	}
	return join, tails, nil
}

func (g *Graph) walkBranch(fanOut, from api.Name) (api.Name, api.Name, error) {
	prev := fanOut
	current := from
	for hops := 0; hops <= len(g.order); hops++ {
		step := g.steps[current]
		if step.IsJoin() {
			return current, prev, nil
		}
		switch step.Next.Kind {
		case api.TransitionEnd:
			return "", "", g.errf("branch through %q escapes fan-out %q without a join", current, fanOut)
		case api.TransitionLinear:
			prev = current
			current = step.Next.Targets[0]
		case api.TransitionSplit, api.TransitionForEach:
			// Nested fan-out: skip to its join and continue from there.
			nestedJoin, _, err := g.converge(step)
			if err != nil {
				return "", "", err
			}
			nested := g.steps[nestedJoin]
			if nested.Next.Kind == api.TransitionEnd {
				return "", "", g.errf("branch through %q escapes fan-out %q without a join", nestedJoin, fanOut)
			}
			prev = nestedJoin
			current = nested.Next.Targets[0]
		}
	}
	return "", "", g.errf("branch from %q does not terminate (cycle through %q?)", fanOut, current)
}

func (g *Graph) errf(format string, args ...any) error {
	return &api.GraphError{Flow: g.flow, Reason: fmt.Sprintf(format, args...)}
}
