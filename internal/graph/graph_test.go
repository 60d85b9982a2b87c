package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/petrijr/stepflow/pkg/api"
)

func body(ctx context.Context, s *api.State) error { return nil }

func joinBody(ctx context.Context, s *api.State, inputs []*api.State) error { return nil }

func step(name api.Name, next api.Transition) api.StepDefinition {
	return api.StepDefinition{Name: name, Fn: body, Next: next}
}

func join(name api.Name, next api.Transition) api.StepDefinition {
	return api.StepDefinition{Name: name, JoinFn: joinBody, Next: next}
}

func validate(t *testing.T, def api.FlowDefinition) error {
	t.Helper()
	g, err := New(&def)
	if err != nil {
		return err
	}
	return g.Validate()
}

func TestValidate_LinearFlow(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "linear",
		Steps: []api.StepDefinition{
			step("start", api.To("middle")),
			step("middle", api.To("end")),
			step("end", api.End()),
		},
	})
	if err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
}

func TestNew_DuplicateStep(t *testing.T) {
	_, err := New(&api.FlowDefinition{
		Name: "dup",
		Steps: []api.StepDefinition{
			step("start", api.To("start")),
			step("start", api.End()),
		},
	})
	var dup *api.DuplicateStepError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateStepError, got %v", err)
	}
	if dup.Step != "start" {
		t.Fatalf("unexpected duplicate step: %q", dup.Step)
	}
}

func TestValidate_UnknownTarget(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "bad-target",
		Steps: []api.StepDefinition{
			step("start", api.To("missing")),
		},
	})
	var graphErr *api.GraphError
	if !errors.As(err, &graphErr) {
		t.Fatalf("expected GraphError, got %v", err)
	}
}

func TestValidate_NoUniqueStart(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "two-starts",
		Steps: []api.StepDefinition{
			step("a", api.To("end")),
			step("b", api.To("end")),
			join("end", api.End()),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure")
	}
}

func TestValidate_NoTerminal(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "cycle",
		Steps: []api.StepDefinition{
			step("start", api.To("loop")),
			step("loop", api.To("loop")),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for flow without terminal")
	}
}

func TestValidate_UnreachableStep(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "island",
		Steps: []api.StepDefinition{
			step("start", api.To("end")),
			step("end", api.End()),
			// No predecessor and not the start: unreachable and a second start.
			step("island", api.To("end")),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for unreachable step")
	}
}

func TestValidate_StepWithBothBodies(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "both",
		Steps: []api.StepDefinition{
			{Name: "start", Fn: body, JoinFn: joinBody, Next: api.End()},
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for step with two bodies")
	}
}

func TestValidate_NonJoinWithMultiplePredecessors(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "fan-in",
		Steps: []api.StepDefinition{
			step("start", api.Split("a", "b")),
			step("a", api.To("merge")),
			step("b", api.To("merge")),
			// merge is a plain step, not a join.
			step("merge", api.End()),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for non-join fan-in")
	}
}

func TestValidate_SplitConvergesOnJoin(t *testing.T) {
	def := api.FlowDefinition{
		Name: "split",
		Steps: []api.StepDefinition{
			step("start", api.Split("a", "b")),
			step("a", api.To("a2")),
			step("a2", api.To("merge")),
			step("b", api.To("merge")),
			join("merge", api.To("end")),
			step("end", api.End()),
		},
	}
	g, err := New(&def)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
	if got := g.JoinOf("start"); got != "merge" {
		t.Fatalf("expected JoinOf(start)=merge, got %q", got)
	}
	preds := g.PredecessorsOf("merge")
	if len(preds) != 2 || preds[0] != "a2" || preds[1] != "b" {
		t.Fatalf("unexpected join predecessors: %v", preds)
	}
}

func TestValidate_BranchesReachDifferentJoins(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "diverge",
		Steps: []api.StepDefinition{
			step("start", api.Split("a", "b")),
			step("a", api.To("joinA")),
			step("b", api.To("joinB")),
			join("joinA", api.To("end")),
			join("joinB", api.To("end")),
			step("end", api.End()),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for diverging joins")
	}
}

func TestValidate_BranchEscapesWithoutJoin(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "escape",
		Steps: []api.StepDefinition{
			step("start", api.Split("a", "b")),
			step("a", api.To("merge")),
			step("b", api.End()),
			join("merge", api.To("tail")),
			step("tail", api.End()),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for branch escaping the fan-out")
	}
}

func TestValidate_JoinWithoutFanOut(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "lonely-join",
		Steps: []api.StepDefinition{
			step("start", api.To("merge")),
			join("merge", api.To("end")),
			step("end", api.End()),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for join without fan-out")
	}
}

func TestValidate_ForEach(t *testing.T) {
	def := api.FlowDefinition{
		Name: "foreach",
		Steps: []api.StepDefinition{
			step("start", api.ForEach("work", "items")),
			step("work", api.To("collect")),
			join("collect", api.To("end")),
			step("end", api.End()),
		},
	}
	g, err := New(&def)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
	if got := g.JoinOf("start"); got != "collect" {
		t.Fatalf("expected JoinOf(start)=collect, got %q", got)
	}
}

func TestValidate_ForEachWithoutSource(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "no-source",
		Steps: []api.StepDefinition{
			step("start", api.Transition{Kind: api.TransitionForEach, Targets: []api.Name{"work"}}),
			step("work", api.To("collect")),
			join("collect", api.To("end")),
			step("end", api.End()),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for foreach without source key")
	}
}

func TestValidate_NestedFanOut(t *testing.T) {
	def := api.FlowDefinition{
		Name: "nested",
		Steps: []api.StepDefinition{
			step("start", api.Split("left", "right")),
			step("left", api.ForEach("inner", "items")),
			step("inner", api.To("innerJoin")),
			join("innerJoin", api.To("outerJoin")),
			step("right", api.To("outerJoin")),
			join("outerJoin", api.To("end")),
			step("end", api.End()),
		},
	}
	g, err := New(&def)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid nested graph, got %v", err)
	}
	if got := g.JoinOf("left"); got != "innerJoin" {
		t.Fatalf("expected JoinOf(left)=innerJoin, got %q", got)
	}
	if got := g.JoinOf("start"); got != "outerJoin" {
		t.Fatalf("expected JoinOf(start)=outerJoin, got %q", got)
	}
}

func TestValidate_SplitNeedsTwoBranches(t *testing.T) {
	err := validate(t, api.FlowDefinition{
		Name: "one-branch",
		Steps: []api.StepDefinition{
			step("start", api.Split("only")),
			step("only", api.To("merge")),
			join("merge", api.To("end")),
			step("end", api.End()),
		},
	})
	if err == nil {
		t.Fatalf("expected validation failure for single-branch split")
	}
}
