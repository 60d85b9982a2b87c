package api

import (
	"errors"
	"testing"
)

func newTestState(step Name, base map[Key]any) *State {
	run := &Run{ID: "run-1", FlowName: "test-flow"}
	return NewState(run, step, NewBindings(base).Fork())
}

func TestBindings_ForkIsolation(t *testing.T) {
	base := NewBindings(map[Key]any{"seed": 1})

	a := base.Fork()
	b := base.Fork()
	a.values["x"] = "from-a"

	if _, ok := b.Lookup("x"); ok {
		t.Fatalf("write in one fork visible in sibling fork")
	}
	if v, ok := a.Lookup("seed"); !ok || v != 1 {
		t.Fatalf("fork lost base value, got %v, %v", v, ok)
	}
}

func TestBindings_NearestLayerWins(t *testing.T) {
	base := NewBindings(map[Key]any{"x": "base"})
	child := base.Fork()
	child.values["x"] = "child"
	grandchild := child.Fork()

	if v, _ := grandchild.Lookup("x"); v != "child" {
		t.Fatalf("expected nearest layer to win, got %v", v)
	}
}

func TestState_SetIsWriteOncePerInstance(t *testing.T) {
	s := newTestState("step", nil)

	if err := s.Set("x", 1); err != nil {
		t.Fatalf("first Set failed: %v", err)
	}

	err := s.Set("x", 2)
	var already *ArtifactAlreadySetError
	if !errors.As(err, &already) {
		t.Fatalf("expected ArtifactAlreadySetError, got %v", err)
	}
	if already.Step != "step" || already.Key != "x" {
		t.Fatalf("unexpected error details: %+v", already)
	}
}

// A committed write also blocks a second write by the same instance, but a
// successor instance may shadow the key.
func TestState_SuccessorMayShadow(t *testing.T) {
	s := newTestState("first", nil)
	if err := s.Set("x", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Commit()

	if err := s.Set("x", 2); err == nil {
		t.Fatalf("expected rewrite of committed key to fail")
	}

	next := s.Fork("second")
	if err := next.Set("x", 2); err != nil {
		t.Fatalf("successor shadow failed: %v", err)
	}
	next.Commit()

	if v, _ := next.Lookup("x"); v != 2 {
		t.Fatalf("expected shadowed value 2, got %v", v)
	}
	if v, _ := s.Lookup("x"); v != 1 {
		t.Fatalf("predecessor value changed, got %v", v)
	}
}

// Buffered writes are invisible to successors until Commit, and Discard
// drops them entirely.
func TestState_CommitAndDiscard(t *testing.T) {
	s := newTestState("step", nil)

	if err := s.Set("x", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok := s.Bindings().Lookup("x"); ok {
		t.Fatalf("pending write leaked into committed layer")
	}

	s.Discard()
	if _, ok := s.Lookup("x"); ok {
		t.Fatalf("discarded write still visible")
	}

	// A fresh attempt may rewrite the discarded key.
	s.BeginAttempt(2)
	if err := s.Set("x", 2); err != nil {
		t.Fatalf("Set after Discard failed: %v", err)
	}
	s.Commit()
	if v, ok := s.Bindings().Lookup("x"); !ok || v != 2 {
		t.Fatalf("expected committed x=2, got %v, %v", v, ok)
	}
}

func TestState_GetMissingArtifact(t *testing.T) {
	s := newTestState("step", nil)

	_, err := s.Get("missing")
	var notFound *ArtifactNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ArtifactNotFoundError, got %v", err)
	}
}

func TestState_FrozenRejectsWrites(t *testing.T) {
	s := newTestState("step", nil)
	frozen := s.Frozen()

	if err := frozen.Set("x", 1); err == nil {
		t.Fatalf("expected Set on frozen state to fail")
	}
}

func TestGetAs_TypeMismatch(t *testing.T) {
	s := newTestState("step", map[Key]any{"x": "not-an-int"})

	if _, err := GetAs[int](s, "x"); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	v, err := GetAs[string](s, "x")
	if err != nil || v != "not-an-int" {
		t.Fatalf("expected string value, got %v, %v", v, err)
	}
}

func TestState_Snapshot(t *testing.T) {
	s := newTestState("step", map[Key]any{"base": 1})
	if err := s.Set("pending", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	snap := s.Snapshot()
	if snap["base"] != 1 || snap["pending"] != 2 {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
}

func TestState_EnvOverlay(t *testing.T) {
	s := newTestState("step", nil)

	s.SetEnv("STEPFLOW_STATE_TEST", "overlay")
	if got := s.Getenv("STEPFLOW_STATE_TEST"); got != "overlay" {
		t.Fatalf("expected overlay value, got %q", got)
	}

	// The overlay belongs to the instance, not its successors.
	next := s.Fork("next")
	if got := next.Getenv("STEPFLOW_STATE_TEST"); got != "" {
		t.Fatalf("overlay leaked to successor: %q", got)
	}
}

// mergeFixture builds a fan-out: an ancestor layer, two sibling branch
// states with committed writes, and a join state forked from the ancestor.
func mergeFixture(t *testing.T, writes ...map[Key]any) (*State, []*State) {
	t.Helper()

	run := &Run{ID: "run-1", FlowName: "merge-flow"}
	ancestor := NewState(run, "fanout", NewBindings(nil).Fork())
	ancestor.Commit()

	inputs := make([]*State, len(writes))
	for i, w := range writes {
		branch := ancestor.Fork(Name("branch"))
		for k, v := range w {
			if err := branch.Set(k, v); err != nil {
				t.Fatalf("branch Set failed: %v", err)
			}
		}
		branch.Commit()
		inputs[i] = branch.Frozen()
	}

	return ancestor.Fork("join"), inputs
}

func TestMergeBranches_DistinctKeys(t *testing.T) {
	join, inputs := mergeFixture(t,
		map[Key]any{"a": 1},
		map[Key]any{"b": 2},
	)

	if err := join.MergeBranches(inputs[0].bindings.parent, inputs); err != nil {
		t.Fatalf("MergeBranches failed: %v", err)
	}
	if v, _ := join.Lookup("a"); v != 1 {
		t.Fatalf("expected merged a=1, got %v", v)
	}
	if v, _ := join.Lookup("b"); v != 2 {
		t.Fatalf("expected merged b=2, got %v", v)
	}
}

func TestMergeBranches_IdenticalValuesMergeSilently(t *testing.T) {
	join, inputs := mergeFixture(t,
		map[Key]any{"same": []int{1, 2}},
		map[Key]any{"same": []int{1, 2}},
	)

	if err := join.MergeBranches(inputs[0].bindings.parent, inputs); err != nil {
		t.Fatalf("MergeBranches failed: %v", err)
	}
	if _, ok := join.Lookup("same"); !ok {
		t.Fatalf("identically written key missing after merge")
	}
}

func TestMergeBranches_UnresolvedConflictFails(t *testing.T) {
	join, inputs := mergeFixture(t,
		map[Key]any{"x": 1},
		map[Key]any{"x": 2},
	)

	err := join.MergeBranches(inputs[0].bindings.parent, inputs)
	var conflict *ArtifactConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ArtifactConflictError, got %v", err)
	}
	if conflict.Join != "join" || conflict.Key != "x" {
		t.Fatalf("unexpected conflict details: %+v", conflict)
	}
}

// A divergent key the join wrote itself is resolved: the join's value wins.
func TestMergeBranches_JoinWriteResolvesConflict(t *testing.T) {
	join, inputs := mergeFixture(t,
		map[Key]any{"x": 1},
		map[Key]any{"x": 2},
	)

	if err := join.Set("x", 3); err != nil {
		t.Fatalf("join Set failed: %v", err)
	}
	join.Commit()

	if err := join.MergeBranches(inputs[0].bindings.parent, inputs); err != nil {
		t.Fatalf("MergeBranches failed: %v", err)
	}
	if v, _ := join.Lookup("x"); v != 3 {
		t.Fatalf("expected join's value 3 to win, got %v", v)
	}
}

// A divergent key the join read through an input is resolved by dropping
// it from the merge.
func TestMergeBranches_InputReadResolvesConflict(t *testing.T) {
	join, inputs := mergeFixture(t,
		map[Key]any{"x": 1},
		map[Key]any{"x": 2},
	)

	for _, in := range inputs {
		if _, err := in.Get("x"); err != nil {
			t.Fatalf("input Get failed: %v", err)
		}
	}

	if err := join.MergeBranches(inputs[0].bindings.parent, inputs); err != nil {
		t.Fatalf("MergeBranches failed: %v", err)
	}
	if _, ok := join.Lookup("x"); ok {
		t.Fatalf("divergent key should be dropped after resolution by read")
	}
}
