package api

import (
	"fmt"
	"os"
	"reflect"
)

// Bindings is one layer of the copy-on-write artifact namespace. Each step
// instance owns one layer; reads resolve through the parent chain down to
// the run-level base, so unmodified artifacts remain visible without
// copying. The base layer is immutable once the run starts; only the layer
// belonging to the currently executing instance is ever written, which
// rules out write-write races between parallel branches by construction.
type Bindings struct {
	parent *Bindings
	values map[Key]any
}

// NewBindings returns a run-level base layer seeded with the given values
// (typically the resolved flow parameters).
func NewBindings(values map[Key]any) *Bindings {
	base := make(map[Key]any, len(values))
	for k, v := range values {
		base[k] = v
	}
	return &Bindings{values: base}
}

// Fork returns a fresh empty layer on top of b. The child sees everything
// b sees; writes to the child are invisible to b and its other children.
func (b *Bindings) Fork() *Bindings {
	return &Bindings{parent: b, values: make(map[Key]any)}
}

// Lookup resolves key through the overlay chain.
func (b *Bindings) Lookup(key Key) (any, bool) {
	for layer := b; layer != nil; layer = layer.parent {
		if v, ok := layer.values[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// flattenSince collects every write made in the layers above ancestor
// (exclusive), nearest layer winning, i.e. the most recent write of a key
// along the chain.
func (b *Bindings) flattenSince(ancestor *Bindings) map[Key]any {
	out := make(map[Key]any)
	for layer := b; layer != nil && layer != ancestor; layer = layer.parent {
		for k, v := range layer.values {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

// Snapshot flattens the full chain into a plain map.
func (b *Bindings) Snapshot() map[Key]any {
	return b.flattenSince(nil)
}

// State is the run-scoped handle passed to every step body invocation. It
// carries the instance's artifact overlay, the buffered writes of the
// current attempt, and read-only run metadata. It replaces any notion of
// ambient "current run" globals: all metadata flows through this handle.
//
// States are constructed by the engine; step bodies only consume them.
type State struct {
	run      *Run
	step     Name
	attempt  int
	item     any
	index    int
	bindings *Bindings
	pending  map[Key]any
	env      map[string]string
	readOnly bool

	// reads logs artifact keys resolved through this handle. Only set on
	// the frozen inputs of a join; a divergent sibling write the join has
	// read counts as resolved and is excluded from the merge.
	reads map[Key]bool
}

// NewState returns a state handle for one instance of the named step,
// owning the given overlay layer. Used by the engine.
func NewState(run *Run, step Name, b *Bindings) *State {
	return &State{
		run:      run,
		step:     step,
		index:    -1,
		bindings: b,
		pending:  make(map[Key]any),
	}
}

// Fork returns the state for a successor instance of the named step, with
// a fresh overlay layered on this instance's committed bindings.
func (s *State) Fork(step Name) *State {
	return NewState(s.run, step, s.bindings.Fork())
}

// Frozen returns a read-only view of this state, as handed to join bodies.
func (s *State) Frozen() *State {
	frozen := *s
	frozen.readOnly = true
	frozen.reads = make(map[Key]bool)
	return &frozen
}

// BindItem attaches the foreach item this branch instance processes.
// Used by the engine; idx is the item's position in the source slice.
func (s *State) BindItem(item any, idx int) {
	s.item = item
	s.index = idx
}

// BeginAttempt resets the buffered writes for a fresh attempt. A failed
// attempt therefore leaves no partial artifacts behind.
func (s *State) BeginAttempt(n int) {
	s.attempt = n
	s.pending = make(map[Key]any)
}

// Commit publishes the buffered writes into the instance's own layer.
// Called by the engine after the body returns nil.
func (s *State) Commit() {
	for k, v := range s.pending {
		s.bindings.values[k] = v
	}
	s.pending = make(map[Key]any)
}

// Discard drops the buffered writes of a failed attempt.
func (s *State) Discard() {
	s.pending = make(map[Key]any)
}

// Bindings exposes the instance's committed overlay. Used by the engine
// for fan-out bookkeeping.
func (s *State) Bindings() *Bindings {
	return s.bindings
}

// RunID returns the identifier of the enclosing run.
func (s *State) RunID() string {
	return s.run.ID
}

// FlowName returns the name of the flow being executed.
func (s *State) FlowName() Name {
	return s.run.FlowName
}

// StepName returns the name of the currently executing step.
func (s *State) StepName() Name {
	return s.step
}

// Attempt returns the 1-based attempt number of the current invocation.
func (s *State) Attempt() int {
	return s.attempt
}

// Input returns the foreach item bound to this branch instance, or nil for
// instances not produced by a foreach transition.
func (s *State) Input() any {
	return s.item
}

// Index returns the foreach item's position in the source slice, or -1.
func (s *State) Index() int {
	return s.index
}

// Run returns the enclosing run. Behaviors use it to attach rendered cards.
func (s *State) Run() *Run {
	return s.run
}

// Set buffers an artifact write. Each instance may write a key at most
// once; a successor instance may shadow the key with its own value. The
// write becomes visible to successors only if the body returns nil.
func (s *State) Set(key Key, value any) error {
	if s.readOnly {
		return fmt.Errorf("step %q: state is read-only", s.step)
	}
	if _, ok := s.pending[key]; ok {
		return &ArtifactAlreadySetError{Step: s.step, Key: key}
	}
	if _, ok := s.bindings.values[key]; ok {
		return &ArtifactAlreadySetError{Step: s.step, Key: key}
	}
	s.pending[key] = value
	return nil
}

// Get reads an artifact, resolving buffered writes first, then the overlay
// chain down to the run-level base.
func (s *State) Get(key Key) (any, error) {
	if v, ok := s.Lookup(key); ok {
		return v, nil
	}
	return nil, &ArtifactNotFoundError{Step: s.step, Key: key}
}

// Lookup is like Get but reports absence with a bool instead of an error.
func (s *State) Lookup(key Key) (any, bool) {
	if s.reads != nil {
		s.reads[key] = true
	}
	if v, ok := s.pending[key]; ok {
		return v, true
	}
	return s.bindings.Lookup(key)
}

// Snapshot flattens everything currently visible to this instance,
// buffered writes included. Card templates render against it.
func (s *State) Snapshot() map[Key]any {
	snap := s.bindings.Snapshot()
	for k, v := range s.pending {
		snap[k] = v
	}
	return snap
}

// SetEnv records an environment overlay entry for this instance. Intended
// for behaviors; entries never touch the process environment.
func (s *State) SetEnv(name, value string) {
	if s.env == nil {
		s.env = make(map[string]string)
	}
	s.env[name] = value
}

// Getenv resolves an environment variable through the instance overlay
// first, falling back to the process environment.
func (s *State) Getenv(name string) string {
	if v, ok := s.env[name]; ok {
		return v
	}
	return os.Getenv(name)
}

// MergeBranches folds each sibling's writes since ancestor into a layer
// inserted beneath this (join) instance's own layer, so the join's writes
// shadow the merged sibling writes. inputs are the frozen sibling states the
// join body received. A key committed with differing values by two siblings
// counts as resolved if the join wrote it itself (its value wins) or read it
// through any input (the divergent values are dropped from the merge); an
// unresolved divergence yields an ArtifactConflictError. Used by the engine
// after the join body commits.
func (s *State) MergeBranches(ancestor *Bindings, inputs []*State) error {
	read := make(map[Key]bool)
	for _, in := range inputs {
		for k := range in.reads {
			read[k] = true
		}
	}

	merged := make(map[Key]any)
	dropped := make(map[Key]bool)
	for _, in := range inputs {
		for k, v := range in.bindings.flattenSince(ancestor) {
			if _, resolved := s.bindings.values[k]; resolved {
				continue
			}
			if dropped[k] {
				continue
			}
			if prev, ok := merged[k]; ok {
				if !reflect.DeepEqual(prev, v) {
					if !read[k] {
						return &ArtifactConflictError{Join: s.step, Key: k}
					}
					delete(merged, k)
					dropped[k] = true
				}
				continue
			}
			merged[k] = v
		}
	}
	s.bindings.parent = &Bindings{parent: ancestor, values: merged}
	return nil
}

// GetAs reads an artifact and asserts its concrete type.
func GetAs[T any](s *State, key Key) (T, error) {
	var zero T
	v, err := s.Get(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("step %q: artifact %q is %T, not %T", s.step, key, v, zero)
	}
	return typed, nil
}
