package stepflow

import (
	"fmt"

	"github.com/petrijr/stepflow/pkg/api"
)

// FlowBuilder provides a fluent API for defining flows:
//
//	flow := stepflow.New("Arithmetic").
//	    Step("start", start, stepflow.To("addFifteen")).
//	    Step("addFifteen", addFifteen, stepflow.To("end")).
//	    Step("end", finish, stepflow.End())
//
//	if err := flow.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
//	run, err := stepflow.Run(ctx, engine, flow.Name(), nil)
type FlowBuilder struct {
	def api.FlowDefinition
}

// New creates a new flow builder with the given name.
func New(name Name) *FlowBuilder {
	return &FlowBuilder{
		def: api.FlowDefinition{
			Name:  name,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// Name returns the flow name.
func (b *FlowBuilder) Name() Name {
	return b.def.Name
}

// Definition returns the underlying FlowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *FlowBuilder) Definition() FlowDefinition {
	return b.def
}

// Step appends a step with the given body and outgoing transition.
func (b *FlowBuilder) Step(name Name, fn StepFunc, next Transition) *FlowBuilder {
	if name == "" {
		panic("stepflow: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("stepflow: step %q has nil function", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name: name,
		Fn:   fn,
		Next: next,
	})
	return b
}

// StepWithRetry appends a step that uses the given retry policy.
func (b *FlowBuilder) StepWithRetry(name Name, fn StepFunc, next Transition, retry RetryPolicy) *FlowBuilder {
	if name == "" {
		panic("stepflow: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("stepflow: step %q has nil function", name))
	}

	// Make a copy so callers can mutate their RetryPolicy after the call
	// without affecting the stored definition.
	r := retry

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Next:  next,
		Retry: &r,
	})
	return b
}

// Join appends a join step collecting the branches of the most recent
// enclosing split or foreach. The join body receives the sibling states in
// deterministic order: branch declaration order for splits, source slice
// order for foreach.
func (b *FlowBuilder) Join(name Name, fn JoinFunc, next Transition) *FlowBuilder {
	if name == "" {
		panic("stepflow: join name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("stepflow: join %q has nil function", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:   name,
		JoinFn: fn,
		Next:   next,
	})
	return b
}

// JoinWithRetry appends a join step that uses the given retry policy.
func (b *FlowBuilder) JoinWithRetry(name Name, fn JoinFunc, next Transition, retry RetryPolicy) *FlowBuilder {
	if name == "" {
		panic("stepflow: join name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("stepflow: join %q has nil function", name))
	}

	r := retry

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:   name,
		JoinFn: fn,
		Next:   next,
		Retry:  &r,
	})
	return b
}

// With attaches behavior modifiers to the most recently added step. The
// first behavior is the outermost wrapper around the step body.
func (b *FlowBuilder) With(behaviors ...Behavior) *FlowBuilder {
	if len(b.def.Steps) == 0 {
		panic("stepflow: With called before any step was added")
	}
	last := &b.def.Steps[len(b.def.Steps)-1]
	if last.JoinFn != nil {
		panic(fmt.Sprintf("stepflow: behaviors are not supported on join %q", last.Name))
	}
	last.Behaviors = append(last.Behaviors, behaviors...)
	return b
}

// Param declares a string parameter with help text and a default value.
// Parameter values are seeded into the run-level artifact namespace before
// the start step executes.
func (b *FlowBuilder) Param(name Key, help, def string) *FlowBuilder {
	return b.addParam(api.ParamSpec{Name: name, Help: help, Kind: api.ParamString, Default: def})
}

// IntParam declares an integer parameter.
func (b *FlowBuilder) IntParam(name Key, help string, def int) *FlowBuilder {
	return b.addParam(api.ParamSpec{Name: name, Help: help, Kind: api.ParamInt, Default: def})
}

// FileParam declares a file-backed parameter. The outer command layer
// resolves its value to the named file's contents before the run starts;
// steps see the contents as a string artifact.
func (b *FlowBuilder) FileParam(name Key, help, defaultPath string) *FlowBuilder {
	return b.addParam(api.ParamSpec{Name: name, Help: help, Kind: api.ParamFile, Default: defaultPath})
}

func (b *FlowBuilder) addParam(spec api.ParamSpec) *FlowBuilder {
	if spec.Name == "" {
		panic("stepflow: parameter name must not be empty")
	}
	for _, p := range b.def.Params {
		if p.Name == spec.Name {
			panic(fmt.Sprintf("stepflow: parameter %q declared twice", spec.Name))
		}
	}
	b.def.Params = append(b.def.Params, spec)
	return b
}

// Register registers the built flow with the given engine. The engine
// validates the step graph; structural violations are returned as
// *GraphError.
func (b *FlowBuilder) Register(eng Engine) error {
	return eng.RegisterFlow(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
