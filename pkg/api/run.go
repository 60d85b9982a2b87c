package api

import "sync"

// Run is one execution instance of a flow.
type Run struct {
	ID       string
	FlowName Name
	Status   Status

	// CurrentStep is the most recently started step, or the failing step
	// once the run has failed.
	CurrentStep Name

	// Err holds the fatal error of a failed run.
	Err error

	// Artifacts is the terminal artifact snapshot: everything visible to
	// the terminal step once it committed. Populated when the run reaches
	// StatusCompleted, and best-effort on failure.
	Artifacts map[Key]any

	// Cards holds rendered HTML cards keyed by the producing step. Access
	// during a run must go through AttachCard / Card; direct map access is
	// only safe once the run has finished.
	Cards map[Name]string

	mu sync.Mutex
}

// SetCurrentStep records the step the engine is about to execute. Safe
// for concurrent use by parallel branch instances.
func (r *Run) SetCurrentStep(step Name) {
	r.mu.Lock()
	r.CurrentStep = step
	r.mu.Unlock()
}

// Clone returns a consistent shallow copy of the run, safe to hand to a
// store while branch instances are still mutating the original.
func (r *Run) Clone() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := &Run{
		ID:          r.ID,
		FlowName:    r.FlowName,
		Status:      r.Status,
		CurrentStep: r.CurrentStep,
		Err:         r.Err,
		Artifacts:   r.Artifacts,
	}
	if r.Cards != nil {
		clone.Cards = make(map[Name]string, len(r.Cards))
		for k, v := range r.Cards {
			clone.Cards[k] = v
		}
	}
	return clone
}

// AttachCard stores a rendered card for the given step. Safe for
// concurrent use by parallel branch instances.
func (r *Run) AttachCard(step Name, html string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Cards == nil {
		r.Cards = make(map[Name]string)
	}
	r.Cards[step] = html
}

// Card returns the rendered card for the given step, if any.
func (r *Run) Card(step Name) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	html, ok := r.Cards[step]
	return html, ok
}
