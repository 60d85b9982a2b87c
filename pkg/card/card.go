// Package card renders HTML report cards from step artifacts.
//
// A card is attached to a step as a behavior: after the step body returns
// successfully, the card template is rendered against the artifacts visible
// to that step and the resulting HTML is stored on the run. The outer
// command layer writes stored cards to files for viewing.
package card

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/petrijr/stepflow/pkg/api"
)

// Renderer renders one HTML card template against a step's artifact
// snapshot. The template sees the snapshot as its data: {{.key}} resolves
// the artifact named "key".
type Renderer struct {
	tmpl *template.Template
}

// New parses the template source. The name shows up in template error
// messages.
func New(name, src string) (*Renderer, error) {
	tmpl, err := template.New(name).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("card %s: %w", name, err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Must is like New but panics on a parse error.
// Useful for templates defined as package-level constants.
func Must(name, src string) *Renderer {
	r, err := New(name, src)
	if err != nil {
		panic(err)
	}
	return r
}

// Render produces the card HTML for the given artifact snapshot.
func (r *Renderer) Render(data map[api.Key]any) (string, error) {
	// Re-key as plain strings so {{.key}} resolves in the template.
	plain := make(map[string]any, len(data))
	for k, v := range data {
		plain[string(k)] = v
	}

	var buf strings.Builder
	if err := r.tmpl.Execute(&buf, plain); err != nil {
		return "", fmt.Errorf("card %s: %w", r.tmpl.Name(), err)
	}
	return buf.String(), nil
}

// Behavior wraps a step body so that, once the body succeeds, the card is
// rendered from everything visible to the step (buffered writes included)
// and attached to the run under the step's name. A render failure fails
// the attempt and is subject to the step's retry policy.
func (r *Renderer) Behavior() api.Behavior {
	return func(next api.StepFunc) api.StepFunc {
		return func(ctx context.Context, s *api.State) error {
			if err := next(ctx, s); err != nil {
				return err
			}
			html, err := r.Render(s.Snapshot())
			if err != nil {
				return err
			}
			s.Run().AttachCard(s.StepName(), html)
			return nil
		}
	}
}
