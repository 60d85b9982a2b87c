package stepflow

import "context"

// WithEnvironment returns a behavior that supplies the given environment
// entries to the wrapped step body through State.Getenv. The entries live
// in the instance's env overlay; the process environment is never touched,
// so parallel branches cannot observe each other's entries.
func WithEnvironment(vars map[string]string) Behavior {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, s *State) error {
			for k, v := range vars {
				s.SetEnv(k, v)
			}
			return next(ctx, s)
		}
	}
}
