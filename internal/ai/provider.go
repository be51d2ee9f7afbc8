package ai

import "context"

// Generator produces one automated participant's answer to a round prompt.
// Implementations may time out or fail; callers supply a deterministic
// fallback via Fallback.
type Generator interface {
	Generate(ctx context.Context, personality, prompt string, priorResponses []string) (string, error)
}
