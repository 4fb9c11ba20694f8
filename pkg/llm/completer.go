package llm

import "context"

// completer is the minimal single-call contract every provider backend
// implements; the Gateway layers prompt construction, JSON parsing, the
// malformed-JSON retry budget, and circuit breaking on top of it so each
// provider file stays a thin SDK adapter.
type completer interface {
	// Complete sends systemPrompt and userPrompt to the model at
	// temperature 0 and returns its raw text response.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
