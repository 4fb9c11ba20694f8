// Package subgraph defines the shared contract every per-intent subgraph
// (escala, clinico, operacional, finalizar, auxiliar) implements, and the
// Outcome type the engine consumes to drive persistence, the fiscal
// consolidator, and the one-hop continuation rule.
package subgraph

import (
	"context"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
)

// Outcome is what a subgraph hands back to the engine after mutating the
// in-memory *session.State it was given. A subgraph never persists state
// itself and never writes an HTTP response; it only decides what happened
// and, optionally, that the turn isn't over yet.
type Outcome struct {
	// OutcomeCode is fed to the fiscal consolidator's GenerateReply call
	// and, on LLMUnavailable, selects the deterministic template.
	OutcomeCode string

	// Continue signals that the router should re-evaluate the gate
	// ladder against the (already mutated) state within the same turn —
	// e.g. escala just auto-confirmed and the caregiver's original
	// message still has clinical content worth routing. The engine
	// enforces the one-hop cap; a subgraph must never set Continue twice
	// for the same inbound message.
	Continue bool

	// ContinueReason documents why Continue was requested, for logging.
	ContinueReason string
}

// Handler is the per-subgraph state machine contract. Implementations may
// only mutate the *session.State they are given; they must not persist it
// or call anything that blocks past the per-request deadline in ctx.
type Handler interface {
	Handle(ctx context.Context, state *session.State, in session.Inbound) (Outcome, error)
}
