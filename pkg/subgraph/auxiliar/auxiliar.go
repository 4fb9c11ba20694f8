// Package auxiliar implements the stateless help/catch-all subgraph:
// no commit, no pending action, just a reply.
package auxiliar

import (
	"context"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph"
)

// Outcome codes: help_context carries a hint about what the session is
// still missing, help_generic is the plain menu, and help_no_shift tells
// the caregiver no active shift could be identified for their number
// (the engine's fallback when bootstrap hydration fails).
const (
	OutcomeGeneric = "help_generic"
	OutcomeContext = "help_context"
	OutcomeNoShift = "help_no_shift"
)

// Handler implements subgraph.Handler for the auxiliar flow.
type Handler struct{}

// NewHandler builds a Handler. It carries no dependencies: auxiliar never
// calls the backend, the webhook, or the LLM gateway directly — it only
// signals the outcome code the fiscal consolidator renders a help reply
// for.
func NewHandler() *Handler {
	return &Handler{}
}

var _ subgraph.Handler = (*Handler)(nil)

// Handle always succeeds immediately: there is no state machine to
// advance. help_context fires whenever the session has something
// in-flight worth hinting at — an unanswered pending action, an
// unconfirmed attendance gate, or a partially collected clinical buffer.
func (h *Handler) Handle(ctx context.Context, state *session.State, in session.Inbound) (subgraph.Outcome, error) {
	if hasContextHint(state) {
		return subgraph.Outcome{OutcomeCode: OutcomeContext}, nil
	}
	return subgraph.Outcome{OutcomeCode: OutcomeGeneric}, nil
}

func hasContextHint(state *session.State) bool {
	if state.PendingAction != nil && state.PendingAction.Status == session.PendingStaged {
		return true
	}
	if state.AttendanceGateOpen() {
		return true
	}
	if state.VitalsBuffer != (session.Vitals{}) && !state.VitalsBuffer.IsComplete() {
		return true
	}
	return false
}
