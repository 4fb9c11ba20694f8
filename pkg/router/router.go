// Package router implements the deterministic gate ladder that picks a
// subgraph for each inbound message. Decide is pure: no
// I/O, no locking, just state plus one already-resolved LLM classification
// per gate that needed one. The engine is responsible for calling the LLM
// gateway and feeding its results in; the router only ever branches on
// them.
package router

import (
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
)

// Gate names the subgraph Decide selected and which rung of the ladder
// fired, for logging and the gate-order truth table tests.
type Gate struct {
	Subgraph Subgraph
	Reason   string
}

// Subgraph is the five routable destinations plus the catch-all.
type Subgraph string

const (
	SubgraphEscala      Subgraph = "escala"
	SubgraphClinico     Subgraph = "clinico"
	SubgraphOperacional Subgraph = "operacional"
	SubgraphFinalizar   Subgraph = "finalizar"
	SubgraphAuxiliar    Subgraph = "auxiliar"
)

// Classifications carries the already-resolved LLM outputs Decide may
// need. The engine decides which of these to actually fetch based on
// which gates are still live for the given state, so unused fields may
// be zero value.
type Classifications struct {
	OperationalNote llm.OperationalNoteResult
	Confirmation    llm.Confirmation
	Intent          llm.IntentResult
}

var intentToSubgraph = map[llm.Intent]Subgraph{
	llm.IntentEscala:      SubgraphEscala,
	llm.IntentClinico:     SubgraphClinico,
	llm.IntentOperacional: SubgraphOperacional,
	llm.IntentFinalizar:   SubgraphFinalizar,
	llm.IntentAuxiliar:    SubgraphAuxiliar,
	llm.IntentIndefinido:  SubgraphAuxiliar,
}

// Decide evaluates the five gates in their exact fixed order and returns
// the first one that fires. classifications must already reflect any LLM
// calls the caller made available for this state; Decide performs no I/O.
func Decide(state *session.State, classifications Classifications) Gate {
	// Gate 1: finish-gate. finishReminderSent overrides all routing to
	// finalizar, except a pending action staged for a different flow
	// wins when the incoming text is itself a confirmation answer.
	if state.FinishReminderSent {
		if state.PendingAction != nil &&
			state.PendingAction.Status == session.PendingStaged &&
			state.PendingAction.Flow != session.FlowFinalizeCommit &&
			isConfirmationAnswer(classifications.Confirmation) {
			return gateForPendingAction(state.PendingAction, classifications)
		}
		return Gate{Subgraph: SubgraphFinalizar, Reason: "finish_gate"}
	}

	// Gate 2: pending-confirmation. A staged pending action claims the
	// next message as confirmation input unless it is urgent operational
	// content, which diverts without cancelling the pending action.
	if state.PendingAction != nil && state.PendingAction.Status == session.PendingStaged {
		if classifications.OperationalNote.IsOperational {
			return Gate{Subgraph: SubgraphOperacional, Reason: "pending_confirmation_operational_divert"}
		}
		return gateForPendingAction(state.PendingAction, classifications)
	}

	// Gate 3: operational-note.
	if classifications.OperationalNote.IsOperational {
		return Gate{Subgraph: SubgraphOperacional, Reason: "operational_note"}
	}

	// Gate 4: attendance-gate (invariant 1).
	if state.AttendanceGateOpen() {
		return Gate{Subgraph: SubgraphEscala, Reason: "attendance_gate"}
	}

	// Gate 5: LLM intent, mapped 1:1; indefinido falls back to auxiliar.
	subgraph, ok := intentToSubgraph[classifications.Intent.Intent]
	if !ok {
		subgraph = SubgraphAuxiliar
	}
	return Gate{Subgraph: subgraph, Reason: "llm_intent"}
}

// isConfirmationAnswer reports whether the classifier recognized the
// text as an actual yes/no/cancel answer; "unclear" (or an unfetched
// classification) is not one, so the finish-gate keeps its override.
func isConfirmationAnswer(c llm.Confirmation) bool {
	switch c {
	case llm.ConfirmationYes, llm.ConfirmationNo, llm.ConfirmationCancel:
		return true
	default:
		return false
	}
}

// gateForPendingAction routes a confirmation answer back to the subgraph
// that owns the staged pending action, applying the defensive tie-break:
// finalizar only wins a simultaneous escala/finalizar fire when the
// pending action itself is a finalize_commit.
func gateForPendingAction(pending *session.PendingAction, classifications Classifications) Gate {
	switch pending.Flow {
	case session.FlowEscalaCommit:
		return Gate{Subgraph: SubgraphEscala, Reason: "pending_confirmation"}
	case session.FlowClinicalCommit:
		return Gate{Subgraph: SubgraphClinico, Reason: "pending_confirmation"}
	case session.FlowFinalizeCommit:
		return Gate{Subgraph: SubgraphFinalizar, Reason: "pending_confirmation"}
	default:
		return Gate{Subgraph: SubgraphAuxiliar, Reason: "pending_confirmation_unknown_flow"}
	}
}

// NeedsOperationalNoteCheck reports whether Decide's gates 2 and 3 depend
// on an OperationalNoteDetect call for this state, so the engine can skip
// the LLM call entirely when the finish gate will already short-circuit:
// FinishReminderSent is set and no pending action other than a finalize
// commit is open.
func NeedsOperationalNoteCheck(state *session.State) bool {
	if state.FinishReminderSent && (state.PendingAction == nil || state.PendingAction.Flow == session.FlowFinalizeCommit) {
		return false
	}
	return true
}

// NeedsIntentClassify reports whether Decide will actually reach gate 5
// for this state, so the engine can skip IntentClassify when an earlier
// gate is certain to fire.
func NeedsIntentClassify(state *session.State, operationalNote llm.OperationalNoteResult) bool {
	if state.FinishReminderSent {
		return false
	}
	if state.PendingAction != nil && state.PendingAction.Status == session.PendingStaged && !operationalNote.IsOperational {
		return false
	}
	if operationalNote.IsOperational {
		return false
	}
	if state.AttendanceGateOpen() {
		return false
	}
	return true
}
