// Package escala implements the attendance-confirmation subgraph:
// idle → awaiting_user_confirm → staged →
// committed|cancelled.
package escala

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/backend"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph"
)

// Outcome codes
const (
	OutcomeStaged        = "escala_staged"
	OutcomeConfirmed     = "escala_confirmed"
	OutcomeCancelled     = "escala_cancelled"
	OutcomeCommitFailed  = "escala_commit_failed"
)

const pendingLease = 10 * time.Minute

// Bootstrapper re-seeds shift context after a successful attendance
// confirmation, ("re-bootstrap shift context").
type Bootstrapper interface {
	Hydrate(ctx context.Context, state *session.State) error
}

// Handler implements subgraph.Handler for the escala flow.
type Handler struct {
	Backend      *backend.Adapter
	Bootstrapper Bootstrapper
	Classify     func(ctx context.Context, text string) (llm.Confirmation, error)
}

// NewHandler builds a Handler.
func NewHandler(adapter *backend.Adapter, bootstrapper Bootstrapper, classify func(context.Context, string) (llm.Confirmation, error)) *Handler {
	return &Handler{Backend: adapter, Bootstrapper: bootstrapper, Classify: classify}
}

var _ subgraph.Handler = (*Handler)(nil)

// Handle advances the escala state machine by exactly one step for the
// given inbound message.
func (h *Handler) Handle(ctx context.Context, state *session.State, in session.Inbound) (subgraph.Outcome, error) {
	if state.PendingAction != nil && state.PendingAction.Flow == session.FlowEscalaCommit && state.PendingAction.Status == session.PendingStaged {
		return h.handleConfirmation(ctx, state, in)
	}
	return h.stage(ctx, state, in)
}

// stage classifies the caregiver's text as confirm/cancel and builds a
// staged pendingAction asking for confirmation, per the "On user
// 'confirm/cancel' intent" rule. When the attendance gate fired the
// caregiver is presumed to be confirming presence by default.
func (h *Handler) stage(ctx context.Context, state *session.State, in session.Inbound) (subgraph.Outcome, error) {
	confirmation, err := h.Classify(ctx, in.Text)
	if err != nil {
		return subgraph.Outcome{}, err
	}

	responseValue := "confirmado"
	if confirmation == llm.ConfirmationNo || confirmation == llm.ConfirmationCancel {
		responseValue = "cancelado"
	}

	state.PendingAction = &session.PendingAction{
		ActionID:    uuid.New().String(),
		Flow:        session.FlowEscalaCommit,
		Payload:     map[string]interface{}{"scheduleId": state.ScheduleID, "responseValue": responseValue},
		Description: "confirmar presença no plantão",
		Status:      session.PendingStaged,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(pendingLease),
	}
	return subgraph.Outcome{OutcomeCode: OutcomeStaged}, nil
}

// handleConfirmation executes or cancels the staged escala_commit
// pending action based on the caregiver's yes/no answer.
func (h *Handler) handleConfirmation(ctx context.Context, state *session.State, in session.Inbound) (subgraph.Outcome, error) {
	confirmation, err := h.Classify(ctx, in.Text)
	if err != nil {
		return subgraph.Outcome{}, err
	}

	switch confirmation {
	case llm.ConfirmationNo, llm.ConfirmationCancel:
		state.PendingAction = nil
		return subgraph.Outcome{OutcomeCode: OutcomeCancelled}, nil
	case llm.ConfirmationYes:
		return h.commit(ctx, state)
	default:
		// Unclear answer: keep the pending action staged and re-ask.
		return subgraph.Outcome{OutcomeCode: OutcomeStaged}, nil
	}
}

func (h *Handler) commit(ctx context.Context, state *session.State) (subgraph.Outcome, error) {
	responseValue, _ := state.PendingAction.Payload["responseValue"].(string)
	scheduleID, _ := state.PendingAction.Payload["scheduleId"].(string)

	_, err := h.Backend.UpdateWorkScheduleResponse(ctx, backend.UpdateWorkScheduleResponseRequest{
		ScheduleIdentifier: scheduleID,
		ResponseValue:      responseValue,
		ActionID:           state.PendingAction.ActionID,
	})
	if err != nil {
		// A transient backend failure keeps the staged pending
		// action for user retry; a permanent one clears it. The
		// engine's error-kind mapping decides which applies from the
		// returned error; escala only clears on an actual commit.
		return subgraph.Outcome{OutcomeCode: OutcomeCommitFailed}, err
	}

	state.Response = session.ResponseValue(responseValue)
	state.PendingAction = nil

	if h.Bootstrapper != nil {
		_ = h.Bootstrapper.Hydrate(ctx, state)
	}

	return subgraph.Outcome{OutcomeCode: OutcomeConfirmed}, nil
}
