// Package operacional implements the single-shot urgent operational-note
// subgraph: no two-phase commit, no sub-state — detect,
// post to the webhook, done.
package operacional

import (
	"context"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/webhook"
)

// Outcome codes
const (
	OutcomeDelivered      = "operational_delivered"
	OutcomeDeliveryFailed = "operational_delivery_failed"
)

// Handler implements subgraph.Handler for the operacional flow.
type Handler struct {
	Webhook *webhook.Client
	Gateway llm.Gateway
}

// NewHandler builds a Handler.
func NewHandler(webhookClient *webhook.Client, gateway llm.Gateway) *Handler {
	return &Handler{Webhook: webhookClient, Gateway: gateway}
}

var _ subgraph.Handler = (*Handler)(nil)

// Handle posts the urgent note to the operational webhook and returns to
// whichever flow the router interrupted, per the "operational notes
// never enter a pending-confirmation state" rule.
func (h *Handler) Handle(ctx context.Context, state *session.State, in session.Inbound) (subgraph.Outcome, error) {
	detection, err := h.Gateway.OperationalNoteDetect(ctx, in.Text)
	if err != nil {
		return subgraph.Outcome{}, err
	}

	err = h.Webhook.PostOperational(ctx, webhook.OperationalPayload{
		SessionID:    state.SessionID,
		ClinicalNote: in.Text,
		Urgency:      string(detection.Urgency),
	})
	if err != nil {
		return subgraph.Outcome{OutcomeCode: OutcomeDeliveryFailed}, err
	}

	outcome := subgraph.Outcome{OutcomeCode: OutcomeDelivered}

	// One-hop continuation: a staged pending action survives the
	// operational divert untouched, so re-run the
	// gate ladder once in the same turn instead of making the caregiver
	// repeat themselves on the next message.
	if state.PendingAction != nil && state.PendingAction.Status == session.PendingStaged {
		outcome.Continue = true
		outcome.ContinueReason = "resume_pending_after_operational_note"
	}

	return outcome, nil
}
