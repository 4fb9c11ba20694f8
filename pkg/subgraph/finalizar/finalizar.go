// Package finalizar implements the shift-close subgraph: collecting the 8 finalization topics incrementally, then a
// two-phase commit of the full report summary.
package finalizar

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/backend"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/webhook"
)

// Outcome codes
const (
	OutcomeTopicCollected = "finalize_topic_collected"
	OutcomeStaged         = "finalize_staged"
	OutcomeCommitted      = "finalize_committed"
	OutcomeCommitFailed   = "finalize_commit_failed"
)

const pendingLease = 10 * time.Minute

// Handler implements subgraph.Handler for the finalizar flow.
type Handler struct {
	Backend *backend.Adapter
	Webhook *webhook.Client
	Gateway llm.Gateway
}

// NewHandler builds a Handler. webhookClient may be nil, in which case
// newly filled topics are held back until the summary commit.
func NewHandler(adapter *backend.Adapter, webhookClient *webhook.Client, gateway llm.Gateway) *Handler {
	return &Handler{Backend: adapter, Webhook: webhookClient, Gateway: gateway}
}

var _ subgraph.Handler = (*Handler)(nil)

// Handle advances the finalizar state machine by exactly one step.
func (h *Handler) Handle(ctx context.Context, state *session.State, in session.Inbound) (subgraph.Outcome, error) {
	if state.PendingAction != nil && state.PendingAction.Flow == session.FlowFinalizeCommit && state.PendingAction.Status == session.PendingStaged {
		return h.handleConfirmation(ctx, state, in)
	}

	already := toResult(state.FinalizationTopics)
	before := state.FinalizationTopics

	extracted, err := h.Gateway.FinalizationTopicExtract(ctx, h.seededText(ctx, state, in.Text), already)
	if err != nil {
		return subgraph.Outcome{}, err
	}
	mergeInto(&state.FinalizationTopics, extracted)
	h.postNewTopics(ctx, state, before)

	if !state.FinalizationTopics.IsComplete() {
		return subgraph.Outcome{OutcomeCode: OutcomeTopicCollected}, nil
	}

	return h.stage(state)
}

// seededText prepends the shift's already-submitted notes to the first
// finalization message, fetched via getNoteReport so the topic extractor
// can reuse what the caregiver already wrote during the shift.
func (h *Handler) seededText(ctx context.Context, state *session.State, text string) string {
	if state.ReportID == "" || state.FinalizationTopics != (session.FinalizationTopics{}) {
		return text
	}
	notes, err := h.Backend.GetNoteReport(ctx, backend.GetNoteReportRequest{
		ReportID:   state.ReportID,
		ReportDate: state.ReportDate,
	})
	if err != nil || len(notes.Notes) == 0 {
		// Seeding is best-effort: the loop still collects every topic
		// from the caregiver directly.
		return text
	}

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nAnotações já registradas no plantão:")
	for _, n := range notes.Notes {
		sb.WriteString("\n- ")
		sb.WriteString(n.NoteDescAI)
	}
	return sb.String()
}

// postNewTopics delivers each topic this message newly filled to the
// workflow webhook, so downstream consumers see progress without waiting
// for the summary commit.
func (h *Handler) postNewTopics(ctx context.Context, state *session.State, before session.FinalizationTopics) {
	if h.Webhook == nil {
		return
	}
	after := state.FinalizationTopics
	pairs := []struct {
		topic      string
		was, now *string
	}{
		{"alimentacao", before.Alimentacao, after.Alimentacao},
		{"evacuacoes", before.Evacuacoes, after.Evacuacoes},
		{"sono", before.Sono, after.Sono},
		{"humor", before.Humor, after.Humor},
		{"medicacoes", before.Medicacoes, after.Medicacoes},
		{"atividades", before.Atividades, after.Atividades},
		{"adicional_clinico", before.AdicionalClinico, after.AdicionalClinico},
		{"adicional_administrativo", before.AdicionalAdministrativo, after.AdicionalAdministrativo},
	}
	for _, p := range pairs {
		if p.was != nil || p.now == nil {
			continue
		}
		_ = h.Webhook.PostFinalizationTopic(ctx, webhook.FinalizationTopicPayload{
			SessionID:  state.SessionID,
			ReportID:   state.ReportID,
			ReportDate: state.ReportDate,
			Topic:      p.topic,
			Value:      *p.now,
		})
	}
}

func (h *Handler) stage(state *session.State) (subgraph.Outcome, error) {
	state.PendingAction = &session.PendingAction{
		ActionID:    uuid.New().String(),
		Flow:        session.FlowFinalizeCommit,
		Payload:     nil, // the full report is read straight off state.FinalizationTopics at commit time
		Description: "confirmar encerramento do plantão",
		Status:      session.PendingStaged,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(pendingLease),
	}
	return subgraph.Outcome{OutcomeCode: OutcomeStaged}, nil
}

func (h *Handler) handleConfirmation(ctx context.Context, state *session.State, in session.Inbound) (subgraph.Outcome, error) {
	confirmation, err := h.Gateway.ConfirmationClassify(ctx, in.Text)
	if err != nil {
		return subgraph.Outcome{}, err
	}

	switch confirmation {
	case llm.ConfirmationNo, llm.ConfirmationCancel:
		// Keep the collected topics; only clear the pending confirmation
		// so the caregiver can amend a topic before re-confirming.
		state.PendingAction = nil
		return subgraph.Outcome{OutcomeCode: OutcomeTopicCollected}, nil
	case llm.ConfirmationYes:
		return h.commit(ctx, state)
	default:
		return subgraph.Outcome{OutcomeCode: OutcomeStaged}, nil
	}
}

func (h *Handler) commit(ctx context.Context, state *session.State) (subgraph.Outcome, error) {
	t := state.FinalizationTopics
	req := backend.UpdateReportSummaryRequest{
		ReportID:                            state.ReportID,
		ReportDate:                          state.ReportDate,
		ScheduleID:                          state.ScheduleID,
		PatientFirstName:                    state.PatientName,
		ShiftDay:                            state.ShiftDay,
		ShiftStart:                          state.ShiftStart,
		ShiftEnd:                            state.ShiftEnd,
		CaregiverFirstName:                  state.CaregiverName,
		CaregiverID:                         state.CaregiverID,
		FoodHydrationSpecification:          deref(t.Alimentacao),
		StoolUrineSpecification:             deref(t.Evacuacoes),
		SleepSpecification:                  deref(t.Sono),
		MoodSpecification:                   deref(t.Humor),
		MedicationsSpecification:            deref(t.Medicacoes),
		ActivitiesSpecification:             deref(t.Atividades),
		AdditionalInformationSpecification:  deref(t.AdicionalClinico),
		AdministrativeInfo:                  deref(t.AdicionalAdministrativo),
		ActionID:                            state.PendingAction.ActionID,
	}

	_, err := h.Backend.UpdateReportSummary(ctx, req)
	if err != nil {
		return subgraph.Outcome{OutcomeCode: OutcomeCommitFailed}, err
	}

	state.PendingAction = nil
	state.ResetForNextShift()

	return subgraph.Outcome{OutcomeCode: OutcomeCommitted}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toResult(t session.FinalizationTopics) llm.FinalizationTopicsResult {
	return llm.FinalizationTopicsResult{
		Alimentacao:             deref(t.Alimentacao),
		Evacuacoes:              deref(t.Evacuacoes),
		Sono:                    deref(t.Sono),
		Humor:                   deref(t.Humor),
		Medicacoes:              deref(t.Medicacoes),
		Atividades:              deref(t.Atividades),
		AdicionalClinico:        deref(t.AdicionalClinico),
		AdicionalAdministrativo: deref(t.AdicionalAdministrativo),
	}
}

// mergeInto overlays non-empty fields of r onto t, never overwriting a
// topic t already has — the same never-clobber-confirmed-values rule the
// clinical buffer follows.
func mergeInto(t *session.FinalizationTopics, r llm.FinalizationTopicsResult) {
	setIfEmpty(&t.Alimentacao, r.Alimentacao)
	setIfEmpty(&t.Evacuacoes, r.Evacuacoes)
	setIfEmpty(&t.Sono, r.Sono)
	setIfEmpty(&t.Humor, r.Humor)
	setIfEmpty(&t.Medicacoes, r.Medicacoes)
	setIfEmpty(&t.Atividades, r.Atividades)
	setIfEmpty(&t.AdicionalClinico, r.AdicionalClinico)
	setIfEmpty(&t.AdicionalAdministrativo, r.AdicionalAdministrativo)
}

func setIfEmpty(field **string, value string) {
	if *field != nil || value == "" {
		return
	}
	v := value
	*field = &v
}
