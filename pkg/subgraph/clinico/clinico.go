// Package clinico implements the clinical-intake subgraph: collecting → awaiting_commit_confirm → committed, driving the
// "first complete measurement" rule from pkg/clinical.
package clinico

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/backend"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/clinical"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/symptoms"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/webhook"
)

// Outcome codes
const (
	OutcomeMissing                 = "clinical_missing"
	OutcomeStaged                  = "clinical_staged"
	OutcomeCommitted               = "clinical_committed"
	OutcomeNoteOnlyCommitted       = "clinical_note_only_committed"
	OutcomeRejectedIncompleteFirst = "clinical_rejected_incomplete_first"
	OutcomeCommitFailed            = "clinical_commit_failed"
)

const pendingLease = 10 * time.Minute

// Handler implements subgraph.Handler for the clinico flow.
type Handler struct {
	Backend   *backend.Adapter
	Webhook   *webhook.Client
	Gateway   llm.Gateway
	Validator *clinical.Validator
	Symptoms  *symptoms.Matcher
}

// NewHandler builds a Handler. matcher may be nil — symptom-vector
// enrichment is an optional collaborator that simply contributes no
// SymptomReport entries when absent.
func NewHandler(adapter *backend.Adapter, webhookClient *webhook.Client, gateway llm.Gateway, matcher *symptoms.Matcher) *Handler {
	return &Handler{Backend: adapter, Webhook: webhookClient, Gateway: gateway, Validator: clinical.NewValidator(), Symptoms: matcher}
}

var _ subgraph.Handler = (*Handler)(nil)

// Handle advances the clinico state machine by exactly one step.
func (h *Handler) Handle(ctx context.Context, state *session.State, in session.Inbound) (subgraph.Outcome, error) {
	if state.PendingAction != nil && state.PendingAction.Flow == session.FlowClinicalCommit && state.PendingAction.Status == session.PendingStaged {
		return h.handleConfirmation(ctx, state, in)
	}

	extraction, err := h.Gateway.ClinicalExtract(ctx, in.Text)
	if err != nil {
		return subgraph.Outcome{}, err
	}

	vitals, mode, warnings := h.Validator.Validate(extraction.Raw)
	_ = warnings // not stored in state and not shown to the caregiver

	state.VitalsBuffer = state.VitalsBuffer.Merge(vitals)
	if mode != session.RespiratoryModeNone {
		state.RespiratoryMode = mode
	}
	if extraction.Raw.ClinicalNote != "" {
		note := extraction.Raw.ClinicalNote
		state.ClinicalNote = &note
	}

	missing := clinical.Missing(state.VitalsBuffer, state.RespiratoryMode, state.ClinicalNote, state.FirstCompleteMeasurementDone)
	if len(missing) > 0 {
		// A standalone note cannot be committed on its own before the
		// first complete measurement: the note stays merged into the
		// buffer, but the caregiver is told the full tuple is required.
		if !state.FirstCompleteMeasurementDone &&
			extraction.Raw.ClinicalNote != "" &&
			state.VitalsBuffer == (session.Vitals{}) &&
			state.RespiratoryMode == session.RespiratoryModeNone {
			return subgraph.Outcome{OutcomeCode: OutcomeRejectedIncompleteFirst}, nil
		}
		return subgraph.Outcome{OutcomeCode: OutcomeMissing}, nil
	}

	// Post-first-measurement standalone note: clinical.Missing already
	// confirms no vitals/mode are pending, so this commits directly with
	// no two-phase confirmation.
	if state.FirstCompleteMeasurementDone && state.VitalsBuffer == (session.Vitals{}) && state.RespiratoryMode == session.RespiratoryModeNone {
		note := ""
		if state.ClinicalNote != nil {
			note = *state.ClinicalNote
		}
		state.ClinicalNote = nil
		return h.commitNoteOnly(ctx, state, note)
	}

	return h.stage(state)
}

// stage builds the canonical clinical record and asks for confirmation.
func (h *Handler) stage(state *session.State) (subgraph.Outcome, error) {
	payload := h.buildPayload(state)
	state.PendingAction = &session.PendingAction{
		ActionID:    uuid.New().String(),
		Flow:        session.FlowClinicalCommit,
		Payload:     payload,
		Description: "confirmar registro clínico",
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
		// Cancelling keeps the collected buffer and only clears the
		// pending action, so nothing has to be re-dictated.
		state.PendingAction = nil
		return subgraph.Outcome{OutcomeCode: OutcomeMissing}, nil
	case llm.ConfirmationYes:
		return h.commit(ctx, state)
	default:
		return subgraph.Outcome{OutcomeCode: OutcomeStaged}, nil
	}
}

func (h *Handler) commit(ctx context.Context, state *session.State) (subgraph.Outcome, error) {
	req := payloadToRequest(state.PendingAction.Payload, state, state.PendingAction.ActionID)
	if h.Symptoms != nil && req.ClinicalNote != nil {
		if matches, err := h.Symptoms.Match(ctx, *req.ClinicalNote); err == nil && len(matches) > 0 {
			req.SymptomReport = matches
		}
	}

	_, err := h.Backend.UpdateClinicalData(ctx, req)
	if err != nil {
		return subgraph.Outcome{OutcomeCode: OutcomeCommitFailed}, err
	}

	if err := h.Webhook.PostClinical(ctx, webhook.ClinicalPayload{
		SessionID:     state.SessionID,
		ReportID:      state.ReportID,
		ReportDate:    state.ReportDate,
		HeartRate:     req.HeartRate,
		RespRate:      req.RespRate,
		SaturationO2:  req.SaturationO2,
		BloodPressure: req.BloodPressure,
		Temperature:   req.Temperature,
		ClinicalNote:  req.ClinicalNote,
	}); err != nil {
		// Webhook delivery failure never blocks the commit that already
		// succeeded against the backend; the client logs transport
		// errors, and the returned error is dropped here.
		_ = err
	}

	state.FirstCompleteMeasurementDone = true
	state.VitalsBuffer = session.Vitals{}
	state.RespiratoryMode = session.RespiratoryModeNone
	state.ClinicalNote = nil
	state.PendingAction = nil

	return subgraph.Outcome{OutcomeCode: OutcomeCommitted}, nil
}

// commitNoteOnly handles a standalone note after the first complete
// measurement, with no two-phase commit required per the decision
// table.
func (h *Handler) commitNoteOnly(ctx context.Context, state *session.State, note string) (subgraph.Outcome, error) {
	req := backend.UpdateClinicalDataRequest{
		ReportID:     state.ReportID,
		ReportDate:   state.ReportDate,
		ClinicalNote: &note,
		ActionID:     uuid.New().String(),
	}

	_, err := h.Backend.UpdateClinicalData(ctx, req)
	if err != nil {
		return subgraph.Outcome{OutcomeCode: OutcomeCommitFailed}, err
	}

	_ = h.Webhook.PostClinical(ctx, webhook.ClinicalPayload{
		SessionID:    state.SessionID,
		ReportID:     state.ReportID,
		ReportDate:   state.ReportDate,
		ClinicalNote: &note,
	})

	return subgraph.Outcome{OutcomeCode: OutcomeNoteOnlyCommitted}, nil
}

func (h *Handler) buildPayload(state *session.State) map[string]interface{} {
	note := state.ClinicalNote
	if note == nil || strings.TrimSpace(*note) == "" {
		defaultNote := "sem alterações"
		note = &defaultNote
	}
	payload := map[string]interface{}{
		"reportId":        state.ReportID,
		"reportDate":      state.ReportDate,
		"clinicalNote":    *note,
		"respiratoryMode": string(state.RespiratoryMode),
	}
	if state.VitalsBuffer.PA != nil {
		payload["PA"] = *state.VitalsBuffer.PA
	}
	if state.VitalsBuffer.HR != nil {
		payload["HR"] = strconv.Itoa(*state.VitalsBuffer.HR)
	}
	if state.VitalsBuffer.RR != nil {
		payload["RR"] = strconv.Itoa(*state.VitalsBuffer.RR)
	}
	if state.VitalsBuffer.SatO2 != nil {
		payload["SatO2"] = strconv.Itoa(*state.VitalsBuffer.SatO2)
	}
	if state.VitalsBuffer.Temp != nil {
		payload["Temp"] = strconv.FormatFloat(*state.VitalsBuffer.Temp, 'f', 1, 64)
	}
	return payload
}

func payloadToRequest(payload map[string]interface{}, state *session.State, actionID string) backend.UpdateClinicalDataRequest {
	req := backend.UpdateClinicalDataRequest{
		ReportID:   state.ReportID,
		ReportDate: state.ReportDate,
		ActionID:   actionID,
	}
	if note, ok := payload["clinicalNote"].(string); ok && note != "" {
		req.ClinicalNote = &note
	}
	if pa, ok := payload["PA"].(string); ok && pa != "" {
		req.BloodPressure = &pa
	}
	if hr, ok := payload["HR"].(string); ok {
		if n, err := strconv.Atoi(hr); err == nil {
			req.HeartRate = &n
		}
	}
	if rr, ok := payload["RR"].(string); ok {
		if n, err := strconv.Atoi(rr); err == nil {
			req.RespRate = &n
		}
	}
	if sat, ok := payload["SatO2"].(string); ok {
		if n, err := strconv.Atoi(sat); err == nil {
			req.SaturationO2 = &n
		}
	}
	if temp, ok := payload["Temp"].(string); ok {
		if f, err := strconv.ParseFloat(temp, 64); err == nil {
			req.Temperature = &f
		}
	}
	if mode, ok := payload["respiratoryMode"].(string); ok {
		supplemental := mode == string(session.RespiratoryModeSupplemental)
		req.SupplementaryOxygen = &supplemental
	}
	return req
}
