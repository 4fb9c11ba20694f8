// Package testutil centralizes fixture construction shared by this
// orchestrator's test suites, so pkg/router, pkg/subgraph, pkg/engine and
// pkg/store don't each hand-roll their own session/vitals/pending-action
// literals.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/backend"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
)

// Test data constants, eliminating magic values scattered across suites.
const (
	DefaultTestPhone       = "5511999999999"
	DefaultTestSessionID   = "5511999999999"
	DefaultTestScheduleID  = "sched-test-1"
	DefaultTestPatientID   = "patient-test-1"
	DefaultTestReportID    = "report-test-1"
	DefaultTestCaregiverID = "caregiver-test-1"
)

// TestDataFactory centralizes fixture creation for session state,
// vitals, pending actions, and backend responses so suites across
// pkg/router, pkg/subgraph, pkg/engine and pkg/store don't each hand-roll
// their own literals.
type TestDataFactory struct{}

// NewTestDataFactory creates a new test data factory.
func NewTestDataFactory() *TestDataFactory {
	return &TestDataFactory{}
}

// CreateFreshSession returns a brand-new, version-0 session as
// loadSession would for a phone number never seen before.
func (f *TestDataFactory) CreateFreshSession() *session.State {
	return session.New(DefaultTestSessionID, DefaultTestPhone)
}

// CreateAwaitingAttendanceSession returns a hydrated session whose
// attendance gate is open: shiftAllow=true, response not yet confirmed.
func (f *TestDataFactory) CreateAwaitingAttendanceSession() *session.State {
	s := f.CreateFreshSession()
	s.ScheduleID = DefaultTestScheduleID
	s.PatientID = DefaultTestPatientID
	s.ReportID = DefaultTestReportID
	s.CaregiverID = DefaultTestCaregiverID
	s.ShiftAllow = true
	s.Response = session.ResponseAwaiting
	s.Version = 1
	return s
}

// CreateConfirmedSession returns a session past the attendance gate with
// no pending action, ready to enter clinical/operational/auxiliar flows.
func (f *TestDataFactory) CreateConfirmedSession() *session.State {
	s := f.CreateAwaitingAttendanceSession()
	s.Response = session.ResponseConfirmed
	s.Version = 2
	return s
}

// CreateFinishReminderSession returns a confirmed session with the
// finish-gate flag set, as pkg/bootstrap or the template-fired hook would
// leave it.
func (f *TestDataFactory) CreateFinishReminderSession() *session.State {
	s := f.CreateConfirmedSession()
	s.FinishReminderSent = true
	s.Version = 3
	return s
}

// CreateCompleteVitals returns a fully populated vitals 5-tuple within
// every safety range.
func (f *TestDataFactory) CreateCompleteVitals() session.Vitals {
	pa := "120x80"
	hr, rr, sat := 78, 18, 97
	temp := 36.6
	return session.Vitals{PA: &pa, HR: &hr, RR: &rr, SatO2: &sat, Temp: &temp}
}

// CreatePartialVitals returns a vitals tuple with only PA and HR set, the
// shape the clinical subgraph sees mid-collection.
func (f *TestDataFactory) CreatePartialVitals() session.Vitals {
	pa := "120x80"
	hr := 78
	return session.Vitals{PA: &pa, HR: &hr}
}

// CreateStagedEscalaPendingAction returns a pending attendance
// confirmation awaiting a yes/no answer.
func (f *TestDataFactory) CreateStagedEscalaPendingAction() *session.PendingAction {
	return &session.PendingAction{
		ActionID:    uuid.New().String(),
		Flow:        session.FlowEscalaCommit,
		Payload:     map[string]interface{}{"scheduleId": DefaultTestScheduleID, "responseValue": "confirmado"},
		Description: "confirmar presença no plantão",
		Status:      session.PendingStaged,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
}

// CreateStagedClinicalPendingAction returns a pending clinical commit
// awaiting confirmation.
func (f *TestDataFactory) CreateStagedClinicalPendingAction() *session.PendingAction {
	return &session.PendingAction{
		ActionID:    uuid.New().String(),
		Flow:        session.FlowClinicalCommit,
		Payload:     map[string]interface{}{"reportId": DefaultTestReportID},
		Description: "confirmar registro clínico",
		Status:      session.PendingStaged,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
}

// CreateStagedFinalizePendingAction returns a pending finalization commit
// awaiting confirmation.
func (f *TestDataFactory) CreateStagedFinalizePendingAction() *session.PendingAction {
	return &session.PendingAction{
		ActionID:    uuid.New().String(),
		Flow:        session.FlowFinalizeCommit,
		Payload:     map[string]interface{}{"reportId": DefaultTestReportID},
		Description: "confirmar fechamento do plantão",
		Status:      session.PendingStaged,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
}

// CreateCompleteFinalizationTopics returns every one of the 8
// finalization topics filled.
func (f *TestDataFactory) CreateCompleteFinalizationTopics() session.FinalizationTopics {
	v := "sem alterações"
	return session.FinalizationTopics{
		Alimentacao: &v, Evacuacoes: &v, Sono: &v, Humor: &v,
		Medicacoes: &v, Atividades: &v, AdicionalClinico: &v, AdicionalAdministrativo: &v,
	}
}

// CreateInbound returns an Inbound message for text addressed to the
// default test session.
func (f *TestDataFactory) CreateInbound(messageID, text string) session.Inbound {
	return session.Inbound{
		SessionID:      DefaultTestSessionID,
		PhoneNumber:    DefaultTestPhone,
		MessageID:      messageID,
		IdempotencyKey: messageID,
		Text:           text,
	}
}

// CreateGetScheduleStartedResponse returns a standard bootstrap response
// with the attendance gate open.
func (f *TestDataFactory) CreateGetScheduleStartedResponse() *backend.GetScheduleStartedResponse {
	return &backend.GetScheduleStartedResponse{
		ScheduleID:    DefaultTestScheduleID,
		PatientID:     DefaultTestPatientID,
		PatientName:   "Maria Souza",
		ReportID:      DefaultTestReportID,
		ReportDate:    "2026-07-31",
		ShiftDay:      "2026-07-31",
		ShiftStart:    "08:00",
		ShiftEnd:      "20:00",
		ShiftAllow:    true,
		Response:      string(session.ResponseAwaiting),
		CaregiverName: "João Caregiver",
		Company:       "Quorum Home Care",
		Cooperative:   "Cooperativa Central",
	}
}

// CreateIntentResult returns a high-confidence IntentResult for the
// given intent, convenient for stubbing llm.Gateway in router/engine
// tests.
func (f *TestDataFactory) CreateIntentResult(intent llm.Intent) llm.IntentResult {
	return llm.IntentResult{Intent: intent, Confidence: 0.92}
}

func generateUniqueID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

func generateActionID() string { return generateUniqueID("test-action") }
