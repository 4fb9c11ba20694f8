// Package session defines the canonical session state owned by the
// orchestration engine: identity, shift context, clinical and
// finalization buffers, and the control fields the router and subgraphs
// read and mutate under the per-session lock.
package session

import "time"

// ResponseValue is the caregiver's attendance-confirmation answer.
type ResponseValue string

const (
	ResponseNone      ResponseValue = ""
	ResponseConfirmed ResponseValue = "confirmado"
	ResponseAwaiting  ResponseValue = "aguardando resposta"
	ResponseCancelled ResponseValue = "cancelado"
)

// RespiratoryMode is the caregiver-reported oxygen-support mode.
type RespiratoryMode string

const (
	RespiratoryModeNone         RespiratoryMode = ""
	RespiratoryModeAmbient      RespiratoryMode = "ambient"
	RespiratoryModeSupplemental RespiratoryMode = "supplemental_o2"
	RespiratoryModeMechanical   RespiratoryMode = "mechanical_ventilation"
)

// PendingFlow names the two-phase-commit flow a staged PendingAction
// belongs to.
type PendingFlow string

const (
	FlowEscalaCommit   PendingFlow = "escala_commit"
	FlowClinicalCommit PendingFlow = "clinical_commit"
	FlowFinalizeCommit PendingFlow = "finalize_commit"
)

// PendingStatus is a PendingAction's place in its staged→confirmed→
// executed|cancelled state machine.
type PendingStatus string

const (
	PendingStaged    PendingStatus = "staged"
	PendingConfirmed PendingStatus = "confirmed"
	PendingExecuted  PendingStatus = "executed"
	PendingCancelled PendingStatus = "cancelled"
)

// PendingAction is a two-phase-commit request awaiting caregiver
// confirmation or execution. Payload is opaque to the store and decoded
// by the subgraph that owns Flow.
type PendingAction struct {
	ActionID    string                 `json:"actionId"`
	Flow        PendingFlow            `json:"flow"`
	Payload     map[string]interface{} `json:"payload"`
	Description string                 `json:"description"`
	Status      PendingStatus          `json:"status"`
	CreatedAt   time.Time              `json:"createdAt"`
	ExpiresAt   time.Time              `json:"expiresAt"`
}

// ResumeAfter records which flow a subgraph was interrupted from, and
// why, so a diverted turn (e.g. an urgent operational note arriving while
// a clinical confirmation is pending) can be resumed later.
type ResumeAfter struct {
	Flow   PendingFlow `json:"flow"`
	Reason string      `json:"reason"`
}

// Vitals is the clinical 5-tuple; every field is a pointer because each
// is independently optional until the first complete measurement.
type Vitals struct {
	PA     *string  `json:"PA,omitempty"`
	HR     *int     `json:"HR,omitempty"`
	RR     *int     `json:"RR,omitempty"`
	SatO2  *int     `json:"SatO2,omitempty"`
	Temp   *float64 `json:"Temp,omitempty"`
}

// IsComplete reports whether every vital in the tuple is present.
func (v Vitals) IsComplete() bool {
	return v.PA != nil && v.HR != nil && v.RR != nil && v.SatO2 != nil && v.Temp != nil
}

// Missing returns the names of the vitals still unset.
func (v Vitals) Missing() []string {
	var missing []string
	if v.PA == nil {
		missing = append(missing, "PA")
	}
	if v.HR == nil {
		missing = append(missing, "HR")
	}
	if v.RR == nil {
		missing = append(missing, "RR")
	}
	if v.SatO2 == nil {
		missing = append(missing, "SatO2")
	}
	if v.Temp == nil {
		missing = append(missing, "Temp")
	}
	return missing
}

// Merge overlays non-nil fields of other onto v, never overwriting a
// value v already has — the clinical subgraph's "newly extracted values
// overwrite prior nulls, never confirmed values" merge rule.
func (v Vitals) Merge(other Vitals) Vitals {
	merged := v
	if merged.PA == nil {
		merged.PA = other.PA
	}
	if merged.HR == nil {
		merged.HR = other.HR
	}
	if merged.RR == nil {
		merged.RR = other.RR
	}
	if merged.SatO2 == nil {
		merged.SatO2 = other.SatO2
	}
	if merged.Temp == nil {
		merged.Temp = other.Temp
	}
	return merged
}

// FinalizationTopics is the 8-field closing-report buffer; every field is
// filled incrementally across turns of the `finalizar` subgraph.
type FinalizationTopics struct {
	Alimentacao               *string `json:"alimentacao,omitempty"`
	Evacuacoes                *string `json:"evacuacoes,omitempty"`
	Sono                      *string `json:"sono,omitempty"`
	Humor                     *string `json:"humor,omitempty"`
	Medicacoes                *string `json:"medicacoes,omitempty"`
	Atividades                *string `json:"atividades,omitempty"`
	AdicionalClinico          *string `json:"adicional_clinico,omitempty"`
	AdicionalAdministrativo   *string `json:"adicional_administrativo,omitempty"`
}

// topicFields lists the 8 topics in a stable order, used both by
// Missing() and by the finalizar subgraph to decide which topic to ask
// for next.
var topicFields = []string{
	"alimentacao", "evacuacoes", "sono", "humor",
	"medicacoes", "atividades", "adicional_clinico", "adicional_administrativo",
}

// Missing returns the names of the still-unfilled topics, in canonical
// order.
func (t FinalizationTopics) Missing() []string {
	values := map[string]*string{
		"alimentacao":              t.Alimentacao,
		"evacuacoes":               t.Evacuacoes,
		"sono":                     t.Sono,
		"humor":                    t.Humor,
		"medicacoes":               t.Medicacoes,
		"atividades":               t.Atividades,
		"adicional_clinico":        t.AdicionalClinico,
		"adicional_administrativo": t.AdicionalAdministrativo,
	}
	var missing []string
	for _, name := range topicFields {
		if values[name] == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// IsComplete reports whether all 8 topics are filled.
func (t FinalizationTopics) IsComplete() bool {
	return len(t.Missing()) == 0
}

// State is the canonical, versioned, per-session record the router and
// subgraphs operate on. It is loaded and saved as a whole under optimistic
// concurrency control (see pkg/store/postgres).
type State struct {
	// Identity
	SessionID     string `json:"sessionId"`
	PhoneNumber   string `json:"phoneNumber"`
	CaregiverID   string `json:"caregiverId"`
	CaregiverName string `json:"caregiverName"`
	Company       string `json:"company"`
	Cooperative   string `json:"cooperative"`

	// Shift context
	ScheduleID         string        `json:"scheduleId"`
	PatientID          string        `json:"patientId"`
	PatientName        string        `json:"patientName"`
	ShiftDay           string        `json:"shiftDay"`
	ShiftStart         string        `json:"shiftStart"`
	ShiftEnd           string        `json:"shiftEnd"`
	ReportID           string        `json:"reportId"`
	ReportDate         string        `json:"reportDate"`
	ShiftAllow         bool          `json:"shiftAllow"`
	Response           ResponseValue `json:"response"`
	ScheduleStarted    bool          `json:"scheduleStarted"`
	FinishReminderSent bool          `json:"finishReminderSent"`

	// Clinical buffer
	VitalsBuffer                 Vitals          `json:"vitals"`
	RespiratoryMode               RespiratoryMode `json:"respiratoryMode"`
	ClinicalNote                  *string         `json:"clinicalNote,omitempty"`
	FirstCompleteMeasurementDone  bool            `json:"firstCompleteMeasurementDone"`

	// Finalization buffer
	FinalizationTopics FinalizationTopics `json:"finalizationTopics"`

	// Control
	PendingAction *PendingAction `json:"pendingAction,omitempty"`
	ResumeAfter   *ResumeAfter   `json:"resumeAfter,omitempty"`
	LastUserText  string         `json:"lastUserText"`
	LastReplyCode string         `json:"lastReplyCode"`
	Version       int            `json:"version"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// New returns a default, freshly-created state for sessionID/phoneNumber
// at version 0 — what loadSession returns when no record exists yet.
func New(sessionID, phoneNumber string) *State {
	return &State{
		SessionID:   sessionID,
		PhoneNumber: phoneNumber,
		Response:    ResponseNone,
		Version:     0,
	}
}

// AttendanceGateOpen reports invariant 1: shiftAllow=true and the
// caregiver hasn't yet confirmed attendance.
func (s *State) AttendanceGateOpen() bool {
	return s.ShiftAllow && s.Response != ResponseConfirmed
}

// ResetForNextShift clears the clinical/finalization buffers and pending
// control fields after a successful finalize_commit, per the
// lifecycle note, leaving identity untouched so the next bootstrap only
// needs to re-seed shift context.
func (s *State) ResetForNextShift() {
	s.VitalsBuffer = Vitals{}
	s.RespiratoryMode = RespiratoryModeNone
	s.ClinicalNote = nil
	s.FirstCompleteMeasurementDone = false
	s.FinalizationTopics = FinalizationTopics{}
	s.PendingAction = nil
	s.ResumeAfter = nil
	s.FinishReminderSent = false
}
