// Package llm exposes the six strictly-typed JSON calls the orchestrator
// makes against an LLM provider: intent classification,
// confirmation classification, operational-note detection, clinical
// extraction, finalization-topic extraction, and reply generation. Every
// call is wrapped in a circuit breaker and a bounded retry on malformed
// JSON behind a single typed Gateway interface.
package llm

import (
	"context"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/clinical"
)

// Intent is the five-subgraph-plus-unknown classification domain.
type Intent string

const (
	IntentEscala     Intent = "escala"
	IntentClinico    Intent = "clinico"
	IntentOperacional Intent = "operacional"
	IntentFinalizar  Intent = "finalizar"
	IntentAuxiliar   Intent = "auxiliar"
	IntentIndefinido Intent = "indefinido"
)

// Confirmation is the caregiver's yes/no/cancel/unclear answer to a
// staged pending action.
type Confirmation string

const (
	ConfirmationYes     Confirmation = "yes"
	ConfirmationNo      Confirmation = "no"
	ConfirmationCancel  Confirmation = "cancel"
	ConfirmationUnclear Confirmation = "unclear"
)

// Urgency classifies an operational note's priority.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// IntentResult is IntentClassify's output.
type IntentResult struct {
	Intent     Intent  `json:"intent" validate:"required,oneof=escala clinico operacional finalizar auxiliar indefinido"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// OperationalNoteResult is OperationalNoteDetect's output.
type OperationalNoteResult struct {
	IsOperational bool    `json:"isOperational"`
	Urgency       Urgency `json:"urgency" validate:"omitempty,oneof=low normal high"`
}

// ClinicalExtractResult is ClinicalExtract's output: the raw (not yet
// range-validated) extraction plus any extraction-level warnings.
type ClinicalExtractResult struct {
	Raw      clinical.RawExtraction
	Warnings []string `json:"warnings"`
}

// clinicalExtractWire is the JSON shape the provider actually returns;
// it is converted to ClinicalExtractResult after decoding.
type clinicalExtractWire struct {
	PA              *string  `json:"PA"`
	HR              *int     `json:"HR"`
	RR              *int     `json:"RR"`
	SatO2           *int     `json:"SatO2"`
	Temp            *float64 `json:"Temp"`
	RespiratoryMode *string  `json:"respiratoryMode"`
	ClinicalNote    *string  `json:"clinicalNote"`
	Warnings        []string `json:"warnings"`
}

// FinalizationTopicsResult is the partial fill of the 8 finalization topics
// FinalizationTopicExtract is allowed to return; omitted/empty fields
// mean "not extracted from this message", never an invented value.
type FinalizationTopicsResult struct {
	Alimentacao             string `json:"alimentacao"`
	Evacuacoes              string `json:"evacuacoes"`
	Sono                    string `json:"sono"`
	Humor                   string `json:"humor"`
	Medicacoes              string `json:"medicacoes"`
	Atividades              string `json:"atividades"`
	AdicionalClinico        string `json:"adicional_clinico"`
	AdicionalAdministrativo string `json:"adicional_administrativo"`
}

// CompactState is the minimal session snapshot passed to IntentClassify
// and GenerateReply so the model has enough context without leaking the
// full session record.
type CompactState struct {
	ShiftAllow         bool   `json:"shiftAllow"`
	Response           string `json:"response"`
	FinishReminderSent bool   `json:"finishReminderSent"`
	HasPendingAction   bool   `json:"hasPendingAction"`
	MissingVitals      []string `json:"missingVitals,omitempty"`
}

// Gateway is the six-call contract the router, subgraphs, and fiscal
// consolidator depend on. Implementations never return raw provider
// errors: an unrecoverable failure (malformed JSON exhausting its retry
// budget, or an open circuit breaker) surfaces as
// *sharederrors.LLMUnavailable.
type Gateway interface {
	IntentClassify(ctx context.Context, text string, state CompactState) (IntentResult, error)
	ConfirmationClassify(ctx context.Context, text string) (Confirmation, error)
	OperationalNoteDetect(ctx context.Context, text string) (OperationalNoteResult, error)
	ClinicalExtract(ctx context.Context, text string) (ClinicalExtractResult, error)
	FinalizationTopicExtract(ctx context.Context, text string, alreadyCollected FinalizationTopicsResult) (FinalizationTopicsResult, error)
	GenerateReply(ctx context.Context, state CompactState, outcomeCode, languageHint string) (string, error)
}
