// Package clinical normalizes and range-validates the vitals tuple the
// LLM gateway's ClinicalExtract call returns, and owns the "first
// complete measurement" commit-readiness rule
package clinical

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
)

// Warning codes surfaced to the caller when a raw extracted value falls
// outside its safety range or is otherwise rejected.
const (
	WarnHROutOfRange    = "HR_fora_da_faixa"
	WarnRROutOfRange    = "RR_fora_da_faixa"
	WarnSatO2OutOfRange = "SatO2_fora_da_faixa"
	WarnTempOutOfRange  = "Temp_fora_da_faixa"
	WarnPAOutOfRange    = "PA_fora_da_faixa"
	WarnPAAmbiguous     = "PA_ambigua"
)

// Range bounds
const (
	hrMin, hrMax       = 20, 220
	rrMin, rrMax       = 5, 50
	satO2Min, satO2Max = 50, 100
	tempMin, tempMax   = 30.0, 43.0
	paSysMin, paSysMax = 70, 260
	paDiaMin, paDiaMax = 40, 160
)

var paPattern = regexp.MustCompile(`^(\d{2,3})[xX/](\d{2,3})$`)

// RawExtraction is the unvalidated output of the LLM gateway's
// ClinicalExtract call.
type RawExtraction struct {
	PA              string
	HR              *int
	RR              *int
	SatO2           *int
	Temp            *float64
	RespiratoryMode string
	ClinicalNote    string
}

// Validator normalizes a RawExtraction into safe session.Vitals, dropping
// any value outside its range to nil with a warning code instead of
// rejecting the whole extraction.
type Validator struct{}

// NewValidator builds a Validator. It carries no state; the struct exists
// so the clinical package follows the same constructor idiom as the rest
// of the orchestrator's components.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate normalizes extraction and returns the safe vitals plus any
// respiratory mode, along with the warning codes for values it rejected.
func (v *Validator) Validate(extraction RawExtraction) (session.Vitals, session.RespiratoryMode, []string) {
	var out session.Vitals
	var warnings []string

	if pa, warn := normalizePA(extraction.PA); warn != "" {
		warnings = append(warnings, warn)
	} else if pa != "" {
		out.PA = &pa
	}

	if extraction.HR != nil {
		if *extraction.HR >= hrMin && *extraction.HR <= hrMax {
			hr := *extraction.HR
			out.HR = &hr
		} else {
			warnings = append(warnings, WarnHROutOfRange)
		}
	}

	if extraction.RR != nil {
		if *extraction.RR >= rrMin && *extraction.RR <= rrMax {
			rr := *extraction.RR
			out.RR = &rr
		} else {
			warnings = append(warnings, WarnRROutOfRange)
		}
	}

	if extraction.SatO2 != nil {
		if *extraction.SatO2 >= satO2Min && *extraction.SatO2 <= satO2Max {
			sat := *extraction.SatO2
			out.SatO2 = &sat
		} else {
			warnings = append(warnings, WarnSatO2OutOfRange)
		}
	}

	if extraction.Temp != nil {
		if *extraction.Temp >= tempMin && *extraction.Temp <= tempMax {
			temp := *extraction.Temp
			out.Temp = &temp
		} else {
			warnings = append(warnings, WarnTempOutOfRange)
		}
	}

	mode := normalizeRespiratoryMode(extraction.RespiratoryMode)

	return out, mode, warnings
}

// normalizePA parses a "SSS x DDD"-shaped blood pressure reading into the
// canonical "SSSxDDD" form, rejecting anything ambiguous or out of range.
func normalizePA(raw string) (normalized string, warning string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	match := paPattern.FindStringSubmatch(raw)
	if match == nil {
		return "", WarnPAAmbiguous
	}

	sys, err1 := strconv.Atoi(match[1])
	dia, err2 := strconv.Atoi(match[2])
	if err1 != nil || err2 != nil {
		return "", WarnPAAmbiguous
	}

	// A 2-digit systolic/diastolic pair below safety range (e.g. "12x8")
	// is the spoken shorthand caregivers actually send, not an
	// out-of-range reading.
	if sys < paSysMin && len(match[1]) <= 2 {
		return "", WarnPAAmbiguous
	}

	if sys < paSysMin || sys > paSysMax || dia < paDiaMin || dia > paDiaMax {
		return "", WarnPAOutOfRange
	}

	return fmt.Sprintf("%dx%d", sys, dia), ""
}

// normalizeRespiratoryMode maps free-text respiratory descriptors onto
// the session.RespiratoryMode enum.
func normalizeRespiratoryMode(raw string) session.RespiratoryMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ambient", "ambiente", "ar ambiente":
		return session.RespiratoryModeAmbient
	case "supplemental_o2", "o2 suplementar", "oxigenio suplementar", "oxigênio suplementar":
		return session.RespiratoryModeSupplemental
	case "mechanical_ventilation", "ventilacao mecanica", "ventilação mecânica":
		return session.RespiratoryModeMechanical
	default:
		return session.RespiratoryModeNone
	}
}

// Missing reports which fields a clinical commit still needs to satisfy
// the "first complete measurement" rule: before
// firstCompleteMeasurementDone, every vital plus respiratoryMode plus a
// note are required; after, a full tuple + respiratoryMode suffices
// (note defaults to "sem alterações") or a standalone note commits
// directly.
func Missing(vitals session.Vitals, mode session.RespiratoryMode, note *string, firstCompleteMeasurementDone bool) []string {
	var missing []string

	if !firstCompleteMeasurementDone {
		missing = append(missing, vitals.Missing()...)
		if mode == session.RespiratoryModeNone {
			missing = append(missing, "respiratoryMode")
		}
		if note == nil || strings.TrimSpace(*note) == "" {
			missing = append(missing, "clinicalNote")
		}
		return missing
	}

	// After the first complete measurement, a standalone note commits on
	// its own with no vitals required.
	if vitals == (session.Vitals{}) && mode == session.RespiratoryModeNone {
		if note == nil || strings.TrimSpace(*note) == "" {
			return []string{"clinicalNote"}
		}
		return nil
	}

	missing = append(missing, vitals.Missing()...)
	if mode == session.RespiratoryModeNone {
		missing = append(missing, "respiratoryMode")
	}
	return missing
}
