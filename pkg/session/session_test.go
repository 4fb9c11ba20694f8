package session

import "testing"

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string    { return &v }

func TestVitals_IsComplete(t *testing.T) {
	tests := []struct {
		name     string
		vitals   Vitals
		expected bool
	}{
		{
			name:     "empty",
			vitals:   Vitals{},
			expected: false,
		},
		{
			name: "full tuple",
			vitals: Vitals{
				PA: strPtr("120x80"), HR: intPtr(70), RR: intPtr(16),
				SatO2: intPtr(98), Temp: floatPtr(36.5),
			},
			expected: true,
		},
		{
			name: "missing temp",
			vitals: Vitals{
				PA: strPtr("120x80"), HR: intPtr(70), RR: intPtr(16),
				SatO2: intPtr(98),
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.vitals.IsComplete(); got != tt.expected {
				t.Errorf("IsComplete() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestVitals_Missing(t *testing.T) {
	v := Vitals{HR: intPtr(70), SatO2: intPtr(98)}
	missing := v.Missing()

	want := map[string]bool{"PA": true, "RR": true, "Temp": true}
	if len(missing) != len(want) {
		t.Fatalf("Missing() returned %v, want 3 entries", missing)
	}
	for _, m := range missing {
		if !want[m] {
			t.Errorf("Missing() returned unexpected field %s", m)
		}
	}
}

func TestVitals_Merge_NeverOverwritesExisting(t *testing.T) {
	existing := Vitals{HR: intPtr(70)}
	incoming := Vitals{HR: intPtr(999), RR: intPtr(18)}

	merged := existing.Merge(incoming)

	if *merged.HR != 70 {
		t.Errorf("Merge() overwrote existing HR: got %d, want 70", *merged.HR)
	}
	if merged.RR == nil || *merged.RR != 18 {
		t.Errorf("Merge() did not fill RR from incoming")
	}
}

func TestFinalizationTopics_MissingOrder(t *testing.T) {
	topics := FinalizationTopics{
		Alimentacao: strPtr("bem"),
		Sono:        strPtr("tranquilo"),
	}

	missing := topics.Missing()
	want := []string{"evacuacoes", "humor", "medicacoes", "atividades", "adicional_clinico", "adicional_administrativo"}

	if len(missing) != len(want) {
		t.Fatalf("Missing() = %v, want %v", missing, want)
	}
	for i, name := range want {
		if missing[i] != name {
			t.Errorf("Missing()[%d] = %s, want %s", i, missing[i], name)
		}
	}
}

func TestFinalizationTopics_IsComplete(t *testing.T) {
	complete := FinalizationTopics{
		Alimentacao: strPtr("a"), Evacuacoes: strPtr("b"), Sono: strPtr("c"), Humor: strPtr("d"),
		Medicacoes: strPtr("e"), Atividades: strPtr("f"), AdicionalClinico: strPtr("g"), AdicionalAdministrativo: strPtr("h"),
	}
	if !complete.IsComplete() {
		t.Error("IsComplete() = false, want true for fully filled topics")
	}

	incomplete := FinalizationTopics{Alimentacao: strPtr("a")}
	if incomplete.IsComplete() {
		t.Error("IsComplete() = true, want false for partially filled topics")
	}
}

func TestState_AttendanceGateOpen(t *testing.T) {
	tests := []struct {
		name       string
		shiftAllow bool
		response   ResponseValue
		expected   bool
	}{
		{"allow and unconfirmed", true, ResponseNone, true},
		{"allow and awaiting", true, ResponseAwaiting, true},
		{"allow and confirmed", true, ResponseConfirmed, false},
		{"not allow", false, ResponseNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("sess-1", "5511999999999")
			s.ShiftAllow = tt.shiftAllow
			s.Response = tt.response

			if got := s.AttendanceGateOpen(); got != tt.expected {
				t.Errorf("AttendanceGateOpen() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_ResetForNextShift(t *testing.T) {
	s := New("sess-1", "5511999999999")
	s.VitalsBuffer = Vitals{HR: intPtr(70)}
	s.RespiratoryMode = RespiratoryModeAmbient
	s.ClinicalNote = strPtr("nota")
	s.FirstCompleteMeasurementDone = true
	s.FinalizationTopics = FinalizationTopics{Alimentacao: strPtr("bem")}
	s.PendingAction = &PendingAction{ActionID: "a1"}
	s.ResumeAfter = &ResumeAfter{Flow: FlowClinicalCommit}
	s.FinishReminderSent = true
	s.ScheduleID = "sched-1"

	s.ResetForNextShift()

	if s.VitalsBuffer.HR != nil {
		t.Error("ResetForNextShift() left VitalsBuffer populated")
	}
	if s.RespiratoryMode != RespiratoryModeNone {
		t.Error("ResetForNextShift() left RespiratoryMode set")
	}
	if s.ClinicalNote != nil {
		t.Error("ResetForNextShift() left ClinicalNote set")
	}
	if s.FirstCompleteMeasurementDone {
		t.Error("ResetForNextShift() left FirstCompleteMeasurementDone true")
	}
	if len(s.FinalizationTopics.Missing()) != 8 {
		t.Error("ResetForNextShift() did not clear FinalizationTopics")
	}
	if s.PendingAction != nil {
		t.Error("ResetForNextShift() left PendingAction set")
	}
	if s.ResumeAfter != nil {
		t.Error("ResetForNextShift() left ResumeAfter set")
	}
	if s.FinishReminderSent {
		t.Error("ResetForNextShift() left FinishReminderSent true")
	}
	if s.ScheduleID != "sched-1" {
		t.Error("ResetForNextShift() should not clear shift context identity")
	}
}
