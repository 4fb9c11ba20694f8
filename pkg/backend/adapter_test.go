package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

func TestAdapter_GetScheduleStarted_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GetScheduleStartedResponse{
			ScheduleID: "sched-1",
			ShiftAllow: true,
		})
	}))
	defer server.Close()

	adapter := NewAdapter(Endpoints{GetScheduleStarted: server.URL}, 5*time.Second, 3, 5, 60*time.Second, testLogger())

	resp, err := adapter.GetScheduleStarted(context.Background(), GetScheduleStartedRequest{PhoneNumber: "5511999999999"})
	if err != nil {
		t.Fatalf("GetScheduleStarted() error = %v", err)
	}
	if resp.ScheduleID != "sched-1" {
		t.Errorf("ScheduleID = %v, want sched-1", resp.ScheduleID)
	}
	if !resp.ShiftAllow {
		t.Error("ShiftAllow = false, want true")
	}
}

func TestAdapter_UpdateClinicalData_RetriesOn429(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(UpdateClinicalDataResponse{Success: true, Scenario: ScenarioVitalSignsOnly})
	}))
	defer server.Close()

	adapter := NewAdapter(Endpoints{UpdateClinicalData: server.URL}, 5*time.Second, 3, 5, 60*time.Second, testLogger())

	resp, err := adapter.UpdateClinicalData(context.Background(), UpdateClinicalDataRequest{ReportID: "r1"})
	if err != nil {
		t.Fatalf("UpdateClinicalData() error = %v", err)
	}
	if !resp.Success {
		t.Error("Success = false, want true after retry")
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestAdapter_GetNoteReport_PermanentErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	adapter := NewAdapter(Endpoints{GetNoteReport: server.URL}, 5*time.Second, 3, 5, 60*time.Second, testLogger())

	_, err := adapter.GetNoteReport(context.Background(), GetNoteReportRequest{ReportID: "r1"})
	if err == nil {
		t.Fatal("expected error for a 400 response")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a permanent 4xx, got %d", attempts)
	}
}
