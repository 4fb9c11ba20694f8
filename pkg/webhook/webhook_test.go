package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return log
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPostClinical_Success(t *testing.T) {
	var received envelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, testLogger())
	note := "tudo bem"
	err := c.PostClinical(context.Background(), ClinicalPayload{SessionID: "sess-1", ClinicalNote: &note})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.Scenario != ScenarioClinical {
		t.Errorf("expected clinical scenario, got %s", received.Scenario)
	}
}

func TestPostOperational_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewClient(server.URL, testLogger())
	err := c.PostOperational(context.Background(), OperationalPayload{SessionID: "sess-1", ClinicalNote: "faltam luvas", Urgency: "high"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPost_RetriesOn500ThenSucceeds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, testLogger())
	err := c.PostOperational(context.Background(), OperationalPayload{SessionID: "sess-1", ClinicalNote: "x", Urgency: "normal"})
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if atomic.LoadInt32(&attempts) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestPost_PermanentClientErrorDoesNotRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL, testLogger())
	err := c.PostOperational(context.Background(), OperationalPayload{SessionID: "sess-1", ClinicalNote: "x", Urgency: "low"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected exactly 1 attempt for a permanent 4xx, got %d", attempts)
	}
}
