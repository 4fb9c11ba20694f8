package finalizar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/backend"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/webhook"
)

type fakeGateway struct {
	topics          llm.FinalizationTopicsResult
	confirmation    llm.Confirmation
	lastExtractText string
}

func (f *fakeGateway) IntentClassify(ctx context.Context, text string, state llm.CompactState) (llm.IntentResult, error) {
	return llm.IntentResult{}, nil
}
func (f *fakeGateway) ConfirmationClassify(ctx context.Context, text string) (llm.Confirmation, error) {
	return f.confirmation, nil
}
func (f *fakeGateway) OperationalNoteDetect(ctx context.Context, text string) (llm.OperationalNoteResult, error) {
	return llm.OperationalNoteResult{}, nil
}
func (f *fakeGateway) ClinicalExtract(ctx context.Context, text string) (llm.ClinicalExtractResult, error) {
	return llm.ClinicalExtractResult{}, nil
}
func (f *fakeGateway) FinalizationTopicExtract(ctx context.Context, text string, already llm.FinalizationTopicsResult) (llm.FinalizationTopicsResult, error) {
	f.lastExtractText = text
	return f.topics, nil
}
func (f *fakeGateway) GenerateReply(ctx context.Context, state llm.CompactState, outcomeCode, languageHint string) (string, error) {
	return "", nil
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(nopWriter{})
	return log
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *backend.Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return backend.NewAdapter(backend.Endpoints{
		UpdateReportSummary: srv.URL + "/summary",
	}, 2e9, 1, 5, 1e9, testLogger())
}

func ptr(s string) *string { return &s }

func TestHandle_PartialTopicsAsksForMore(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called while topics are incomplete")
	})
	h := NewHandler(adapter, nil, &fakeGateway{topics: llm.FinalizationTopicsResult{Alimentacao: "comeu bem"}})

	state := session.New("s1", "5511999998888")
	outcome, err := h.Handle(context.Background(), state, session.Inbound{Text: "comeu bem no almoço"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.OutcomeCode != OutcomeTopicCollected {
		t.Errorf("expected %s, got %s", OutcomeTopicCollected, outcome.OutcomeCode)
	}
	if state.FinalizationTopics.Alimentacao == nil {
		t.Error("expected alimentacao to be recorded")
	}
}

func completeTopics() llm.FinalizationTopicsResult {
	return llm.FinalizationTopicsResult{
		Alimentacao: "comeu bem", Evacuacoes: "normal", Sono: "dormiu bem", Humor: "calmo",
		Medicacoes: "em dia", Atividades: "caminhada", AdicionalClinico: "nada", AdicionalAdministrativo: "nada",
	}
}

func TestHandle_CompleteTopicsStages(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called before confirmation")
	})
	h := NewHandler(adapter, nil, &fakeGateway{topics: completeTopics()})

	state := session.New("s1", "5511999998888")
	outcome, err := h.Handle(context.Background(), state, session.Inbound{Text: "tudo certo hoje"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.OutcomeCode != OutcomeStaged {
		t.Errorf("expected %s, got %s", OutcomeStaged, outcome.OutcomeCode)
	}
	if state.PendingAction == nil || state.PendingAction.Flow != session.FlowFinalizeCommit {
		t.Fatalf("expected a staged finalize_commit pending action, got %+v", state.PendingAction)
	}
}

func TestHandle_ConfirmationYesCommitsAndResetsState(t *testing.T) {
	called := false
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true}`))
	})
	h := NewHandler(adapter, nil, &fakeGateway{confirmation: llm.ConfirmationYes})

	state := session.New("s1", "5511999998888")
	state.FinalizationTopics = session.FinalizationTopics{
		Alimentacao: ptr("comeu bem"), Evacuacoes: ptr("normal"), Sono: ptr("dormiu bem"), Humor: ptr("calmo"),
		Medicacoes: ptr("em dia"), Atividades: ptr("caminhada"), AdicionalClinico: ptr("nada"), AdicionalAdministrativo: ptr("nada"),
	}
	state.PendingAction = &session.PendingAction{Flow: session.FlowFinalizeCommit, Status: session.PendingStaged}

	outcome, err := h.Handle(context.Background(), state, session.Inbound{Text: "sim"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected backend UpdateReportSummary to be called")
	}
	if outcome.OutcomeCode != OutcomeCommitted {
		t.Errorf("expected %s, got %s", OutcomeCommitted, outcome.OutcomeCode)
	}
	if state.PendingAction != nil {
		t.Error("expected pending action cleared")
	}
	if state.FinalizationTopics.Alimentacao != nil {
		t.Error("expected ResetForNextShift to clear the finalization buffer")
	}
}

func TestHandle_ConfirmationNoKeepsTopicsClearsPending(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called on cancel")
	})
	h := NewHandler(adapter, nil, &fakeGateway{confirmation: llm.ConfirmationNo})

	state := session.New("s1", "5511999998888")
	state.FinalizationTopics = session.FinalizationTopics{Alimentacao: ptr("comeu bem")}
	state.PendingAction = &session.PendingAction{Flow: session.FlowFinalizeCommit, Status: session.PendingStaged}

	outcome, err := h.Handle(context.Background(), state, session.Inbound{Text: "não, espera"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.OutcomeCode != OutcomeTopicCollected {
		t.Errorf("expected %s, got %s", OutcomeTopicCollected, outcome.OutcomeCode)
	}
	if state.PendingAction != nil {
		t.Error("expected pending action cleared")
	}
	if state.FinalizationTopics.Alimentacao == nil {
		t.Error("expected collected topics to be kept on cancel")
	}
}

func TestHandle_FirstEntrySeedsExtractionFromNoteReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"notes":[{"noteDescAI":"paciente dormiu à tarde","timestamp":"2025-05-01T14:00:00Z"}]}`))
	}))
	t.Cleanup(srv.Close)
	adapter := backend.NewAdapter(backend.Endpoints{GetNoteReport: srv.URL + "/notes"}, 2e9, 1, 5, 1e9, testLogger())

	gw := &fakeGateway{topics: llm.FinalizationTopicsResult{Sono: "dormiu à tarde"}}
	h := NewHandler(adapter, nil, gw)

	state := session.New("s1", "5511999998888")
	state.ReportID = "r1"
	state.ReportDate = "2025-05-01"

	if _, err := h.Handle(context.Background(), state, session.Inbound{Text: "vamos fechar"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gw.lastExtractText, "paciente dormiu à tarde") {
		t.Errorf("expected the shift's notes appended to the extraction input, got %q", gw.lastExtractText)
	}

	// Second entry with a topic already collected must not re-fetch.
	gw.lastExtractText = ""
	if _, err := h.Handle(context.Background(), state, session.Inbound{Text: "comeu bem"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(gw.lastExtractText, "paciente dormiu à tarde") {
		t.Error("expected note seeding only on first entry")
	}
}

func TestHandle_NewlyFilledTopicsPostToWebhook(t *testing.T) {
	var posts []string
	whSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Scenario string `json:"scenario"`
			Payload  struct {
				Topic string `json:"topic"`
			} `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err == nil && env.Scenario == "finalization" {
			posts = append(posts, env.Payload.Topic)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(whSrv.Close)

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called while topics are incomplete")
	})
	h := NewHandler(adapter, webhook.NewClient(whSrv.URL, testLogger()), &fakeGateway{
		topics: llm.FinalizationTopicsResult{Sono: "dormiu bem", Humor: "calmo"},
	})

	state := session.New("s1", "5511999998888")
	state.FinalizationTopics = session.FinalizationTopics{Sono: ptr("já coletado")}

	if _, err := h.Handle(context.Background(), state, session.Inbound{Text: "dormiu bem, estava calmo"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 || posts[0] != "humor" {
		t.Errorf("expected exactly the newly filled topic posted, got %v", posts)
	}
}
