// Package ingress is the HTTP front door:
// go-chi/chi/v5 with go-chi/cors for the admin dashboard's cross-origin
// reads, requests validated against an embedded OpenAPI 3 document via
// getkin/kin-openapi before any handler runs, wrapping pkg/engine.Engine
// for the caregiver-facing ingest endpoint and pkg/ingress's own
// template-fired hint merge for the template hook, beside the two health
// probes.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/getkin/kin-openapi/routers"
	"github.com/sirupsen/logrus"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/engine"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/ingress/middleware"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
)

const requestDeadline = 45 * time.Second

// Pinger reports whether a dependency the readiness probe checks is
// reachable.
type Pinger func(ctx context.Context) error

// Router builds the top-level chi router wrapping Engine.
type Router struct {
	Engine        *engine.Engine
	TemplateFired *TemplateFiredHandler
	Readiness     []Pinger
	Log           *logrus.Logger

	collapser *middleware.Collapser
}

// NewRouter constructs the chi handler tree. A malformed embedded OpenAPI
// document fails here, at process startup, rather than on a caregiver's
// first message.
func NewRouter(rt *Router) (http.Handler, error) {
	validator, err := loadValidator()
	if err != nil {
		return nil, err
	}
	rt.collapser = middleware.NewCollapser()

	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.Recoverer,
		chimw.Timeout(requestDeadline),
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", rt.handleHealthz)
	r.Get("/readyz", rt.handleReadyz)
	r.Post("/webhook/ingest", rt.withValidation(validator, rt.handleIngest))
	r.Post("/hooks/template-fired", rt.withValidation(validator, rt.handleTemplateFired))

	return r, nil
}

func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, ping := range rt.Readiness {
		if err := ping(ctx); err != nil {
			rt.Log.WithError(err).Warn("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func inputErrorResponse(w http.ResponseWriter, sessionID string) {
	writeJSON(w, http.StatusBadRequest, engine.Result{
		Reply:       "Desculpe, não entendi sua mensagem.",
		SessionID:   sessionID,
		Status:      "error",
		OutcomeCode: "input_error",
	})
}

// ingestRequestBody mirrors the wire shape.
type ingestRequestBody struct {
	MessageID   string                 `json:"message_id"`
	PhoneNumber string                 `json:"phoneNumber"`
	Text        string                 `json:"text"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

func (rt *Router) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		inputErrorResponse(w, "")
		return
	}

	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = body.MessageID
	}

	in := session.Inbound{
		SessionID:      canonicalSessionID(body.PhoneNumber),
		PhoneNumber:    body.PhoneNumber,
		MessageID:      body.MessageID,
		IdempotencyKey: idempotencyKey,
		Text:           body.Text,
		Meta:           body.Meta,
	}

	v, err, _ := rt.collapser.Do(idempotencyKey, func() (interface{}, error) {
		return rt.Engine.HandleMessage(r.Context(), in)
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, engine.Result{
			SessionID: in.SessionID, Status: "error", OutcomeCode: "internal_error",
		})
		return
	}

	result := v.(engine.Result)
	writeJSON(w, statusCodeFor(result), result)
}

func statusCodeFor(result engine.Result) int {
	switch result.Status {
	case "busy":
		return http.StatusTooManyRequests
	case "error":
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func (rt *Router) handleTemplateFired(w http.ResponseWriter, r *http.Request) {
	var body TemplateFiredRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		inputErrorResponse(w, "")
		return
	}

	if err := rt.TemplateFired.Apply(r.Context(), body); err != nil {
		rt.Log.WithError(err).Error("template-fired apply failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withValidation buffers the body so kin-openapi's read of r.Body (which
// consumes the reader) doesn't starve the wrapped handler's own decode.
func (rt *Router) withValidation(v routers.Router, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			inputErrorResponse(w, "")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))

		if err := validateRequest(v, r); err != nil {
			inputErrorResponse(w, "")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(raw))
		next(w, r)
	}
}
