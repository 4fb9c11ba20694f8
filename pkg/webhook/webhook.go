// Package webhook posts clinical and operational payloads to the
// external n8n workflow webhook. It is a
// fire-and-forget client from the caller's perspective: a short timeout
// and up to two retries, no circuit breaker, because the webhook delivery is
// idempotent on the receiving side and errors never block other flows.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	sharedhttp "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/http"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/logging"
)

// Scenario names which payload envelope a post carries; the receiving
// workflow switches on it.
type Scenario string

const (
	ScenarioClinical     Scenario = "clinical"
	ScenarioOperational  Scenario = "operational"
	ScenarioFinalization Scenario = "finalization"
)

// ClinicalPayload mirrors the clinical backend's UpdateClinicalData
// envelope plus the sessionID the webhook needs for correlation.
type ClinicalPayload struct {
	SessionID           string   `json:"sessionID"`
	ReportID            string   `json:"reportID"`
	ReportDate          string   `json:"reportDate"`
	HeartRate           *int     `json:"heartRate,omitempty"`
	RespRate            *int     `json:"respRate,omitempty"`
	SaturationO2        *int     `json:"saturationO2,omitempty"`
	BloodPressure       *string  `json:"bloodPressure,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	SupplementaryOxygen *bool    `json:"supplementaryOxygen,omitempty"`
	ClinicalNote        *string  `json:"clinicalNote,omitempty"`
}

// OperationalPayload is the envelope for an urgent operational note.
type OperationalPayload struct {
	SessionID    string `json:"sessionID"`
	ClinicalNote string `json:"clinicalNote"`
	Urgency      string `json:"urgency"`
}

// FinalizationTopicPayload carries one newly collected finalization
// topic, posted as soon as the caregiver fills it rather than held back
// until the final summary commit.
type FinalizationTopicPayload struct {
	SessionID  string `json:"sessionID"`
	ReportID   string `json:"reportID"`
	ReportDate string `json:"reportDate"`
	Topic      string `json:"topic"`
	Value      string `json:"value"`
}

// Client posts workflow payloads to the configured webhook URL.
type Client struct {
	url        string
	httpClient *http.Client
	maxRetries int
	log        *logrus.Logger
}

// NewClient builds a Client targeting url using the shared
// WebhookClientConfig preset.
func NewClient(url string, log *logrus.Logger) *Client {
	cfg := sharedhttp.WebhookClientConfig()
	return &Client{
		url:        url,
		httpClient: sharedhttp.NewClient(cfg),
		maxRetries: cfg.MaxRetries,
		log:        log,
	}
}

// PostClinical delivers a clinical payload.
func (c *Client) PostClinical(ctx context.Context, payload ClinicalPayload) error {
	return c.post(ctx, ScenarioClinical, payload)
}

// PostOperational delivers an operational note payload.
func (c *Client) PostOperational(ctx context.Context, payload OperationalPayload) error {
	return c.post(ctx, ScenarioOperational, payload)
}

// PostFinalizationTopic delivers one newly filled finalization topic.
func (c *Client) PostFinalizationTopic(ctx context.Context, payload FinalizationTopicPayload) error {
	return c.post(ctx, ScenarioFinalization, payload)
}

type envelope struct {
	Scenario Scenario    `json:"scenario"`
	Payload  interface{} `json:"payload"`
}

func (c *Client) post(ctx context.Context, scenario Scenario, payload interface{}) error {
	fields := logging.WorkflowFields("webhook_post", string(scenario))

	body, err := json.Marshal(envelope{Scenario: scenario, Payload: payload})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	backoff := retry.NewExponential(100 * time.Millisecond)
	backoff = retry.WithMaxRetries(uint64(c.maxRetries), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			c.log.WithFields(fields.Error(doErr).ToLogrus()).Warn("webhook post failed, retrying")
			return retry.RetryableError(doErr)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			err := sharederrors.NewBackendError(sharederrors.BackendPermanent5xx, "webhook", fmt.Errorf("status %d", resp.StatusCode))
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= 400 {
			return sharederrors.NewBackendError(sharederrors.BackendPermanent4xx, "webhook", fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil
	})
}
