// Package backend adapts the five backend Lambda endpoints behind one retrying, circuit-breaker-wrapped HTTP call per
// endpoint, all sharing the structured Timeout/Transient/Permanent4xx/
// Permanent5xx/CircuitOpen error taxonomy from pkg/shared/errors.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/circuitbreaker"
	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/logging"
	sharedhttp "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/http"
	"github.com/sirupsen/logrus"
)

// Endpoints holds the five configured endpoint URLs.
type Endpoints struct {
	GetScheduleStarted     string
	UpdateWorkScheduleResp string
	UpdateClinicalData     string
	UpdateReportSummary    string
	GetNoteReport          string
}

// Adapter is the backend Lambda HTTP client: one breaker per endpoint,
// bounded exponential-backoff retry on Timeout/Transient classifications,
// and the maxRetries/timeout budget
type Adapter struct {
	endpoints  Endpoints
	client     *http.Client
	breakers   *circuitbreaker.Manager
	maxRetries int
	log        *logrus.Logger
}

// NewAdapter builds an Adapter. timeout/maxRetries/cbThreshold/cbCooldown
// come from internal/config.BackendConfig and CircuitBreakerConfig.
func NewAdapter(endpoints Endpoints, timeout time.Duration, maxRetries, cbThreshold int, cbCooldown time.Duration, log *logrus.Logger) *Adapter {
	settings := gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     cbCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cbThreshold)
		},
	}
	return &Adapter{
		endpoints:  endpoints,
		client:     sharedhttp.NewClient(sharedhttp.BackendClientConfig(timeout)),
		breakers:   circuitbreaker.NewManager(settings),
		maxRetries: maxRetries,
		log:        log,
	}
}

// call performs one retrying, breaker-wrapped HTTP POST to url and
// unmarshals the JSON response body into out.
func (a *Adapter) call(ctx context.Context, name, url string, body interface{}, out interface{}) error {
	fields := logging.BackendFields(name)

	result, err := circuitbreaker.Execute(ctx, a.breakers, name, name, func(ctx context.Context) (*http.Response, error) {
		var lastErr error
		backoff := retry.NewExponential(200 * time.Millisecond)
		backoff = retry.WithMaxRetries(uint64(a.maxRetries), backoff)

		var resp *http.Response
		retryErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
			payload, marshalErr := json.Marshal(body)
			if marshalErr != nil {
				return marshalErr
			}
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if reqErr != nil {
				return reqErr
			}
			req.Header.Set("Content-Type", "application/json")

			r, callErr := a.client.Do(req)
			if callErr != nil {
				be := classify(name, 0, callErr)
				lastErr = be
				if be != nil && be.Retryable() {
					return retry.RetryableError(be)
				}
				return be
			}
			if r.StatusCode >= 400 {
				defer r.Body.Close()
				be := classify(name, r.StatusCode, nil)
				lastErr = be
				if be.Retryable() {
					return retry.RetryableError(be)
				}
				return be
			}
			resp = r
			return nil
		})
		if retryErr != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, retryErr
		}
		return resp, nil
	})
	if err != nil {
		a.log.WithFields(fields.Error(err).ToLogrus()).Warn("backend call failed")
		return err
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return sharederrors.FailedToWithDetails("read response body", "backend", name, err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return sharederrors.ParseError(fmt.Sprintf("%s response", name), "json", err)
		}
	}
	return nil
}

// GetScheduleStarted fetches shift context for a caregiver's phone
// number, used by pkg/bootstrap to hydrate a new or stale session.
func (a *Adapter) GetScheduleStarted(ctx context.Context, req GetScheduleStartedRequest) (*GetScheduleStartedResponse, error) {
	var out GetScheduleStartedResponse
	if err := a.call(ctx, "getScheduleStarted", a.endpoints.GetScheduleStarted, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateWorkScheduleResponse records the caregiver's attendance answer.
func (a *Adapter) UpdateWorkScheduleResponse(ctx context.Context, req UpdateWorkScheduleResponseRequest) (*UpdateWorkScheduleResponseResult, error) {
	var out UpdateWorkScheduleResponseResult
	if err := a.call(ctx, "updateWorkScheduleResponse", a.endpoints.UpdateWorkScheduleResp, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateClinicalData submits a clinical commit.
func (a *Adapter) UpdateClinicalData(ctx context.Context, req UpdateClinicalDataRequest) (*UpdateClinicalDataResponse, error) {
	var out UpdateClinicalDataResponse
	if err := a.call(ctx, "updateClinicalData", a.endpoints.UpdateClinicalData, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateReportSummary submits the finalization report.
func (a *Adapter) UpdateReportSummary(ctx context.Context, req UpdateReportSummaryRequest) (*UpdateReportSummaryResult, error) {
	var out UpdateReportSummaryResult
	if err := a.call(ctx, "updatereportsummaryad", a.endpoints.UpdateReportSummary, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNoteReport fetches previously submitted notes to seed finalization
// context on first entry.
func (a *Adapter) GetNoteReport(ctx context.Context, req GetNoteReportRequest) (*GetNoteReportResponse, error) {
	var out GetNoteReportResponse
	if err := a.call(ctx, "getNoteReport", a.endpoints.GetNoteReport, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
