// Package logging provides a chained structured-fields builder rendered
// through logrus, so every package logs with the same vocabulary
// (component, operation, resource, duration...) regardless of which part
// of the orchestrator produced the entry.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable map of structured log fields.
type Fields map[string]interface{}

// NewFields starts an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus converts Fields into a logrus.Fields value ready to pass to
// WithFields.
func (f Fields) ToLogrus() logrus.Fields {
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		lf[k] = v
	}
	return lf
}

// DatabaseFields seeds a field set for a store operation against a table.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// HTTPFields seeds a field set for an inbound or outbound HTTP call.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// SessionFields seeds a field set scoped to a session-lifecycle operation.
func SessionFields(operation, sessionID string) Fields {
	return NewFields().Component("session").Operation(operation).Resource("session", sessionID)
}

// RouterFields seeds a field set describing a gate decision.
func RouterFields(gate, sessionID string) Fields {
	return NewFields().Component("router").Operation("decide").Resource("session", sessionID).Custom("gate", gate)
}

// SubgraphFields seeds a field set describing a subgraph turn.
func SubgraphFields(subgraph, outcomeCode, sessionID string) Fields {
	return NewFields().
		Component("subgraph").
		Operation(subgraph).
		Resource("session", sessionID).
		Custom("outcome_code", outcomeCode)
}

// LLMFields seeds a field set describing an LLM gateway call.
func LLMFields(call, provider, model string) Fields {
	return NewFields().Component("llm").Operation(call).Custom("provider", provider).Custom("model", model)
}

// BackendFields seeds a field set describing a backend Lambda call.
func BackendFields(endpoint string) Fields {
	return NewFields().Component("backend").Operation(endpoint)
}

// WorkflowFields seeds a field set for the workflow-webhook delivery.
func WorkflowFields(operation, resourceName string) Fields {
	return NewFields().Component("workflow").Operation(operation).Resource("workflow", resourceName)
}

// SecurityFields seeds a field set for auth/authorization-adjacent events
// (idempotency-key replay, lock ownership checks).
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// PerformanceFields seeds a field set for a timed, pass/fail operation.
func PerformanceFields(operation string, d time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(d).Custom("success", success)
}

// MetricsFields seeds a field set describing a metric recording.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}
