// Package http provides shared *http.Client construction with the
// timeout/retry/idle-connection knobs the rest of the orchestrator needs,
// plus named presets for the backend Lambda adapter, the LLM gateway, and
// the workflow webhook client.
package http

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig controls how NewClient builds its *http.Client and
// underlying transport.
type ClientConfig struct {
	Timeout                 time.Duration
	MaxRetries              int
	DisableSSLVerification  bool
	MaxIdleConns            int
	IdleConnTimeout         time.Duration
	TLSHandshakeTimeout     time.Duration
	ResponseHeaderTimeout   time.Duration
}

// DefaultClientConfig returns a general-purpose configuration: 30s total
// timeout, 3 retries (the retry budget itself is applied by the caller,
// e.g. pkg/backend, not by the transport), 10 idle connections.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:                30 * time.Second,
		MaxRetries:             3,
		DisableSSLVerification: false,
		MaxIdleConns:           10,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  10 * time.Second,
	}
}

// NewClient builds an *http.Client from the given configuration.
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          config.MaxIdleConns,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}
	if config.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in only
	}
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// NewClientWithTimeout builds a client from DefaultClientConfig with its
// timeout overridden.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	return NewClient(cfg)
}

// NewDefaultClient builds a client from DefaultClientConfig unchanged.
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}

// BackendClientConfig configures calls to the backend Lambda endpoints:
// a configurable per-call timeout and a response-header
// budget of half that timeout, since these endpoints are expected to
// respond promptly once the connection succeeds.
func BackendClientConfig(timeout time.Duration) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ResponseHeaderTimeout = timeout / 2
	cfg.MaxRetries = 3
	return cfg
}

// LLMClientConfig configures calls to the LLM Gateway's provider
// endpoints: a generous response-header budget (a third of the overall
// timeout) to absorb model cold-starts without starving the hard ~10s
// per-call cap.
func LLMClientConfig(timeout time.Duration) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ResponseHeaderTimeout = timeout / 3
	cfg.MaxRetries = 2
	return cfg
}

// WebhookClientConfig configures calls to the external workflow webhook:
// short timeout, up to two retries — the webhook is fire-and-forget from
// the caller's perspective.
func WebhookClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxRetries = 2
	return cfg
}
