package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
)

// retryableMessageSubstrings classifies HTTP transport failures against
// the backend Lambda endpoints by message, the same way driver errors
// get sorted into retryable vs terminal.
var retryableMessageSubstrings = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"too many connections",
	"connection lost",
	"server closed the connection",
	"broken pipe",
	"i/o timeout",
	"network is unreachable",
	"no route to host",
}

// classify turns a round-trip error or HTTP status code into a
// sharederrors.BackendKind,
func classify(endpoint string, statusCode int, err error) *sharederrors.BackendError {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return sharederrors.NewBackendError(sharederrors.BackendTimeout, endpoint, err)
		}
		if errors.Is(err, context.Canceled) {
			return sharederrors.NewBackendError(sharederrors.BackendPermanent5xx, endpoint, err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return sharederrors.NewBackendError(sharederrors.BackendTimeout, endpoint, err)
		}
		msg := strings.ToLower(err.Error())
		for _, s := range retryableMessageSubstrings {
			if strings.Contains(msg, s) {
				return sharederrors.NewBackendError(sharederrors.BackendTransient, endpoint, err)
			}
		}
		return sharederrors.NewBackendError(sharederrors.BackendPermanent5xx, endpoint, err)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return sharederrors.NewBackendError(sharederrors.BackendTransient, endpoint, nil)
	case statusCode >= 500:
		return sharederrors.NewBackendError(sharederrors.BackendPermanent5xx, endpoint, nil)
	case statusCode >= 400:
		return sharederrors.NewBackendError(sharederrors.BackendPermanent4xx, endpoint, nil)
	default:
		return nil
	}
}
