package ingress

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/ingress/middleware"
	redisstore "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/store/redis"

	pgstore "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/store/postgres"
)

const (
	templateFiredLockLease = 5 * time.Second
	templateFiredAttempts  = 3
)

// TemplateFiredRequest is the decoded body of POST /hooks/template-fired.
type TemplateFiredRequest struct {
	PhoneNumber string                 `json:"phoneNumber"`
	Template    string                 `json:"template"`
	Metadata    *TemplateFiredMetadata `json:"metadata,omitempty"`
}

// TemplateFiredMetadata carries the externally-fired hints. The hook
// merges FinishReminderSent and ShiftDay into session state;
// HintCamposFaltantes is logged and not stored.
type TemplateFiredMetadata struct {
	HintCamposFaltantes []string `json:"hint_campos_faltantes,omitempty"`
	FinishReminderSent  *bool    `json:"finishReminderSent,omitempty"`
	ShiftDay            string   `json:"shiftDay,omitempty"`
}

// TemplateFiredHandler applies an externally-fired template's hints to
// the matching session under the same per-session lock the engine uses,
// so a template-fired hook never races an in-flight caregiver turn.
type TemplateFiredHandler struct {
	Sessions *pgstore.SessionStore
	Locks    *redisstore.LockStore
	Log      *logrus.Logger
}

// Apply loads req's session under lock, merges the finishReminderSent and
// shiftDay hints, logs hint_campos_faltantes without storing it, and
// saves. Missing sessions are not an error: a template can fire before
// the caregiver's first message creates the session row, in which case
// the default state is seeded and immediately hinted.
func (h *TemplateFiredHandler) Apply(ctx context.Context, req TemplateFiredRequest) error {
	sessionID := canonicalSessionID(req.PhoneNumber)
	owner := "template-fired:" + req.Template + ":" + sessionID

	if err := h.Locks.AcquireWithRetry(ctx, sessionID, owner, templateFiredLockLease, templateFiredAttempts, middleware.JitterBackoff); err != nil {
		return err
	}
	defer func() { _ = h.Locks.Release(context.Background(), sessionID, owner) }()

	state, version, err := h.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if req.Metadata != nil {
		if req.Metadata.FinishReminderSent != nil {
			state.FinishReminderSent = *req.Metadata.FinishReminderSent
		}
		if req.Metadata.ShiftDay != "" {
			state.ShiftDay = req.Metadata.ShiftDay
		}
		if len(req.Metadata.HintCamposFaltantes) > 0 {
			h.Log.WithField("sessionId", sessionID).
				WithField("hintCamposFaltantes", req.Metadata.HintCamposFaltantes).
				Info("template-fired hint received")
		}
	}

	return h.Sessions.SaveSession(ctx, state, version)
}
