// Package bootstrap seeds a session's shift context from the backend's
// getScheduleStarted lookup, both on first contact and
// after a successful attendance confirmation re-seeds it.
package bootstrap

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/backend"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/logging"
)

// Hydrator seeds session.State's shift context by calling the backend.
// Its Hydrate method satisfies the escala subgraph's Bootstrapper
// interface without an import cycle (escala depends on bootstrap's
// interface shape, not this concrete type).
type Hydrator struct {
	Backend *backend.Adapter
	log     *logrus.Logger
}

// NewHydrator builds a Hydrator.
func NewHydrator(adapter *backend.Adapter, log *logrus.Logger) *Hydrator {
	return &Hydrator{Backend: adapter, log: log}
}

// Hydrate calls getScheduleStarted for state.PhoneNumber and overlays the
// response onto state's shift-context fields and the caregiver name,
// company and cooperative, leaving SessionID, PhoneNumber and any in-flight
// clinical/finalization buffers untouched.
func (h *Hydrator) Hydrate(ctx context.Context, state *session.State) error {
	resp, err := h.Backend.GetScheduleStarted(ctx, backend.GetScheduleStartedRequest{PhoneNumber: state.PhoneNumber})
	if err != nil {
		h.log.WithFields(logging.BackendFields("getScheduleStarted").Error(err).ToLogrus()).
			Warn("bootstrap hydrate failed")
		return err
	}

	state.ScheduleID = resp.ScheduleID
	state.PatientID = resp.PatientID
	state.PatientName = resp.PatientName
	state.ReportID = resp.ReportID
	state.ReportDate = resp.ReportDate
	state.ShiftDay = resp.ShiftDay
	state.ShiftStart = resp.ShiftStart
	state.ShiftEnd = resp.ShiftEnd
	state.ShiftAllow = resp.ShiftAllow
	state.Response = session.ResponseValue(resp.Response)
	state.ScheduleStarted = resp.ScheduleStarted
	state.FinishReminderSent = resp.FinishReminderSent
	state.CaregiverName = resp.CaregiverName
	state.Company = resp.Company
	state.Cooperative = resp.Cooperative

	return nil
}
