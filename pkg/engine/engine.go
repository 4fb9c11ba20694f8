// Package engine is the dependency-injected orchestrator that wires
// persistence, the lock/idempotency middleware, the LLM gateway, the
// router, the subgraphs, the backend adapter, and the fiscal consolidator
// into a single per-message turn.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/audit"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/fiscal"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/metrics"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/router"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	pgstore "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/store/postgres"
	redisstore "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/store/redis"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph/auxiliar"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph/operacional"
)

const (
	maxOCCAttempts  = 3
	lockLease       = 10 * time.Second
	lockMaxAttempts = 3
)

// Result is the rendered reply the HTTP boundary returns to the gateway,
// serialized with the ingest endpoint's wire field names.
type Result struct {
	Reply       string `json:"reply"`
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"` // "success" | "busy" | "error"
	OutcomeCode string `json:"outcomeCode"`
}

// Bootstrapper hydrates shift context for a session, used both on first
// contact and after a successful escala commit.
type Bootstrapper interface {
	Hydrate(ctx context.Context, state *session.State) error
}

// Engine ties every component together for a single inbound message.
type Engine struct {
	Sessions      *pgstore.SessionStore
	PendingAction *pgstore.PendingActionStore
	Locks         *redisstore.LockStore
	Idempotency   *redisstore.IdempotencyStore
	Buffer        *redisstore.BufferStore
	Gateway       llm.Gateway
	Bootstrapper  Bootstrapper
	Consolidator  *fiscal.Consolidator
	Audit         *audit.Writer
	Metrics       *metrics.Registry
	Subgraphs     map[router.Subgraph]subgraph.Handler
	Log           *logrus.Logger
}

// HandleMessage runs one full turn for in: replay from the idempotency
// cache if this is a retried delivery, acquire the lock, load state, decide
// a gate, run the subgraph (honoring at most one Outcome.Continue re-route
// within the turn), retry on OCC conflict, render the reply, and cache it.
func (e *Engine) HandleMessage(ctx context.Context, in session.Inbound) (Result, error) {
	ctx, span := e.Metrics.Tracer.Start(ctx, "engine.HandleMessage")
	span.SetAttributes(attribute.String("session_id", in.SessionID))
	defer span.End()

	if cached, err := e.Idempotency.Get(ctx, in.IdempotencyKey); err == nil && cached != nil {
		// The record holds the whole serialized Result, not just the
		// reply text: a retried delivery must replay status and outcome
		// code byte-identically, because state has advanced since.
		var replay Result
		if unmarshalErr := json.Unmarshal(cached.ResponseBody, &replay); unmarshalErr == nil {
			span.SetAttributes(attribute.Bool("idempotent_replay", true))
			return replay, nil
		}
		e.Log.WithField("idempotencyKey", in.IdempotencyKey).Warn("unreadable idempotency record, reprocessing")
	}

	owner := in.MessageID
	acquireCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.Locks.AcquireWithRetry(acquireCtx, in.SessionID, owner, lockLease, lockMaxAttempts, jitterBackoff); err != nil {
		e.Metrics.LockDenied.Inc()
		span.SetAttributes(attribute.String("outcome_code", "lock_denied"))
		return Result{SessionID: in.SessionID, Status: "busy", OutcomeCode: "lock_denied"}, nil
	}
	defer func() { _ = e.Locks.Release(context.Background(), in.SessionID, owner) }()

	result, err := e.runWithOCCRetry(ctx, in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{SessionID: in.SessionID, Status: "error", OutcomeCode: "internal_error"}, nil
	}

	span.SetAttributes(attribute.String("outcome_code", result.OutcomeCode), attribute.String("status", result.Status))
	e.Metrics.RecordTurn(ctx, result.OutcomeCode)

	if body, marshalErr := json.Marshal(result); marshalErr == nil {
		if err := e.Idempotency.Put(ctx, in.IdempotencyKey, 200, body); err != nil {
			e.Log.WithError(err).Warn("idempotency cache write failed")
		}
	}

	return result, nil
}

func (e *Engine) runWithOCCRetry(ctx context.Context, in session.Inbound) (Result, error) {
	// deliveredOutcome marks an operational note that already reached the
	// webhook on a prior attempt: the delivery is idempotent downstream,
	// so an OCC conflict only replays the state write, never the post.
	var deliveredOutcome string

	for attempt := 0; attempt < maxOCCAttempts; attempt++ {
		if attempt > 0 {
			// Every retry follows an OCC conflict: back off with jitter
			// before reloading so racing writers spread out.
			select {
			case <-time.After(jitterBackoff(attempt - 1)):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		state, version, err := e.Sessions.LoadSession(ctx, in.SessionID)
		if err != nil {
			return Result{}, err
		}

		hydrated := true
		if state.ReportID == "" && e.Bootstrapper != nil {
			if hydrateErr := e.Bootstrapper.Hydrate(ctx, state); hydrateErr != nil {
				// Degrade gracefully: without shift context the session
				// answers in help mode, telling the caregiver no shift
				// could be identified, instead of routing normally.
				e.Log.WithError(hydrateErr).Warn("bootstrap hydrate failed, answering in help mode")
				hydrated = false
			}
		}

		if deliveredOutcome != "" {
			state.LastUserText = in.Text
			state.LastReplyCode = deliveredOutcome
			if err := e.Sessions.SaveSession(ctx, state, version); err != nil {
				var conflict *sharederrors.ConflictError
				if errors.As(err, &conflict) {
					e.Metrics.OCCRetries.Inc()
					continue
				}
				return Result{}, err
			}
			_ = e.Buffer.Append(ctx, in.SessionID, session.BufferEntry{
				SessionID:      in.SessionID,
				CreatedAtEpoch: time.Now().Unix(),
				Direction:      session.DirectionIn,
				Text:           in.Text,
				MessageID:      in.MessageID,
			})
			return e.render(ctx, state, deliveredOutcome, nil), nil
		}

		if !hydrated {
			if handler, ok := e.Subgraphs[router.SubgraphAuxiliar]; ok {
				_, _ = handler.Handle(ctx, state, in)
			}
			state.LastUserText = in.Text
			state.LastReplyCode = auxiliar.OutcomeNoShift
			if err := e.Sessions.SaveSession(ctx, state, version); err != nil {
				var conflict *sharederrors.ConflictError
				if errors.As(err, &conflict) {
					e.Metrics.OCCRetries.Inc()
					continue
				}
				return Result{}, err
			}
			_ = e.Buffer.Append(ctx, in.SessionID, session.BufferEntry{
				SessionID:      in.SessionID,
				CreatedAtEpoch: time.Now().Unix(),
				Direction:      session.DirectionIn,
				Text:           in.Text,
				MessageID:      in.MessageID,
			})
			return e.render(ctx, state, auxiliar.OutcomeNoShift, nil), nil
		}

		outcomeCode, err := e.runTurn(ctx, state, in)
		if err != nil {
			// A permanent backend failure means the staged action can
			// never succeed as-is: clear it so the caregiver can restart,
			// per the BackendPermanent rule. Best-effort write —
			// a conflict here just leaves the stale staged action for the
			// next turn's reload to deal with.
			var backendErr *sharederrors.BackendError
			if errors.As(err, &backendErr) && !backendErr.Retryable() && state.PendingAction != nil {
				state.PendingAction = nil
				if saveErr := e.Sessions.SaveSession(ctx, state, version); saveErr == nil {
					e.syncPendingAction(ctx, state)
				}
			}
			return e.render(ctx, state, outcomeCode, err), nil
		}

		state.LastUserText = in.Text
		state.LastReplyCode = outcomeCode

		if err := e.Sessions.SaveSession(ctx, state, version); err != nil {
			var conflict *sharederrors.ConflictError
			if errors.As(err, &conflict) {
				e.Metrics.OCCConflicts.WithLabelValues(outcomeCode).Inc()
				e.Metrics.OCCRetries.Inc()
				if outcomeCode == operacional.OutcomeDelivered {
					deliveredOutcome = outcomeCode
				}
				continue
			}
			return Result{}, err
		}

		e.syncPendingAction(ctx, state)

		_ = e.Buffer.Append(ctx, in.SessionID, session.BufferEntry{
			SessionID:      in.SessionID,
			CreatedAtEpoch: time.Now().Unix(),
			Direction:      session.DirectionIn,
			Text:           in.Text,
			MessageID:      in.MessageID,
		})

		if e.Audit != nil {
			e.Audit.Record(in.SessionID, outcomeCode, map[string]interface{}{"text": in.Text})
		}

		return e.render(ctx, state, outcomeCode, nil), nil
	}

	return Result{SessionID: in.SessionID, Status: "error", OutcomeCode: "conflict"}, nil
}

// runTurn decides a gate, runs its subgraph, and — honoring the one-hop
// continuation cap — re-routes at most once more within the same turn.
func (e *Engine) runTurn(ctx context.Context, state *session.State, in session.Inbound) (string, error) {
	classifications, err := e.classify(ctx, state, in, false)
	if err != nil {
		return "", err
	}

	gate := router.Decide(state, classifications)
	e.Metrics.GateSelections.WithLabelValues(string(gate.Subgraph), gate.Reason).Inc()

	handler, ok := e.Subgraphs[gate.Subgraph]
	if !ok {
		return "", &sharederrors.InvariantViolation{Invariant: "subgraph_registered", Detail: string(gate.Subgraph)}
	}

	outcome, err := handler.Handle(ctx, state, in)
	if err != nil {
		e.Metrics.SubgraphOutcomes.WithLabelValues(string(gate.Subgraph), "error").Inc()
		return outcome.OutcomeCode, err
	}
	e.Metrics.SubgraphOutcomes.WithLabelValues(string(gate.Subgraph), outcome.OutcomeCode).Inc()

	if outcome.Continue {
		// The continuation hop never re-detects an operational note: the
		// first hop already delivered it, and letting gate 2/3 fire again
		// on the same text would post the webhook twice in one turn.
		classifications, err = e.classify(ctx, state, in, true)
		if err != nil {
			return outcome.OutcomeCode, nil
		}
		nextGate := router.Decide(state, classifications)
		nextHandler, ok := e.Subgraphs[nextGate.Subgraph]
		if !ok {
			return outcome.OutcomeCode, nil
		}
		nextOutcome, err := nextHandler.Handle(ctx, state, in)
		if err != nil {
			return nextOutcome.OutcomeCode, err
		}
		e.Metrics.SubgraphOutcomes.WithLabelValues(string(nextGate.Subgraph), nextOutcome.OutcomeCode).Inc()
		return nextOutcome.OutcomeCode, nil
	}

	return outcome.OutcomeCode, nil
}

// classify resolves only the LLM calls router.Decide actually needs for
// state's current shape, per router.NeedsOperationalNoteCheck/
// NeedsIntentClassify's skip rules. continuation suppresses the
// operational-note check on a same-turn re-route.
func (e *Engine) classify(ctx context.Context, state *session.State, in session.Inbound, continuation bool) (router.Classifications, error) {
	var classifications router.Classifications

	if !continuation && router.NeedsOperationalNoteCheck(state) {
		note, err := e.Gateway.OperationalNoteDetect(ctx, in.Text)
		if err != nil {
			return classifications, err
		}
		classifications.OperationalNote = note
	}

	if state.PendingAction != nil && state.PendingAction.Status == session.PendingStaged && !classifications.OperationalNote.IsOperational {
		confirmation, err := e.Gateway.ConfirmationClassify(ctx, in.Text)
		if err != nil {
			return classifications, err
		}
		classifications.Confirmation = confirmation
	}

	if router.NeedsIntentClassify(state, classifications.OperationalNote) {
		compact := e.compactState(state)
		intent, err := e.Gateway.IntentClassify(ctx, in.Text, compact)
		if err != nil {
			return classifications, err
		}
		classifications.Intent = intent
	}

	return classifications, nil
}

// syncPendingAction mirrors state.PendingAction into the queryable
// pending_action table after a successful session save: staged into a
// durable row, cleared when the subgraph resolved it. Errors here are
// logged, not fatal — session.State's embedded JSON remains the
// authoritative record the engine itself reloads on the next turn.
func (e *Engine) syncPendingAction(ctx context.Context, state *session.State) {
	if e.PendingAction == nil {
		return
	}
	var err error
	if state.PendingAction != nil {
		err = e.PendingAction.Put(ctx, state.SessionID, state.PendingAction)
	} else {
		err = e.PendingAction.Clear(ctx, state.SessionID)
	}
	if err != nil {
		e.Log.WithError(err).Warn("pending action sync failed")
	}
}

func (e *Engine) compactState(state *session.State) llm.CompactState {
	return llm.CompactState{
		ShiftAllow:         state.ShiftAllow,
		Response:           string(state.Response),
		FinishReminderSent: state.FinishReminderSent,
		HasPendingAction:   state.PendingAction != nil,
		MissingVitals:      state.VitalsBuffer.Missing(),
	}
}

func (e *Engine) render(ctx context.Context, state *session.State, outcomeCode string, turnErr error) Result {
	status := "success"
	code := outcomeCode
	if turnErr != nil {
		var errCode string
		status, errCode = e.classifyError(turnErr)
		// A subgraph that already mapped the failure to an outcome code
		// (escala_commit_failed, clinical_commit_failed,...) keeps it;
		// the taxonomy code only fills the gap when none was set.
		if code == "" {
			code = errCode
		}
	}

	reply, err := e.Consolidator.Render(ctx, e.compactState(state), code, fiscalData(state))
	if err != nil {
		e.Log.WithError(err).Error("fiscal consolidator render failed")
		reply = "Desculpe, não consegui processar sua mensagem agora."
	}

	return Result{Reply: reply, SessionID: state.SessionID, Status: status, OutcomeCode: code}
}

// classifyError maps an error kind to a status/outcome code pair per
// the propagation rule — the engine never lets an error cross
// the HTTP boundary unmapped.
func (e *Engine) classifyError(err error) (status, outcomeCode string) {
	var backendErr *sharederrors.BackendError
	if errors.As(err, &backendErr) {
		if backendErr.Retryable() {
			return "error", "backend_transient"
		}
		return "error", "backend_permanent"
	}

	var llmErr *sharederrors.LLMUnavailable
	if errors.As(err, &llmErr) {
		return "error", "llm_unavailable"
	}

	var lockErr *sharederrors.LockDeniedError
	if errors.As(err, &lockErr) {
		return "busy", "lock_denied"
	}

	var invariantErr *sharederrors.InvariantViolation
	if errors.As(err, &invariantErr) {
		e.Log.WithField("invariant", invariantErr.Invariant).Error("invariant violation")
		return "error", "invariant_violation"
	}

	return "error", "internal_error"
}

func fiscalData(state *session.State) fiscal.TemplateData {
	return fiscal.TemplateData{
		ScheduleAllow:      state.ShiftAllow,
		FinishReminderSent: state.FinishReminderSent,
		MissingVitals:      state.VitalsBuffer.Missing(),
		PatientName:        state.PatientName,
	}
}

func jitterBackoff(attempt int) time.Duration {
	base := time.Duration(attempt+1) * 50 * time.Millisecond
	jitter := time.Duration(rand.Intn(50)) * time.Millisecond
	return base + jitter
}
