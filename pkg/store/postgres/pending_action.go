package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/logging"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
)

// PendingActionStore is the state-machine-guarded PendingAction table:
// staged→confirmed→executed or staged→cancelled,
type PendingActionStore struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// NewPendingActionStore wraps an already-opened *sqlx.DB.
func NewPendingActionStore(db *sqlx.DB, log *logrus.Logger) *PendingActionStore {
	return &PendingActionStore{db: db, log: log}
}

type pendingActionRow struct {
	SessionID   string    `db:"session_id"`
	ActionID    string    `db:"action_id"`
	Flow        string    `db:"flow"`
	Payload     []byte    `db:"payload"`
	Description string    `db:"description"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// Put stages (or overwrites) the pending action row for a session. A
// session has at most one pending action at a time; staging a new one
// replaces whatever was there, matching session.State's single
// PendingAction field.
func (p *PendingActionStore) Put(ctx context.Context, sessionID string, action *session.PendingAction) error {
	fields := logging.DatabaseFields("put_pending_action", "pending_action")

	payload, err := json.Marshal(action.Payload)
	if err != nil {
		return sharederrors.ParseError("pending action payload", "json", err)
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO pending_action (session_id, action_id, flow, payload, description, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (session_id) DO UPDATE SET
		   action_id = EXCLUDED.action_id, flow = EXCLUDED.flow, payload = EXCLUDED.payload,
		   description = EXCLUDED.description, status = EXCLUDED.status,
		   created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		sessionID, action.ActionID, string(action.Flow), payload, action.Description,
		string(action.Status), action.CreatedAt, action.ExpiresAt)
	if err != nil {
		p.log.WithFields(fields.Error(err).ToLogrus()).Error("put pending action failed")
		return sharederrors.DatabaseError("put pending action", err)
	}
	return nil
}

// Get returns the session's current pending action, or nil if none is
// staged.
func (p *PendingActionStore) Get(ctx context.Context, sessionID string) (*session.PendingAction, error) {
	var row pendingActionRow
	err := p.db.GetContext(ctx, &row,
		`SELECT session_id, action_id, flow, payload, description, status, created_at, expires_at
		 FROM pending_action WHERE session_id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sharederrors.DatabaseError("get pending action", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return nil, sharederrors.ParseError("pending action payload", "json", err)
	}

	return &session.PendingAction{
		ActionID:    row.ActionID,
		Flow:        session.PendingFlow(row.Flow),
		Payload:     payload,
		Description: row.Description,
		Status:      session.PendingStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

// Transition performs the state-machine-guarded status update: it only
// succeeds if the row's current status still equals from, enforcing the
// staged→confirmed→executed / staged→cancelled shape
func (p *PendingActionStore) Transition(ctx context.Context, sessionID, actionID string, from, to session.PendingStatus) error {
	fields := logging.DatabaseFields("transition_pending_action", "pending_action")

	result, err := p.db.ExecContext(ctx,
		`UPDATE pending_action SET status = $1
		 WHERE session_id = $2 AND action_id = $3 AND status = $4`,
		string(to), sessionID, actionID, string(from))
	if err != nil {
		p.log.WithFields(fields.Error(err).ToLogrus()).Error("transition pending action failed")
		return sharederrors.DatabaseError("transition pending action", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return sharederrors.DatabaseError("read rows affected", err)
	}
	if affected == 0 {
		return &sharederrors.InvariantViolation{
			Invariant: "pending_action_state_machine",
			Detail:    "transition " + string(from) + "->" + string(to) + " not applicable to current row state",
		}
	}
	return nil
}

// Clear deletes the session's pending action row, used after a
// successful finalize_commit that clears the whole control buffer.
func (p *PendingActionStore) Clear(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM pending_action WHERE session_id = $1`, sessionID)
	if err != nil {
		return sharederrors.DatabaseError("clear pending action", err)
	}
	return nil
}
