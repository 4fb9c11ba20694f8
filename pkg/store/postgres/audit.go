package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
)

// AuditEvent is one append-only row describing a significant session
// transition: bootstrap, gate selection, commit/rollback, backend-circuit
// state change. Consumed by pkg/audit's buffered, non-blocking writer.
type AuditEvent struct {
	SessionID string
	Kind      string
	Detail    map[string]interface{}
	At        time.Time
}

// AuditStore appends AuditEvent rows to the audit_event table, sharing
// the Session store's Postgres handle per the "MUST NOT
// require transactions spanning [stores]" constraint — each insert is
// its own statement, never joined with a session write.
type AuditStore struct {
	db *sqlx.DB
}

// NewAuditStore wraps an already-opened *sqlx.DB.
func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

// AppendBatch inserts a batch of audit events in one round trip. Never
// returns a partial-failure error the caller is expected to retry event
// by event; pkg/audit treats any error here as "this flush failed,
// requeue the whole batch".
func (a *AuditStore) AppendBatch(ctx context.Context, events []AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return sharederrors.DatabaseError("begin audit batch", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range events {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			return sharederrors.ParseError("audit detail", "json", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_event (session_id, kind, detail, occurred_at) VALUES ($1, $2, $3, $4)`,
			e.SessionID, e.Kind, detail, e.At); err != nil {
			return sharederrors.DatabaseError("insert audit event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sharederrors.DatabaseError("commit audit batch", err)
	}
	return nil
}
