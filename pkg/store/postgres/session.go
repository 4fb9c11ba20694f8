// Package postgres implements the durable, OCC-versioned Session and
// PendingAction stores on top of jackc/pgx/v5, with
// jmoiron/sqlx handling the struct-scanning read paths. Schema is managed
// by pressly/goose/v3 migrations under internal/database/migrations.
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

// SessionStore is the conditional-write-backed Session table: loadSession/
// saveSession
type SessionStore struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// NewSessionStore wraps an already-opened *sqlx.DB (driven by pgx/v5's
// database/sql shim, `pgx/v5/stdlib`).
func NewSessionStore(db *sqlx.DB, log *logrus.Logger) *SessionStore {
	return &SessionStore{db: db, log: log}
}

type sessionRow struct {
	SessionID string `db:"session_id"`
	State     []byte `db:"state"`
	Version   int    `db:"version"`
}

// LoadSession returns (state, version). A session never seen before
// returns a default state at version 0, matching the
// `loadSession` contract; it is not an error.
func (s *SessionStore) LoadSession(ctx context.Context, sessionID string) (*session.State, int, error) {
	fields := logging.DatabaseFields("load_session", "session")

	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT session_id, state, version FROM session WHERE session_id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return session.New(sessionID, sessionID), 0, nil
	}
	if err != nil {
		s.log.WithFields(fields.Error(err).ToLogrus()).Error("load session failed")
		return nil, 0, sharederrors.DatabaseError("load session", err)
	}

	var state session.State
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, 0, sharederrors.ParseError("session state", "json", err)
	}
	return &state, row.Version, nil
}

// SaveSession performs the conditional write: succeeds only if the
// stored version still equals expectedVersion, after which the stored
// version becomes expectedVersion+1. Returns *sharederrors.ConflictError
// when another writer won the race.
func (s *SessionStore) SaveSession(ctx context.Context, state *session.State, expectedVersion int) error {
	fields := logging.DatabaseFields("save_session", "session")

	nextVersion := expectedVersion + 1
	state.Version = nextVersion
	state.UpdatedAt = time.Now()

	payload, err := json.Marshal(state)
	if err != nil {
		return sharederrors.ParseError("session state", "json", err)
	}

	if expectedVersion == 0 {
		// First write for this session: try the insert first; a
		// concurrent first-writer makes it a no-op, and the conditional
		// update below then correctly reports a conflict against the
		// row that insert lost the race to.
		result, err := s.db.ExecContext(ctx,
			`INSERT INTO session (session_id, state, version)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (session_id) DO NOTHING`,
			state.SessionID, payload, nextVersion)
		if err != nil {
			s.log.WithFields(fields.Error(err).ToLogrus()).Error("insert session failed")
			return sharederrors.DatabaseError("insert session", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 1 {
			return nil
		}

		result, err = s.db.ExecContext(ctx,
			`UPDATE session SET state = $1, version = $2
			 WHERE session_id = $3 AND version = $4`,
			payload, nextVersion, state.SessionID, expectedVersion)
		if err != nil {
			return sharederrors.DatabaseError("update session", err)
		}
		return checkRowsAffected(result, state.SessionID, expectedVersion)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE session SET state = $1, version = $2
		 WHERE session_id = $3 AND version = $4`,
		payload, nextVersion, state.SessionID, expectedVersion)
	if err != nil {
		s.log.WithFields(fields.Error(err).ToLogrus()).Error("save session failed")
		return sharederrors.DatabaseError("save session", err)
	}
	return checkRowsAffected(result, state.SessionID, expectedVersion)
}

func checkRowsAffected(result sql.Result, sessionID string, expectedVersion int) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return sharederrors.DatabaseError("read rows affected", err)
	}
	if affected == 0 {
		return &sharederrors.ConflictError{
			SessionID:       sessionID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   -1, // unknown without a second read; caller reloads
		}
	}
	return nil
}
