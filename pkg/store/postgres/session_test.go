package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	sharederrors "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/shared/errors"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/session"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/testutil/timing"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(nopWriter{})
	return log
}

func newMockSessionStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(sqlx.NewDb(db, "postgres"), testLogger()), mock
}

func TestLoadSession_NoRowsReturnsDefaultStateAtVersionZero(t *testing.T) {
	store, mock := newMockSessionStore(t)
	mock.ExpectQuery("SELECT session_id, state, version FROM session").
		WithArgs("s1").
		WillReturnError(sql.ErrNoRows)

	state, version, err := store.LoadSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
	if state.SessionID != "s1" || state.PhoneNumber != "s1" {
		t.Errorf("expected a default state seeded from sessionID, got %+v", state)
	}
}

func TestLoadSession_UnmarshalsStoredState(t *testing.T) {
	store, mock := newMockSessionStore(t)

	want := session.New("s1", "5511999998888")
	want.ShiftAllow = true
	payload, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock.ExpectQuery("SELECT session_id, state, version FROM session").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "state", "version"}).
			AddRow("s1", payload, 3))

	state, version, err := store.LoadSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 3 {
		t.Errorf("expected version 3, got %d", version)
	}
	if !state.ShiftAllow || state.PhoneNumber != "5511999998888" {
		t.Errorf("expected the unmarshalled state, got %+v", state)
	}
}

func TestSaveSession_FirstWriteInsertsRow(t *testing.T) {
	store, mock := newMockSessionStore(t)

	mock.ExpectExec("INSERT INTO session").
		WillReturnResult(sqlmock.NewResult(1, 1))

	state := session.New("s1", "5511999998888")
	if err := store.SaveSession(context.Background(), state, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Version != 1 {
		t.Errorf("expected version advanced to 1, got %d", state.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveSession_FirstWriteFallsBackToUpdateOnInsertConflict(t *testing.T) {
	store, mock := newMockSessionStore(t)

	mock.ExpectExec("INSERT INTO session").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE session SET state = \\$1, version = \\$2").
		WillReturnResult(sqlmock.NewResult(1, 1))

	state := session.New("s1", "5511999998888")
	if err := store.SaveSession(context.Background(), state, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveSession_VersionMismatchReturnsConflictError(t *testing.T) {
	store, mock := newMockSessionStore(t)

	mock.ExpectExec("UPDATE session SET state = \\$1, version = \\$2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	state := session.New("s1", "5511999998888")
	err := store.SaveSession(context.Background(), state, 2)

	var conflict *sharederrors.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected a *sharederrors.ConflictError, got %v", err)
	}
	if conflict.SessionID != "s1" || conflict.ExpectedVersion != 2 {
		t.Errorf("unexpected conflict details: %+v", conflict)
	}
}

// The reload-and-retry loop callers run on a Conflict is exercised here
// with the same bounded-backoff helper the timing package provides: the
// first conditional write loses the race, the retry lands.
func TestSaveSession_ConflictRetriesWithBackoffUntilWriteLands(t *testing.T) {
	store, mock := newMockSessionStore(t)

	mock.ExpectExec("UPDATE session SET state = \\$1, version = \\$2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE session SET state = \\$1, version = \\$2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	state := session.New("s1", "5511999998888")
	err := timing.RetryWithBackoff(context.Background(), 3, time.Millisecond, func() error {
		return store.SaveSession(context.Background(), state, 2)
	})
	if err != nil {
		t.Fatalf("expected the retry to land the conditional write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
