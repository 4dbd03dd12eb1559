package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"

	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/session"
)

var (
	_ session.Store          = (*Store)(nil)
	_ session.ExportRecorder = (*Store)(nil)
	_ session.IdlePruner     = (*Store)(nil)
)

var testNow = time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestCreateSession(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, clockwork.NewFakeClockAt(testNow))

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO chat_session (session_id, team, property_id, brand_name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING created_at, updated_at`)).
		WithArgs(sqlmock.AnyArg(), "acme", "123", "Acme Store", testNow).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(testNow, testNow))

	s, err := store.Create(context.Background(), session.CreateInput{Team: "acme", PropertyID: " 123 ", BrandName: "Acme Store"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID == "" || s.PropertyID != "123" {
		t.Fatalf("session = %+v", s)
	}
	if !s.CreatedAt.Equal(testNow) {
		t.Fatalf("CreatedAt = %v", s.CreatedAt)
	}
	assertSQLMock(t, mock)
}

func TestCreateSessionRequiresProperty(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	_, err := store.Create(context.Background(), session.CreateInput{})
	if !errors.Is(err, session.ErrPropertyMissing) {
		t.Fatalf("Create() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestGetSessionReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM chat_session
WHERE session_id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestGetSessionDecodesResultAndTurns(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM chat_session
WHERE session_id = $1`)).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"session_id", "team", "property_id", "brand_name", "last_question", "last_query", "last_result", "created_at", "updated_at",
		}).AddRow(
			"s-1", "acme", "123", "Acme", "dünkü ciro",
			[]byte(`{"date_ranges":[{"start_date":"yesterday","end_date":"yesterday"}],"metrics":[{"name":"totalRevenue"}],"limit":100}`),
			[]byte(`{"columns":["date","totalRevenue"],"dimensions":["date"],"metrics":["totalRevenue"],"rows":[{"date":"20251209","totalRevenue":34250}],"row_count":1}`),
			testNow, testNow,
		))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM chat_turn
WHERE session_id = $1
ORDER BY seq ASC`)).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "content", "status", "created_at"}).
			AddRow("user", "dünkü ciro", "", testNow).
			AddRow("assistant", "Dün 34.250 TL ciro yapıldı.", "answered", testNow))

	s, err := store.Get(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.LastQuery == nil || s.LastQuery.MetricNames()[0] != "totalRevenue" {
		t.Fatalf("LastQuery = %+v", s.LastQuery)
	}
	if s.LastResult == nil || s.LastResult.Rows[0]["totalRevenue"] != 34250.0 {
		t.Fatalf("LastResult = %+v", s.LastResult)
	}
	if len(s.Turns) != 2 || s.Turns[1].Status != "answered" {
		t.Fatalf("Turns = %+v", s.Turns)
	}
	assertSQLMock(t, mock)
}

func TestSaveAppendsOnlyNewTurns(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	in := session.Session{
		ID:           "s-1",
		BrandName:    "Acme",
		LastQuestion: "bu yıl kaç kullanıcı",
		LastResult:   &report.Result{Columns: []string{"activeUsers"}, Rows: []report.Row{{"activeUsers": 10.0}}, RowCount: 1},
		UpdatedAt:    testNow,
		Turns: []session.Turn{
			{Role: "user", Content: "old", CreatedAt: testNow},
			{Role: "assistant", Content: "old answer", Status: "answered", CreatedAt: testNow},
			{Role: "user", Content: "bu yıl kaç kullanıcı", CreatedAt: testNow},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE chat_session
SET brand_name = $2, last_question = $3, last_query = $4::jsonb, last_result = $5::jsonb, updated_at = $6
WHERE session_id = $1`)).
		WithArgs("s-1", "Acme", "bu yıl kaç kullanıcı", nil, sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), 0) FROM chat_turn WHERE session_id = $1`)).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(2)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO chat_turn (session_id, seq, role, content, status, created_at)`)).
		WithArgs("s-1", 3, "user", "bu yıl kaç kullanıcı", "", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Save(context.Background(), in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestSaveMissingSessionRollsBack(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE chat_session`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Save(context.Background(), session.Session{ID: "missing", UpdatedAt: testNow})
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Save() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestResetClearsTurnsAndResult(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, clockwork.NewFakeClockAt(testNow))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET last_question = '', last_query = NULL, last_result = NULL, updated_at = $2`)).
		WithArgs("s-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chat_turn WHERE session_id = $1`)).
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	if err := store.Reset(context.Background(), "s-1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestDeleteMissingSession(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chat_session WHERE session_id = $1`)).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Delete(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Delete() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestPruneIdleUsesCutoff(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, clockwork.NewFakeClockAt(testNow))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chat_session WHERE updated_at < $1`)).
		WithArgs(testNow.Add(-30 * time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.PruneIdle(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("PruneIdle() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	assertSQLMock(t, mock)
}

func TestRecordExport(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, clockwork.NewFakeClockAt(testNow))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO export_audit (session_id, target, location, row_count, created_at)`)).
		WithArgs("s-1", "sheets", "https://docs.google.com/spreadsheets/d/x", int64(12), testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.RecordExport(context.Background(), session.ExportRecord{
		SessionID: "s-1",
		Target:    "sheets",
		Location:  "https://docs.google.com/spreadsheets/d/x",
		RowCount:  12,
	})
	if err != nil {
		t.Fatalf("RecordExport() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
