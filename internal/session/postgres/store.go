// Package postgres stores chat sessions in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/session"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

func NewStore(db *sql.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping session db: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, in session.CreateInput) (session.Session, error) {
	in, err := in.Normalize()
	if err != nil {
		return session.Session{}, err
	}
	out := session.Session{
		ID:         session.NewID(),
		Team:       in.Team,
		PropertyID: in.PropertyID,
		BrandName:  in.BrandName,
	}
	now := s.clock.Now().UTC()
	if err := s.db.QueryRowContext(ctx, `
INSERT INTO chat_session (session_id, team, property_id, brand_name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING created_at, updated_at`,
		out.ID, out.Team, out.PropertyID, out.BrandName, now,
	).Scan(&out.CreatedAt, &out.UpdatedAt); err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	var (
		out        session.Session
		lastQuery  []byte
		lastResult []byte
	)
	if err := s.db.QueryRowContext(ctx, `
SELECT session_id, team, property_id, brand_name, last_question, last_query, last_result, created_at, updated_at
FROM chat_session
WHERE session_id = $1`, id).Scan(
		&out.ID,
		&out.Team,
		&out.PropertyID,
		&out.BrandName,
		&out.LastQuestion,
		&lastQuery,
		&lastResult,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}

	if len(lastQuery) > 0 {
		var q report.Query
		if err := json.Unmarshal(lastQuery, &q); err != nil {
			return session.Session{}, fmt.Errorf("decode last query: %w", err)
		}
		out.LastQuery = &q
	}
	if len(lastResult) > 0 {
		var r report.Result
		if err := json.Unmarshal(lastResult, &r); err != nil {
			return session.Session{}, fmt.Errorf("decode last result: %w", err)
		}
		out.LastResult = &r
	}

	turns, err := listTurns(ctx, s.db, id)
	if err != nil {
		return session.Session{}, err
	}
	out.Turns = turns
	return out, nil
}

// Save writes the session row and appends turns not yet persisted. A turn
// list shorter than what is stored truncates the stored history.
func (s *Store) Save(ctx context.Context, in session.Session) error {
	lastQuery, err := marshalNullable(in.LastQuery)
	if err != nil {
		return fmt.Errorf("encode last query: %w", err)
	}
	lastResult, err := marshalNullable(in.LastResult)
	if err != nil {
		return fmt.Errorf("encode last result: %w", err)
	}
	updatedAt := in.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock.Now().UTC()
	}

	return s.withTx(ctx, func(q queryer) error {
		res, err := q.ExecContext(ctx, `
UPDATE chat_session
SET brand_name = $2, last_question = $3, last_query = $4::jsonb, last_result = $5::jsonb, updated_at = $6
WHERE session_id = $1`,
			in.ID, in.BrandName, in.LastQuestion, lastQuery, lastResult, updatedAt,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update session rows affected: %w", err)
		}
		if affected == 0 {
			return session.ErrNotFound
		}

		var stored int
		if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM chat_turn WHERE session_id = $1`, in.ID).Scan(&stored); err != nil {
			return fmt.Errorf("count stored turns: %w", err)
		}
		if len(in.Turns) < stored {
			if _, err := q.ExecContext(ctx, `DELETE FROM chat_turn WHERE session_id = $1 AND seq > $2`, in.ID, len(in.Turns)); err != nil {
				return fmt.Errorf("truncate turns: %w", err)
			}
			return nil
		}
		for i := stored; i < len(in.Turns); i++ {
			turn := in.Turns[i]
			createdAt := turn.CreatedAt
			if createdAt.IsZero() {
				createdAt = updatedAt
			}
			if _, err := q.ExecContext(ctx, `
INSERT INTO chat_turn (session_id, seq, role, content, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
				in.ID, i+1, turn.Role, turn.Content, turn.Status, createdAt,
			); err != nil {
				return fmt.Errorf("insert turn %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (s *Store) Reset(ctx context.Context, id string) error {
	return s.withTx(ctx, func(q queryer) error {
		res, err := q.ExecContext(ctx, `
UPDATE chat_session
SET last_question = '', last_query = NULL, last_result = NULL, updated_at = $2
WHERE session_id = $1`, id, s.clock.Now().UTC())
		if err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reset session rows affected: %w", err)
		}
		if affected == 0 {
			return session.ErrNotFound
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM chat_turn WHERE session_id = $1`, id); err != nil {
			return fmt.Errorf("clear turns: %w", err)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_session WHERE session_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

// PruneIdle removes sessions untouched for longer than idle.
func (s *Store) PruneIdle(ctx context.Context, idle time.Duration) (int64, error) {
	cutoff := s.clock.Now().UTC().Add(-idle)
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_session WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune idle sessions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune idle sessions rows affected: %w", err)
	}
	return removed, nil
}

// RecordExport appends an entry to the export audit trail.
func (s *Store) RecordExport(ctx context.Context, rec session.ExportRecord) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO export_audit (session_id, target, location, row_count, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		rec.SessionID, rec.Target, rec.Location, rec.RowCount, s.clock.Now().UTC(),
	); err != nil {
		return fmt.Errorf("record export: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(q queryer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func listTurns(ctx context.Context, q queryer, id string) ([]session.Turn, error) {
	rows, err := q.QueryContext(ctx, `
SELECT role, content, status, created_at
FROM chat_turn
WHERE session_id = $1
ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []session.Turn
	for rows.Next() {
		var turn session.Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.Status, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
