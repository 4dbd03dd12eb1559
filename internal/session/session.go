// Package session keeps per-conversation context: turn history, the last
// fetched report and the brand the conversation is bound to.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whisperer/whisperer/internal/nl2query"
	"github.com/whisperer/whisperer/internal/report"
)

var (
	ErrNotFound        = errors.New("session: not found")
	ErrPropertyMissing = errors.New("session: property id is required")
)

// Turn is one message in the conversation. Status is set on assistant turns
// and mirrors the outcome of the turn pipeline.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID           string         `json:"session_id"`
	Team         string         `json:"team,omitempty"`
	PropertyID   string         `json:"property_id"`
	BrandName    string         `json:"brand_name,omitempty"`
	Turns        []Turn         `json:"turns"`
	LastQuestion string         `json:"last_question,omitempty"`
	LastQuery    *report.Query  `json:"last_query,omitempty"`
	LastResult   *report.Result `json:"last_result,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type CreateInput struct {
	Team       string
	PropertyID string
	BrandName  string
}

type Store interface {
	Create(ctx context.Context, in CreateInput) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Reset(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// ExportRecord is one entry of the export audit trail.
type ExportRecord struct {
	SessionID string
	Target    string
	Location  string
	RowCount  int64
}

// ExportRecorder is implemented by stores that keep an export audit trail.
type ExportRecorder interface {
	RecordExport(ctx context.Context, rec ExportRecord) error
}

// IdlePruner is implemented by stores that need an external sweep to drop
// idle sessions.
type IdlePruner interface {
	PruneIdle(ctx context.Context, idle time.Duration) (int64, error)
}

// RecentTurns returns the last n turns in the shape the translator expects.
func (s Session) RecentTurns(n int) []nl2query.Turn {
	turns := make([]nl2query.Turn, 0, len(s.Turns))
	for _, t := range s.Turns {
		turns = append(turns, nl2query.Turn{Role: t.Role, Content: t.Content})
	}
	return nl2query.RecentTurns(turns, n)
}

func (s *Session) AppendUser(content string, at time.Time) {
	s.Turns = append(s.Turns, Turn{Role: nl2query.RoleUser, Content: content, CreatedAt: at})
	s.UpdatedAt = at
}

func (s *Session) AppendAssistant(content, status string, at time.Time) {
	s.Turns = append(s.Turns, Turn{Role: nl2query.RoleAssistant, Content: content, Status: status, CreatedAt: at})
	s.UpdatedAt = at
}

// Clear wipes history and the last result. The brand binding survives.
func (s *Session) Clear(at time.Time) {
	s.Turns = nil
	s.LastQuestion = ""
	s.LastQuery = nil
	s.LastResult = nil
	s.UpdatedAt = at
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	out := s
	out.Turns = append([]Turn(nil), s.Turns...)
	if s.LastQuery != nil {
		q := *s.LastQuery
		q.DateRanges = append([]report.DateRange(nil), q.DateRanges...)
		q.Dimensions = append([]report.Dimension(nil), q.Dimensions...)
		q.Metrics = append([]report.Metric(nil), q.Metrics...)
		out.LastQuery = &q
	}
	if s.LastResult != nil {
		r := *s.LastResult
		r.Rows = make([]report.Row, len(s.LastResult.Rows))
		for i, row := range s.LastResult.Rows {
			cp := make(report.Row, len(row))
			for k, v := range row {
				cp[k] = v
			}
			r.Rows[i] = cp
		}
		out.LastResult = &r
	}
	return out
}

func NewID() string {
	return uuid.NewString()
}

// Normalize trims the input and rejects a missing property id.
func (in CreateInput) Normalize() (CreateInput, error) {
	in.PropertyID = strings.TrimSpace(in.PropertyID)
	in.BrandName = strings.TrimSpace(in.BrandName)
	in.Team = strings.TrimSpace(in.Team)
	if in.PropertyID == "" {
		return CreateInput{}, ErrPropertyMissing
	}
	return in, nil
}
