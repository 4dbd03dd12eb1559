// Package export publishes a session's last report outside the chat.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/whisperer/whisperer/internal/observability"
	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/session"
)

const (
	TargetSheets      = "sheets"
	TargetObjectStore = "objectstore"

	titleQuestionRunes = 20
)

var (
	ErrNothingToExport = errors.New("export: session has no report to export")
	ErrUnknownTarget   = errors.New("export: unknown target")
)

// Table is what gets exported: the question and the report that answered it.
type Table struct {
	SessionID string
	Question  string
	Result    report.Result
}

// Link points at the exported artifact. Locations lists every object
// written when a target produces more than one.
type Link struct {
	Target    string   `json:"target"`
	URL       string   `json:"url"`
	Locations []string `json:"locations,omitempty"`
	RowCount  int64    `json:"row_count"`
}

type Exporter interface {
	Name() string
	Export(ctx context.Context, table Table) (Link, error)
}

// Title names an export after the first 20 characters of the question.
func Title(question string) string {
	question = strings.TrimSpace(question)
	if utf8.RuneCountInString(question) > titleQuestionRunes {
		question = string([]rune(question)[:titleQuestionRunes])
	}
	return "Report: " + question
}

// Service routes export requests to the configured targets.
type Service struct {
	exporters     map[string]Exporter
	defaultTarget string
	recorder      session.ExportRecorder
	logger        *slog.Logger
}

// NewService registers exporters by name. The first is the default target.
// recorder may be nil.
func NewService(logger *slog.Logger, recorder session.ExportRecorder, exporters ...Exporter) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{exporters: map[string]Exporter{}, recorder: recorder, logger: logger}
	for _, e := range exporters {
		if e == nil {
			continue
		}
		if s.defaultTarget == "" {
			s.defaultTarget = e.Name()
		}
		s.exporters[e.Name()] = e
	}
	return s
}

func (s *Service) Targets() []string {
	out := make([]string, 0, len(s.exporters))
	for name := range s.exporters {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Export publishes the session's last result. An empty target picks the
// default one.
func (s *Service) Export(ctx context.Context, target string, sess session.Session) (Link, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		target = s.defaultTarget
	}
	exporter, ok := s.exporters[target]
	if !ok {
		return Link{}, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	if sess.LastResult == nil || sess.LastResult.Empty() {
		return Link{}, ErrNothingToExport
	}

	link, err := exporter.Export(ctx, Table{
		SessionID: sess.ID,
		Question:  sess.LastQuestion,
		Result:    *sess.LastResult,
	})
	observability.ObserveExport(target, err)
	if err != nil {
		s.logger.ErrorContext(ctx, "export failed", append(observability.LogAttrs(ctx), "target", target, "error", err)...)
		return Link{}, err
	}

	if s.recorder != nil {
		if err := s.recorder.RecordExport(ctx, session.ExportRecord{
			SessionID: sess.ID,
			Target:    target,
			Location:  link.URL,
			RowCount:  link.RowCount,
		}); err != nil {
			s.logger.WarnContext(ctx, "export audit write failed", append(observability.LogAttrs(ctx), "error", err)...)
		}
	}
	s.logger.InfoContext(ctx, "report exported", append(observability.LogAttrs(ctx), "target", target, "rows", link.RowCount)...)
	return link, nil
}
