package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/whisperer/whisperer/internal/assistant"
	"github.com/whisperer/whisperer/internal/auth"
	"github.com/whisperer/whisperer/internal/brands"
	"github.com/whisperer/whisperer/internal/export"
	"github.com/whisperer/whisperer/internal/nl2query"
	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/session"
)

type translateRequest struct {
	Question string          `json:"question"`
	History  []nl2query.Turn `json:"history"`
}

type runReportRequest struct {
	PropertyID string       `json:"property_id"`
	BrandName  string       `json:"brand_name"`
	Query      report.Query `json:"query"`
}

type runReportResponse struct {
	Query  report.Query  `json:"query"`
	Result report.Result `json:"result"`
}

func handleListBrands(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Brands == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "BRANDS_NOT_CONFIGURED", "brand listing is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	list, err := deps.Brands.ListBrands(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "BRANDS_UNAVAILABLE", "failed to list brands", true, map[string]any{"details": err.Error()})
		return
	}
	if list == nil {
		list = []brands.Brand{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"brands": list})
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translation request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	outcome, err := deps.Translator.Translate(r.Context(), nl2query.Request{Question: req.Question, History: req.History})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", "failed to translate question", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func handleRunReport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Reports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "REPORTS_NOT_CONFIGURED", "report execution is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req runReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid report request body", false, map[string]any{"details": err.Error()})
		return
	}
	propertyID, _, err := resolveProperty(r.Context(), deps, req.PropertyID, req.BrandName)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	q := report.Repair(req.Query)
	result, err := deps.Reports.Execute(r.Context(), propertyID, q)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, runReportResponse{Query: q, Result: result})
}

// writeDomainError maps package sentinel errors onto the error envelope.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var fetchErr *report.FetchError
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", false, nil)
	case errors.Is(err, session.ErrPropertyMissing), errors.Is(err, report.ErrPropertyRequired):
		writeError(ctx, w, http.StatusBadRequest, "PROPERTY_REQUIRED", "property_id or brand_name is required", false, nil)
	case errors.Is(err, brands.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "BRAND_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, assistant.ErrEmptyQuestion):
		writeError(ctx, w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
	case errors.Is(err, export.ErrNothingToExport):
		writeError(ctx, w, http.StatusConflict, "NOTHING_TO_EXPORT", "session has no report to export yet", false, nil)
	case errors.Is(err, export.ErrUnknownTarget):
		writeError(ctx, w, http.StatusBadRequest, "UNKNOWN_EXPORT_TARGET", err.Error(), false, nil)
	case errors.As(err, &fetchErr):
		writeError(ctx, w, http.StatusBadGateway, "REPORT_FETCH_FAILED", "report fetch failed", false, map[string]any{
			"details": fetchErr.Detail(),
			"backend": fetchErr.Backend,
		})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), true, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, map[string]any{"details": err.Error()})
	}
}
