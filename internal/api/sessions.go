package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/whisperer/whisperer/internal/assistant"
	"github.com/whisperer/whisperer/internal/auth"
	"github.com/whisperer/whisperer/internal/brands"
	"github.com/whisperer/whisperer/internal/session"
)

type createSessionRequest struct {
	PropertyID string `json:"property_id"`
	BrandName  string `json:"brand_name"`
}

type askRequest struct {
	Question string `json:"question"`
}

type exportRequest struct {
	Target string `json:"target"`
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid session request body", false, map[string]any{"details": err.Error()})
		return
	}

	propertyID, brandName, err := resolveProperty(r.Context(), deps, req.PropertyID, req.BrandName)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	sess, err := deps.Sessions.Create(r.Context(), session.CreateInput{
		Team:       teamFromRequest(r),
		PropertyID: propertyID,
		BrandName:  brandName,
	})
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(deps, w, r, auth.RoleAnalyst)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(deps, w, r, auth.RoleAnalyst)
	if !ok {
		return
	}
	if err := deps.Sessions.Delete(r.Context(), sess.ID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleResetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(deps, w, r, auth.RoleAnalyst)
	if !ok {
		return
	}
	if err := deps.Assistant.Reset(r.Context(), sess.ID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	reset, err := deps.Sessions.Get(r.Context(), sess.ID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, reset)
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}
	sess, ok := loadSession(deps, w, r, auth.RoleAnalyst)
	if !ok {
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Assistant.Ask(r.Context(), sess.ID, req.Question)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export is not configured", false, nil)
		return
	}
	sess, ok := loadSession(deps, w, r, auth.RoleExporter)
	if !ok {
		return
	}

	var req exportRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}

	link, err := deps.Exports.Export(r.Context(), req.Target, sess)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// loadSession checks the role, fetches the session named in the path and
// hides sessions that belong to another team.
func loadSession(deps Dependencies, w http.ResponseWriter, r *http.Request, role string) (session.Session, bool) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return session.Session{}, false
	}
	if err := requireRole(r, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return session.Session{}, false
	}
	id := strings.TrimSpace(r.PathValue("id"))
	sess, err := deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return session.Session{}, false
	}
	if team := teamFromRequest(r); team != "" && sess.Team != "" && sess.Team != team {
		writeDomainError(r.Context(), w, session.ErrNotFound)
		return session.Session{}, false
	}
	return sess, true
}

// resolveProperty prefers an explicit property id and otherwise looks the
// brand up by name.
func resolveProperty(ctx context.Context, deps Dependencies, propertyID, brandName string) (string, string, error) {
	propertyID = strings.TrimSpace(propertyID)
	brandName = strings.TrimSpace(brandName)
	if propertyID != "" || brandName == "" {
		return propertyID, brandName, nil
	}
	if deps.Brands == nil {
		return "", "", fmt.Errorf("%w: brand lookup is not configured", brands.ErrNotFound)
	}
	brand, err := brands.Find(ctx, deps.Brands, brandName)
	if err != nil {
		return "", "", err
	}
	return brand.PropertyID, brand.Name, nil
}

func teamFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return strings.TrimSpace(identity.Team)
	}
	return ""
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

var _ Asker = (*assistant.Assistant)(nil)
