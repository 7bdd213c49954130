package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// AdminServiceInterface defines the dashboard and lockout administration contract.
type AdminServiceInterface interface {
	GetDashboardStats(ctx context.Context) (*services.DashboardStatsResponse, error)
	GetRecentActivity(ctx context.Context, limit int) (*services.DashboardActivityResponse, error)
	ListLockouts(ctx context.Context, namespace string) ([]*services.LockoutEntry, error)
	ClearLockout(ctx context.Context, namespace, identity, actorID string) (bool, error)
}

// SecurityEventQuerier reads the security event log.
type SecurityEventQuerier interface {
	Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	Export(ctx context.Context, filter models.EventFilter) (*models.EventExport, error)
}

// AdminAPIKeyService is the admin view over every user's keys.
type AdminAPIKeyService interface {
	ListAll(ctx context.Context) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id, actorID, actorRole string) (bool, error)
}

// AdminHandler handles admin HTTP requests. Routes are mounted behind RequireRole(admin).
type AdminHandler struct {
	service AdminServiceInterface
	events  SecurityEventQuerier
	apiKeys AdminAPIKeyService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, events SecurityEventQuerier, apiKeys AdminAPIKeyService) *AdminHandler {
	return &AdminHandler{service: service, events: events, apiKeys: apiKeys}
}

// ListLockoutsResponse wraps the lockout listing
type ListLockoutsResponse struct {
	Lockouts []*services.LockoutEntry `json:"lockouts"`
	Total    int                      `json:"total"`
}

// SecurityEventsResponse wraps a security event query result
type SecurityEventsResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Count  int                     `json:"count"`
}

// GetDashboardStats handles GET /admin/dashboard/stats
func (h *AdminHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetDashboardStats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// GetRecentActivity handles GET /admin/dashboard/activity
// Accepts optional query param ?limit=N (1–20, default 20).
func (h *AdminHandler) GetRecentActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	activity, err := h.service.GetRecentActivity(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, activity)
}

// ListLockouts handles GET /admin/lockouts (?namespace=login)
func (h *AdminHandler) ListLockouts(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListLockouts(r.Context(), r.URL.Query().Get("namespace"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteBadRequest(w, "unknown namespace")
			return
		}
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*services.LockoutEntry{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, ListLockoutsResponse{Lockouts: entries, Total: len(entries)})
}

// ClearLockout handles DELETE /admin/lockouts/{namespace}/{identity}
func (h *AdminHandler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if !claims.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	namespace := chi.URLParam(r, "namespace")
	identity := chi.URLParam(r, "identity")

	cleared, err := h.service.ClearLockout(r.Context(), namespace, identity, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "unknown namespace")
			return
		}
		writeServiceError(w, err)
		return
	}
	if !cleared {
		pkghttp.WriteNotFound(w, "no lockout recorded for this identity")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAPIKeys handles GET /admin/api-keys
func (h *AdminHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.apiKeys.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toListResponse(keys))
}

// RevokeAPIKey handles DELETE /admin/api-keys/{id}
func (h *AdminHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if !claims.IsAuthenticated() {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "id")
	revoked, err := h.apiKeys.Revoke(r.Context(), keyID, claims.UserID, models.RoleAdmin)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "api key not found")
			return
		}
		writeServiceError(w, err)
		return
	}

	message := "api key revoked"
	if !revoked {
		message = "api key already inactive"
	}
	pkghttp.WriteJSON(w, http.StatusOK, RevokeAPIKeyResponse{Revoked: revoked, Message: message})
}

// ListSecurityEvents handles GET /admin/security-events
func (h *AdminHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	events, err := h.events.Query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SecurityEventsResponse{Events: events, Count: len(events)})
}

// ExportSecurityEvents handles GET /admin/security-events/export
func (h *AdminHandler) ExportSecurityEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	export, err := h.events.Export(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("security-events-%s.json", export.ExportedAt.UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	pkghttp.WriteJSON(w, http.StatusOK, export)
}

const maxEventQueryLimit = 1000

// parseEventFilter reads ?type=a,b&severity=high&actor=id&since=RFC3339&until=RFC3339&limit=N
func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Types:      splitList(q.Get("type")),
		Severities: splitList(q.Get("severity")),
		ActorID:    q.Get("actor"),
	}

	for _, s := range filter.Severities {
		if !models.IsValidSeverity(s) {
			return filter, fmt.Errorf("unknown severity %q", s)
		}
	}

	var err error
	if v := q.Get("since"); v != "" {
		if filter.Since, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, fmt.Errorf("invalid since (use RFC3339)")
		}
	}
	if v := q.Get("until"); v != "" {
		if filter.Until, err = time.Parse(time.RFC3339, v); err != nil {
			return filter, fmt.Errorf("invalid until (use RFC3339)")
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxEventQueryLimit {
			return filter, fmt.Errorf("limit must be between 1 and %d", maxEventQueryLimit)
		}
		filter.Limit = n
	}
	return filter, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
