package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/identity/internal/middleware"
	"github.com/hitoshi/identity/internal/model"
)

// OrganizationServiceInterface は組織・イベント管理ハンドラーが必要とするサービスインターフェース。
type OrganizationServiceInterface interface {
	SetOrganizerRole(ctx context.Context, actor *model.User, organizationID, userID int64, role model.Role) (*model.Organizer, error)
	RemoveOrganizer(ctx context.Context, actor *model.User, organizationID, userID int64) (bool, error)
	SetCustomDomain(ctx context.Context, actor *model.User, slug, name string) (string, error)
	DeleteCustomDomain(ctx context.Context, actor *model.User, slug string) error
	AddParticipant(ctx context.Context, actor *model.User, slug string, userID int64) error
}

// OrganizationHandler は組織・イベント管理のHTTPハンドラー。
type OrganizationHandler struct {
	service OrganizationServiceInterface
}

// NewOrganizationHandler はOrganizationHandlerを生成する。
func NewOrganizationHandler(service OrganizationServiceInterface) *OrganizationHandler {
	return &OrganizationHandler{service: service}
}

type setOrganizerRequest struct {
	Role string `json:"role"`
}

type organizerResponse struct {
	OrganizationID int64      `json:"organization_id"`
	UserID         int64      `json:"user_id"`
	Role           model.Role `json:"role"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type customDomainRequest struct {
	Domain string `json:"domain"`
}

type customDomainResponse struct {
	Event  string `json:"event"`
	Domain string `json:"domain"`
}

// SetOrganizer はユーザーの組織内ロールを設定する。既に運営者の場合はロールを更新する。
// PUT /api/organizations/{orgID}/organizers/{userID}
func (h *OrganizationHandler) SetOrganizer(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	orgID, ok := int64Param(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := int64Param(w, r, "userID")
	if !ok {
		return
	}

	var req setOrganizerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	organizer, err := h.service.SetOrganizerRole(r.Context(), actor, orgID, userID, model.Role(req.Role))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, organizerResponse{
		OrganizationID: organizer.OrganizationID,
		UserID:         organizer.UserID,
		Role:           organizer.Role,
		UpdatedAt:      organizer.UpdatedAt,
	})
}

// RemoveOrganizer はユーザーを組織の運営者から外す。
// DELETE /api/organizations/{orgID}/organizers/{userID}
func (h *OrganizationHandler) RemoveOrganizer(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	orgID, ok := int64Param(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := int64Param(w, r, "userID")
	if !ok {
		return
	}

	removed, err := h.service.RemoveOrganizer(r.Context(), actor, orgID, userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if !removed {
		middleware.WriteError(w, r, model.ErrNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetCustomDomain はイベントの独自ドメインを設定する。
// PUT /api/events/{slug}/custom-domain
func (h *OrganizationHandler) SetCustomDomain(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req customDomainRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	slug := chi.URLParam(r, "slug")
	name, err := h.service.SetCustomDomain(r.Context(), actor, slug, req.Domain)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, customDomainResponse{Event: slug, Domain: name})
}

// DeleteCustomDomain はイベントの独自ドメインを削除する。
// DELETE /api/events/{slug}/custom-domain
func (h *OrganizationHandler) DeleteCustomDomain(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteCustomDomain(r.Context(), actor, chi.URLParam(r, "slug")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddParticipant はユーザーをイベントの参加者に追加する。
// PUT /api/events/{slug}/participants/{userID}
func (h *OrganizationHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, ok := int64Param(w, r, "userID")
	if !ok {
		return
	}

	if err := h.service.AddParticipant(r.Context(), actor, chi.URLParam(r, "slug"), userID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
