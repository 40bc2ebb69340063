package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/identity/internal/middleware"
	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/session"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Identities(ctx context.Context, userID int64) ([]*model.Identity, error)
	Unlink(ctx context.Context, userID int64, provider string) error
	// Withdraw はユーザーを削除し、現在のセッションを破棄する。
	// identities、organizers、participantsは外部キーのカスケードで削除される。
	Withdraw(ctx context.Context, userID int64, sessionValue string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies SessionCookies
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookies SessionCookies) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

// meResponse は/api/meのレスポンス。
type meResponse struct {
	User  userResponse        `json:"user"`
	Scope scopeResponse       `json:"scope"`
	Role  model.EffectiveRole `json:"role,omitempty"`
}

// identityResponse は紐付け済みIDのAPIレスポンス。
type identityResponse struct {
	Provider  string    `json:"provider"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Me は現在のユーザーと、アクセス中のドメインにおけるスコープと役割を返す。
// GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	scope, _ := middleware.ScopeFromContext(r.Context())

	writeJSON(w, http.StatusOK, meResponse{
		User:  toUserResponse(user),
		Scope: toScopeResponse(scope),
		Role:  middleware.RoleFromContext(r.Context()),
	})
}

// Identities は紐付け済みIDの一覧を返す。
// GET /api/me/identities
func (h *UserHandler) Identities(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	identities, err := h.service.Identities(r.Context(), user.ID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := make([]identityResponse, 0, len(identities))
	for _, i := range identities {
		resp = append(resp, identityResponse{Provider: i.Provider, Email: i.Email, CreatedAt: i.CreatedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Unlink はプロバイダーとの紐付けを解除する。
// DELETE /api/me/identities/{provider}
func (h *UserHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Unlink(r.Context(), user.ID, chi.URLParam(r, "provider")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var sessionValue string
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		sessionValue = cookie.Value
	}

	if err := h.service.Withdraw(r.Context(), user.ID, sessionValue); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	http.SetCookie(w, h.cookies.ClearCookie())
	w.WriteHeader(http.StatusNoContent)
}
