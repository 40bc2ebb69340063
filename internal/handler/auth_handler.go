// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/identity/internal/auth"
	"github.com/hitoshi/identity/internal/middleware"
	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Launch(ctx context.Context, providerSlug, returnTo string) (*auth.LaunchResult, error)
	Callback(ctx context.Context, cookieValue string, params auth.CallbackParams) (*auth.CallbackResult, error)
	Logout(ctx context.Context, cookieValue string) error
	ReturnURL(ctx context.Context, returnTo string) string
	FailureURL(err error) string
}

// SessionCookies はセッションCookieを生成する。
type SessionCookies interface {
	Cookie(value string, expiresAt time.Time) *http.Cookie
	ClearCookie() *http.Cookie
}

// ProviderLister はログイン画面に表示するプロバイダーを返す。
type ProviderLister interface {
	ListEnabled(ctx context.Context) ([]*model.Provider, error)
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	cookies   SessionCookies
	providers ProviderLister
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies SessionCookies, providers ProviderLister) *AuthHandler {
	return &AuthHandler{
		service:   service,
		cookies:   cookies,
		providers: providers,
	}
}

// Launch はOAuthフローを開始する。
// GET /oauth/launch?provider=xxx&return_to=yyy
func (h *AuthHandler) Launch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slug := q.Get("provider")
	if slug == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("providerを指定してください。"))
		return
	}

	result, err := h.service.Launch(r.Context(), slug, q.Get("return_to"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	http.SetCookie(w, h.cookies.Cookie(result.Cookie, result.ExpiresAt))
	http.Redirect(w, r, result.AuthURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /oauth/callback?code=xxx&state=yyy
// 失敗時はセッションCookieを発行せず、フロントエンドのログイン画面にリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var cookieValue string
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		cookieValue = cookie.Value
	}

	q := r.URL.Query()
	result, err := h.service.Callback(r.Context(), cookieValue, auth.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	if err != nil {
		logCallbackFailure(r, err)
		if !errors.Is(err, auth.ErrNotInFlow) {
			http.SetCookie(w, h.cookies.ClearCookie())
		}
		http.Redirect(w, r, h.service.FailureURL(err), http.StatusTemporaryRedirect)
		return
	}

	http.SetCookie(w, h.cookies.Cookie(result.Cookie, result.ExpiresAt))
	http.Redirect(w, r, result.ReturnTo, http.StatusTemporaryRedirect)
}

func logCallbackFailure(r *http.Request, err error) {
	attrs := []any{
		slog.String("reason", auth.FailureReason(err)),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	}
	switch {
	case errors.Is(err, auth.ErrCancelled):
		slog.Info("oauth login cancelled", attrs...)
	case auth.FailureReason(err) == "internal", errors.Is(err, model.ErrTransientStore):
		slog.Error("oauth callback failed", attrs...)
	default:
		slog.Warn("oauth callback rejected", attrs...)
	}
}

// Logout はセッションを破棄してCookieを削除し、フロントエンドにリダイレクトする。
// GET/POST /oauth/logout?return_to=xxx
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	http.SetCookie(w, h.cookies.ClearCookie())
	http.Redirect(w, r, h.service.ReturnURL(r.Context(), r.URL.Query().Get("return_to")), http.StatusSeeOther)
}

// providerSummary はログイン画面向けのプロバイダー情報。
type providerSummary struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Providers はログインに使えるプロバイダーの一覧を返す。
// GET /oauth/providers
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.ListEnabled(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := make([]providerSummary, 0, len(providers))
	for _, p := range providers {
		resp = append(resp, providerSummary{Slug: p.Slug, Name: p.Name, Icon: p.Icon})
	}
	writeJSON(w, http.StatusOK, resp)
}
