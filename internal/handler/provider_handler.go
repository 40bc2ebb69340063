package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/identity/internal/middleware"
	"github.com/hitoshi/identity/internal/model"
)

// ProviderRegistryInterface はプロバイダー管理ハンドラーが必要とするレジストリのインターフェース。
type ProviderRegistryInterface interface {
	List(ctx context.Context) ([]*model.Provider, error)
	Get(ctx context.Context, slug string) (*model.Provider, error)
	Upsert(ctx context.Context, p *model.Provider) error
	Delete(ctx context.Context, slug string) (bool, error)
}

// ProviderHandler は管理者向けのプロバイダー管理ハンドラー。
type ProviderHandler struct {
	registry ProviderRegistryInterface
}

// NewProviderHandler はProviderHandlerを生成する。
func NewProviderHandler(registry ProviderRegistryInterface) *ProviderHandler {
	return &ProviderHandler{registry: registry}
}

type upsertProviderRequest struct {
	Enabled bool                 `json:"enabled"`
	Name    string               `json:"name"`
	Icon    string               `json:"icon"`
	Config  model.ProviderConfig `json:"config"`
}

// providerConfigResponse はclient_secretを含まない設定。
type providerConfigResponse struct {
	Kind        model.ProviderKind `json:"kind"`
	ClientID    string             `json:"client_id"`
	Scopes      []string           `json:"scopes,omitempty"`
	EmailTrust  model.EmailTrust   `json:"email_trust,omitempty"`
	AuthURL     string             `json:"auth_url,omitempty"`
	TokenURL    string             `json:"token_url,omitempty"`
	UserInfoURL string             `json:"userinfo_url,omitempty"`
}

type adminProviderResponse struct {
	Slug      string                 `json:"slug"`
	Enabled   bool                   `json:"enabled"`
	Name      string                 `json:"name"`
	Icon      string                 `json:"icon"`
	Config    providerConfigResponse `json:"config"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func toAdminProviderResponse(p *model.Provider) adminProviderResponse {
	return adminProviderResponse{
		Slug:    p.Slug,
		Enabled: p.Enabled,
		Name:    p.Name,
		Icon:    p.Icon,
		Config: providerConfigResponse{
			Kind:        p.Config.Kind,
			ClientID:    p.Config.ClientID,
			Scopes:      p.Config.Scopes,
			EmailTrust:  p.Config.EmailTrust,
			AuthURL:     p.Config.AuthURL,
			TokenURL:    p.Config.TokenURL,
			UserInfoURL: p.Config.UserInfoURL,
		},
		UpdatedAt: p.UpdatedAt,
	}
}

// List は無効なものを含む全プロバイダーを返す。
// GET /api/admin/providers
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.registry.List(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := make([]adminProviderResponse, 0, len(providers))
	for _, p := range providers {
		resp = append(resp, toAdminProviderResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は指定プロバイダーを返す。
// GET /api/admin/providers/{slug}
func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if p == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("プロバイダー"))
		return
	}
	writeJSON(w, http.StatusOK, toAdminProviderResponse(p))
}

// Upsert はプロバイダーを作成または更新する。
// PUT /api/admin/providers/{slug}
func (h *ProviderHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertProviderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := &model.Provider{
		Slug:    chi.URLParam(r, "slug"),
		Enabled: req.Enabled,
		Name:    req.Name,
		Icon:    req.Icon,
		Config:  req.Config,
	}
	if err := h.registry.Upsert(r.Context(), p); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminProviderResponse(p))
}

// Delete はプロバイダーを削除する。紐付け済みIDも削除される。
// DELETE /api/admin/providers/{slug}
func (h *ProviderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.registry.Delete(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if !deleted {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("プロバイダー"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
