package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/identity/internal/authz"
	"github.com/hitoshi/identity/internal/middleware"
	"github.com/hitoshi/identity/internal/model"
)

// ContextResolverInterface はスコープとユーザーの状態を解決する。
type ContextResolverInterface interface {
	Resolve(ctx context.Context, params authz.ContextParams) (*model.RequestContext, error)
}

// ContextHandler は連携サービス向けのコンテキスト問い合わせハンドラー。
type ContextHandler struct {
	resolver ContextResolverInterface
}

// NewContextHandler はContextHandlerを生成する。
func NewContextHandler(resolver ContextResolverInterface) *ContextHandler {
	return &ContextHandler{resolver: resolver}
}

// userContextResponse はユーザーの状態のAPIレスポンス。認証済みの場合のみユーザー情報を含む。
type userContextResponse struct {
	State      model.UserContextState `json:"state"`
	ID         int64                  `json:"id,omitempty"`
	GivenName  string                 `json:"given_name,omitempty"`
	FamilyName string                 `json:"family_name,omitempty"`
	Email      string                 `json:"email,omitempty"`
	IsAdmin    bool                   `json:"is_admin,omitempty"`
	Role       model.EffectiveRole    `json:"role,omitempty"`
}

// contextResponse は/contextのレスポンス。
type contextResponse struct {
	Scope scopeResponse       `json:"scope"`
	User  userContextResponse `json:"user"`
}

// Context はスコープとユーザーの状態を返す。
// GET /context?domain=xxx&token=yyy または GET /context?slug=xxx&token=yyy
// スコープが特定できない場合は422を返す。
func (h *ContextHandler) Context(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := authz.ContextParams{
		Domain: q.Get("domain"),
		Slug:   q.Get("slug"),
		Token:  q.Get("token"),
	}
	if (params.Domain == "") == (params.Slug == "") {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("domainかslugのどちらか一方を指定してください。"))
		return
	}

	rc, err := h.resolver.Resolve(r.Context(), params)
	if err != nil {
		if errors.Is(err, model.ErrEventNotFound) {
			middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewEventNotFoundError())
			return
		}
		middleware.WriteError(w, r, err)
		return
	}

	resp := contextResponse{
		Scope: toScopeResponse(rc.Scope),
		User:  userContextResponse{State: rc.User.State},
	}
	if u := rc.User.User; u != nil {
		resp.User.ID = u.ID
		resp.User.GivenName = u.GivenName
		resp.User.FamilyName = u.FamilyName
		resp.User.Email = u.PrimaryEmail
		resp.User.IsAdmin = u.IsAdmin
		resp.User.Role = rc.User.Role
	}
	writeJSON(w, http.StatusOK, resp)
}
