package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/identity/internal/middleware"
	"github.com/hitoshi/identity/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return false
	}
	return true
}

// int64Param はURLパラメーターを正の整数として取り出す。失敗した場合は400を書き込みfalseを返す。
func int64Param(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || v <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError(key+"が不正です。"))
		return 0, false
	}
	return v, true
}

// currentUser はUserMiddlewareが注入したユーザーを取り出す。無い場合は401を書き込みfalseを返す。
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, model.ErrUnauthenticated)
		return nil, false
	}
	return user, true
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID         int64     `json:"id"`
	GivenName  string    `json:"given_name"`
	FamilyName string    `json:"family_name"`
	Email      string    `json:"email"`
	IsAdmin    bool      `json:"is_admin"`
	CreatedAt  time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		GivenName:  u.GivenName,
		FamilyName: u.FamilyName,
		Email:      u.PrimaryEmail,
		IsAdmin:    u.IsAdmin,
		CreatedAt:  u.CreatedAt,
	}
}

// scopeResponse はスコープのAPIレスポンス。
type scopeResponse struct {
	Kind           model.ScopeKind `json:"kind"`
	Event          string          `json:"event,omitempty"`
	OrganizationID int64           `json:"organization_id,omitempty"`
}

func toScopeResponse(s model.Scope) scopeResponse {
	return scopeResponse{Kind: s.Kind, Event: s.Event, OrganizationID: s.OrganizationID}
}
