package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/identity/internal/model"
)

var (
	userContextKey = contextKey("user")
	roleContextKey = contextKey("role")
)

// UserLoader はユーザーIDからユーザーを取得する。
// 削除済みユーザーの場合はmodel.ErrUnauthenticatedを返す。
type UserLoader interface {
	CurrentUser(ctx context.Context, userID int64) (*model.User, error)
}

// ScopeAuthorizer はスコープへのアクセスを判定する。
type ScopeAuthorizer interface {
	Authorize(ctx context.Context, scope model.Scope, user *model.User) (model.EffectiveRole, error)
}

// NewUserMiddleware はセッションのユーザーIDからユーザーを読み込み、コンテキストに注入するミドルウェアを返す。
// SessionMiddlewareの後に配置する。
func NewUserMiddleware(loader UserLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteError(w, r, model.ErrUnauthenticated)
				return
			}

			user, err := loader.CurrentUser(r.Context(), userID)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// NewAdminMiddleware は管理者以外のリクエストを403で拒否するミドルウェアを返す。
// UserMiddlewareの後に配置する。
func NewAdminMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				WriteError(w, r, model.ErrUnauthenticated)
				return
			}
			if !user.IsAdmin {
				WriteError(w, r, model.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewScopeAuthorizationMiddleware はスコープに対するユーザーのアクセスを判定し、
// スコープ内での役割をコンテキストに注入するミドルウェアを返す。
// ScopeMiddlewareとUserMiddlewareの後に配置する。
func NewScopeAuthorizationMiddleware(authorizer ScopeAuthorizer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := ScopeFromContext(r.Context())
			if !ok {
				WriteError(w, r, model.ErrUnknownDomain)
				return
			}
			user, _ := UserFromContext(r.Context())

			role, err := authorizer.Authorize(r.Context(), scope, user)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), roleContextKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext はUserMiddlewareが注入したユーザーを返す。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// RoleFromContext はスコープ内での役割を返す。未判定の場合はEffectiveRoleNone。
func RoleFromContext(ctx context.Context) model.EffectiveRole {
	role, _ := ctx.Value(roleContextKey).(model.EffectiveRole)
	return role
}
