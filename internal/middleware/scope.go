package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/identity/internal/model"
)

var scopeContextKey = contextKey("scope")

// ScopeClassifier はホスト名をスコープに分類する。
type ScopeClassifier interface {
	Classify(ctx context.Context, host string) (model.Scope, error)
}

// NewScopeMiddleware はリクエストのHostからスコープを決定し、コンテキストに注入するミドルウェアを返す。
// どのスコープにも該当しないホストには421を返す。
func NewScopeMiddleware(classifier ScopeClassifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, err := classifier.Classify(r.Context(), r.Host)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), scopeContextKey, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ScopeFromContext はスコープミドルウェアが注入したスコープを返す。
func ScopeFromContext(ctx context.Context) (model.Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey).(model.Scope)
	return scope, ok
}

// ContextWithScope はコンテキストにスコープを注入する。テストで使用する。
func ContextWithScope(ctx context.Context, scope model.Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey, scope)
}
