// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/identity/internal/metrics"
	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionContextKey は検証済みセッションを格納するためのキー。
	sessionContextKey = contextKey("session")
)

// SessionLoader はCookie値からセッションを検証・読み込みする。
// session.Managerの部分集合として定義する。
type SessionLoader interface {
	Load(ctx context.Context, value string) (*session.Loaded, error)
	RefreshedCookie(l *session.Loaded) *http.Cookie
}

// SessionRecorder はセッション検証結果を記録する。
type SessionRecorder interface {
	RecordSessionVerification(result string)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 署名検証・読み込み・期限延長を行うミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// 未認証リクエストには401、ストア障害には503を返す。
func NewSessionMiddleware(loader SessionLoader, recorder SessionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := authenticate(w, r, loader, recorder)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(w http.ResponseWriter, r *http.Request, loader SessionLoader, recorder SessionRecorder) (context.Context, error) {
	record := func(result string) {
		if recorder != nil {
			recorder.RecordSessionVerification(result)
		}
	}

	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, model.ErrUnauthenticated
	}

	loaded, err := loader.Load(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			record(metrics.SessionInvalid)
			return nil, err
		}
		record(metrics.SessionError)
		slog.Error("failed to load session",
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if !loaded.Session.Authenticated() {
		// OAuthフロー中のセッションはAPIの認証には使えない
		record(metrics.SessionInvalid)
		return nil, model.ErrUnauthenticated
	}

	if loaded.Refreshed {
		http.SetCookie(w, loader.RefreshedCookie(loaded))
		record(metrics.SessionRefreshed)
	} else {
		record(metrics.SessionValid)
	}

	noteUserID(r.Context(), loaded.Session.UserID)
	ctx := context.WithValue(r.Context(), userIDContextKey, loaded.Session.UserID)
	ctx = context.WithValue(ctx, sessionContextKey, loaded)
	return ctx, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	if !ok || userID <= 0 {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// SessionFromContext は検証済みセッションを取得する。
func SessionFromContext(ctx context.Context) (*session.Loaded, bool) {
	loaded, ok := ctx.Value(sessionContextKey).(*session.Loaded)
	return loaded, ok
}
