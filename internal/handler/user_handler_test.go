package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/identity/internal/middleware"
	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/session"
)

// --- モック定義 ---

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	identitiesFn func(ctx context.Context, userID int64) ([]*model.Identity, error)
	unlinkFn     func(ctx context.Context, userID int64, provider string) error
	withdrawFn   func(ctx context.Context, userID int64, sessionValue string) error
}

func (m *mockUserService) Identities(ctx context.Context, userID int64) ([]*model.Identity, error) {
	if m.identitiesFn != nil {
		return m.identitiesFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockUserService) Unlink(ctx context.Context, userID int64, provider string) error {
	if m.unlinkFn != nil {
		return m.unlinkFn(ctx, userID, provider)
	}
	return nil
}

func (m *mockUserService) Withdraw(ctx context.Context, userID int64, sessionValue string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID, sessionValue)
	}
	return nil
}

// --- ヘルパー ---

// withUser はリクエストコンテキストに認証済みユーザーを注入する。
func withUser(req *http.Request, user *model.User) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), user.ID)
	ctx = middleware.ContextWithUser(ctx, user)
	return req.WithContext(ctx)
}

// withURLParams はchiのURLパラメーターを注入する。
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

var testUser = &model.User{ID: 42, GivenName: "Grace", FamilyName: "Hopper", PrimaryEmail: "grace@example.com"}

// --- GET /api/me ---

func TestUserHandler_Me_ReturnsUserScopeAndRole(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, stubCookies{})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req = withUser(req, testUser)
	req = req.WithContext(middleware.ContextWithScope(req.Context(),
		model.Scope{Kind: model.ScopeEventDefault, Event: "wafflehacks", OrganizationID: 1}))
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got meResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.User.ID != 42 || got.User.Email != "grace@example.com" {
		t.Errorf("user = %+v", got.User)
	}
	if got.Scope.Kind != model.ScopeEventDefault || got.Scope.Event != "wafflehacks" {
		t.Errorf("scope = %+v", got.Scope)
	}
}

func TestUserHandler_Me_NoUser_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, stubCookies{})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- GET /api/me/identities ---

func TestUserHandler_Identities(t *testing.T) {
	svc := &mockUserService{
		identitiesFn: func(_ context.Context, userID int64) ([]*model.Identity, error) {
			if userID != 42 {
				t.Errorf("userID = %d, want 42", userID)
			}
			return []*model.Identity{
				{Provider: "github", UserID: 42, RemoteID: "1001", Email: "grace@example.com", CreatedAt: time.Now()},
				{Provider: "google", UserID: 42, RemoteID: "g-7", Email: "grace@gmail.com", CreatedAt: time.Now()},
			}, nil
		},
	}
	h := NewUserHandler(svc, stubCookies{})

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/me/identities", nil), testUser)
	w := httptest.NewRecorder()
	h.Identities(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 || got[0]["provider"] != "github" {
		t.Errorf("identities = %+v", got)
	}
	if _, ok := got[0]["remote_id"]; ok {
		t.Error("remote_id must not be exposed")
	}
}

// --- DELETE /api/me/identities/{provider} ---

func TestUserHandler_Unlink(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"成功", nil, http.StatusNoContent},
		{"最後のID", model.ErrLastIdentity, http.StatusConflict},
		{"紐付けが無い", model.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUserService{
				unlinkFn: func(_ context.Context, userID int64, provider string) error {
					if userID != 42 || provider != "github" {
						t.Errorf("Unlink(%d, %q)", userID, provider)
					}
					return tt.err
				},
			}
			h := NewUserHandler(svc, stubCookies{})

			req := httptest.NewRequest(http.MethodDelete, "/api/me/identities/github", nil)
			req = withURLParams(withUser(req, testUser), map[string]string{"provider": "github"})
			w := httptest.NewRecorder()
			h.Unlink(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- DELETE /api/me ---

func TestUserHandler_Withdraw_Success(t *testing.T) {
	withdrawCalled := false
	svc := &mockUserService{
		withdrawFn: func(_ context.Context, userID int64, sessionValue string) error {
			withdrawCalled = true
			if userID != 42 {
				t.Errorf("userID = %d, want 42", userID)
			}
			if sessionValue != "session-value" {
				t.Errorf("sessionValue = %q", sessionValue)
			}
			return nil
		},
	}
	h := NewUserHandler(svc, stubCookies{})

	req := httptest.NewRequest(http.MethodDelete, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "session-value"})
	req = withUser(req, testUser)
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if !withdrawCalled {
		t.Error("expected Withdraw to be called")
	}
	if c := findCookie(resp, session.CookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("expected cleared session cookie, got %+v", c)
	}
}

func TestUserHandler_Withdraw_NoUser_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, stubCookies{})

	req := httptest.NewRequest(http.MethodDelete, "/api/me", nil)
	// ユーザーを注入しない
	w := httptest.NewRecorder()

	h.Withdraw(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_Withdraw_ServiceError(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(context.Context, int64, string) error {
			return model.ErrTransientStore
		},
	}
	h := NewUserHandler(svc, stubCookies{})

	req := withUser(httptest.NewRequest(http.MethodDelete, "/api/me", nil), testUser)
	w := httptest.NewRecorder()
	h.Withdraw(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if c := findCookie(w.Result(), session.CookieName); c != nil {
		t.Errorf("expected cookie to be kept on failure, got %+v", c)
	}
}
