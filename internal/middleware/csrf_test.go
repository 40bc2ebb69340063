package middleware

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/identity/internal/model"
)

var testCSRFConfig = CSRFConfig{CookieSecure: true, CookieDomain: "example.com"}

// csrfTarget はCSRFミドルウェアの後ろに置くハンドラーと呼び出し有無を返す。
func csrfTarget() (http.Handler, *bool) {
	called := false
	return NewCSRFMiddleware(testCSRFConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})), &called
}

// assertForbiddenBody は統一エラーフォーマットのFORBIDDENレスポンスであることを確認する。
func assertForbiddenBody(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", w.Body.String(), err)
	}
	if body.Code != model.ErrCodeForbidden {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeForbidden)
	}
	if body.Category != "auth" || body.Message == "" || body.Action == "" {
		t.Errorf("body = %+v, want category auth with message and action", body)
	}
}

// assertCSRFCookie はCSRFトークンCookieの属性を確認し、値を返す。
func assertCSRFCookie(t *testing.T, cookies []*http.Cookie) string {
	t.Helper()
	var c *http.Cookie
	for _, cookie := range cookies {
		if cookie.Name == csrfCookieName {
			c = cookie
		}
	}
	if c == nil {
		t.Fatal("csrf_token cookie should be set")
	}

	if raw, err := hex.DecodeString(c.Value); err != nil || len(raw) != 32 {
		t.Errorf("token = %q, want 32 random bytes hex-encoded", c.Value)
	}
	if c.HttpOnly {
		t.Error("csrf_token must be readable by the frontend (HttpOnly=false)")
	}
	if !c.Secure {
		t.Error("csrf_token should be Secure when configured")
	}
	if c.Domain != "example.com" {
		t.Errorf("Domain = %q, want example.com", c.Domain)
	}
	if c.Path != "/" {
		t.Errorf("Path = %q, want /", c.Path)
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}
	if c.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", c.MaxAge)
	}
	return c.Value
}

func TestCSRFMiddleware_SafeMethods_PassAndIssueCookie(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			handler, called := csrfTarget()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/api/me", nil))

			if !*called {
				t.Fatal("handler should be called for safe methods")
			}
			if w.Code != http.StatusNoContent {
				t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
			}
			assertCSRFCookie(t, w.Result().Cookies())
		})
	}
}

func TestCSRFMiddleware_SafeMethod_ExistingCookieNotReplaced(t *testing.T) {
	handler, _ := csrfTarget()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			t.Errorf("csrf_token should not be reissued, got %q", c.Value)
		}
	}
}

func TestCSRFMiddleware_StateChanging_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
	}{
		{"トークンなし", "", ""},
		{"Cookieのみ", "token-1", ""},
		{"ヘッダーのみ", "", "token-1"},
		{"不一致", "token-1", "token-2"},
		{"同じ長さで1文字違い", "aaaaaaaa", "aaaaaaab"},
		{"前方一致", "token-1", "token-1x"},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+" "+tt.name, func(t *testing.T) {
				handler, called := csrfTarget()
				req := httptest.NewRequest(method, "/api/me/identities/github", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()

				handler.ServeHTTP(w, req)

				if *called {
					t.Error("handler must not be called")
				}
				assertForbiddenBody(t, w)
			})
		}
	}
}

func TestCSRFMiddleware_StateChanging_MatchingTokenPasses(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			handler, called := csrfTarget()
			req := httptest.NewRequest(method, "/api/events/wafflehacks/custom-domain", nil)
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
			req.Header.Set(csrfHeaderName, "token-1")
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if !*called {
				t.Fatal("handler should be called")
			}
			if w.Code != http.StatusNoContent {
				t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
			}
		})
	}
}

func TestCSRFTokenHandler_IssuesToken(t *testing.T) {
	w := httptest.NewRecorder()
	NewCSRFTokenHandler(testCSRFConfig).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	cookieValue := assertCSRFCookie(t, w.Result().Cookies())
	if body["token"] != cookieValue {
		t.Errorf("token = %q, want cookie value %q", body["token"], cookieValue)
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()

	NewCSRFTokenHandler(testCSRFConfig).ServeHTTP(w, req)

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["token"] != "existing" {
		t.Errorf("token = %q, want existing", body["token"])
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("cookie should not be reissued")
	}
}

func TestCSRFTokenHandler_TokenRoundTripsThroughMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	NewCSRFTokenHandler(testCSRFConfig).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	token := assertCSRFCookie(t, w.Result().Cookies())

	handler, called := csrfTarget()
	req := httptest.NewRequest(http.MethodDelete, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
	req.Header.Set(csrfHeaderName, token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !*called {
		t.Error("issued token should be accepted")
	}
}
