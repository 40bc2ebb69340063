package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/identity/internal/model"
)

// CookieName はセッションCookieの名前。
const CookieName = "session"

// Config はセッション管理の設定。
type Config struct {
	TTL              time.Duration // ログイン済みセッションの有効期間
	RefreshWindow    time.Duration // 残り時間がこれを下回ったら延長する
	RefreshExtension time.Duration // 延長時の新しい残り時間
	StateTTL         time.Duration // OAuthフロー中セッションの有効期間
	CookieDomain     string
	CookieSecure     bool
}

// Manager はCodecとStoreを組み合わせてセッションの発行・検証・破棄を行う。
type Manager struct {
	codec *Codec
	store *Store
	cfg   Config
	now   func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(codec *Codec, store *Store, cfg Config) *Manager {
	return &Manager{codec: codec, store: store, cfg: cfg, now: time.Now}
}

// Loaded は検証済みのセッション。
type Loaded struct {
	Session *model.Session
	Token   Token
	// Refreshed は有効期限を延長したことを表す。呼び出し側はCookieを再発行する。
	Refreshed bool
}

// IssueAuthenticated はログイン済みセッションを新しいトークンで発行し、Cookie値を返す。
func (m *Manager) IssueAuthenticated(ctx context.Context, userID int64) (string, *model.Session, error) {
	now := m.now()
	sess := &model.Session{
		State:     model.SessionStateAuthenticated,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	value, err := m.issue(ctx, sess)
	if err != nil {
		return "", nil, err
	}
	return value, sess, nil
}

// IssueOAuth はOAuthフロー中のセッションを発行し、Cookie値を返す。
// nonceはstateパラメーターとして外部プロバイダーに渡す値。
func (m *Manager) IssueOAuth(ctx context.Context, provider, nonce, returnTo string) (string, *model.Session, error) {
	now := m.now()
	sess := &model.Session{
		State:     model.SessionStateOAuth,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.StateTTL),
		Provider:  provider,
		Nonce:     nonce,
		ReturnTo:  returnTo,
	}
	value, err := m.issue(ctx, sess)
	if err != nil {
		return "", nil, err
	}
	return value, sess, nil
}

func (m *Manager) issue(ctx context.Context, sess *model.Session) (string, error) {
	t, err := NewToken()
	if err != nil {
		return "", err
	}
	if err := m.store.Save(ctx, t, sess); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return m.codec.Sign(t), nil
}

// Load はCookie値を検証し、セッションを読み込み、必要なら有効期限を延長する。
// 署名不正・存在しない・期限切れはいずれもmodel.ErrUnauthenticatedを返す。
func (m *Manager) Load(ctx context.Context, value string) (*Loaded, error) {
	t, err := m.codec.Verify(value)
	if err != nil {
		return nil, err
	}

	sess, err := m.store.Load(ctx, t)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, model.ErrUnauthenticated
	}

	loaded := &Loaded{Session: sess, Token: t}
	if sess.State != model.SessionStateAuthenticated {
		return loaded, nil
	}

	now := m.now()
	if sess.ExpiresAt.Sub(now) < m.cfg.RefreshWindow {
		if err := m.store.Touch(ctx, t, sess, now.Add(m.cfg.RefreshExtension)); err != nil {
			if errors.Is(err, model.ErrUnauthenticated) {
				// 読み込み後にログアウトされた
				return nil, err
			}
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}
		loaded.Refreshed = true
		slog.Debug("session refreshed",
			slog.Int64("user_id", sess.UserID),
			slog.Time("expires_at", sess.ExpiresAt),
		)
	}
	return loaded, nil
}

// Destroy はCookie値が指すセッションを削除する。
// 署名が不正な値は何もせずに成功とする。
func (m *Manager) Destroy(ctx context.Context, value string) error {
	t, err := m.codec.Verify(value)
	if err != nil {
		return nil
	}
	return m.store.Delete(ctx, t)
}

// DestroyToken は検証済みトークンのセッションを削除する。
func (m *Manager) DestroyToken(ctx context.Context, t Token) error {
	return m.store.Delete(ctx, t)
}

// Cookie はセッションCookieを生成する。
func (m *Manager) Cookie(value string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.cfg.CookieDomain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// RefreshedCookie は延長後の有効期限でCookieを再生成する。
func (m *Manager) RefreshedCookie(l *Loaded) *http.Cookie {
	return m.Cookie(m.codec.Sign(l.Token), l.Session.ExpiresAt)
}

// ClearCookie はセッションCookieを削除するCookieを生成する。
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
