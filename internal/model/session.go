package model

import "time"

// SessionState はセッションの状態を表す。
type SessionState string

const (
	// SessionStateOAuth はOAuthフロー進行中の状態。
	SessionStateOAuth SessionState = "oauth"
	// SessionStateAuthenticated はログイン済みの状態。
	SessionStateAuthenticated SessionState = "authenticated"
)

// Session はキャッシュに保存されるセッションの値。
// トークン自体は保存せず、トークンから導出したキーで参照する。
type Session struct {
	State     SessionState `json:"state"`
	UserID    int64        `json:"user_id,omitempty"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`

	// OAuthフロー中のみ
	Provider string `json:"provider,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	ReturnTo string `json:"return_to,omitempty"`
}

// Authenticated はログイン済みセッションかどうかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.State == SessionStateAuthenticated && s.UserID > 0
}
