package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderKind は外部プロバイダーの種別を表す。
type ProviderKind string

const (
	ProviderKindGoogle  ProviderKind = "google"
	ProviderKindGitHub  ProviderKind = "github"
	ProviderKindDiscord ProviderKind = "discord"
	ProviderKindOIDC    ProviderKind = "oidc"
)

// EmailTrust はプロバイダーが主張するメールアドレスをアカウント紐付けに使うかどうかのポリシー。
type EmailTrust string

const (
	// EmailTrustNever はメールアドレスによる既存ユーザーへの紐付けを行わない。
	EmailTrustNever EmailTrust = "never"
	// EmailTrustVerified はプロバイダーが検証済みと主張したメールアドレスのみ紐付けに使う。
	EmailTrustVerified EmailTrust = "verified"
	// EmailTrustAlways はプロバイダーのメールアドレスを常に信頼する。
	EmailTrustAlways EmailTrust = "always"
)

// ProviderConfig はプロバイダー種別ごとの設定を表すタグ付きバリアント。
// Kindによって必須項目が変わる。OIDCのみエンドポイントURLを持つ。
type ProviderConfig struct {
	Kind         ProviderKind `json:"kind"`
	ClientID     string       `json:"client_id"`
	ClientSecret string       `json:"client_secret"`
	Scopes       []string     `json:"scopes,omitempty"`
	EmailTrust   EmailTrust   `json:"email_trust,omitempty"`

	// OIDC専用
	AuthURL     string `json:"auth_url,omitempty"`
	TokenURL    string `json:"token_url,omitempty"`
	UserInfoURL string `json:"userinfo_url,omitempty"`
}

// Validate は設定の整合性を検証する。
func (c ProviderConfig) Validate() error {
	switch c.Kind {
	case ProviderKindGoogle, ProviderKindGitHub, ProviderKindDiscord:
	case ProviderKindOIDC:
		if c.AuthURL == "" || c.TokenURL == "" || c.UserInfoURL == "" {
			return fmt.Errorf("oidc provider requires auth_url, token_url and userinfo_url")
		}
	default:
		return fmt.Errorf("unknown provider kind: %q", c.Kind)
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("client_id and client_secret are required")
	}
	switch c.EmailTrust {
	case "", EmailTrustNever, EmailTrustVerified, EmailTrustAlways:
	default:
		return fmt.Errorf("unknown email_trust: %q", c.EmailTrust)
	}
	return nil
}

// TrustsEmail はポリシーに従い、アサーションのメールアドレスを紐付けに使えるかを返す。
// 未設定の場合はverifiedとして扱う。
func (c ProviderConfig) TrustsEmail(verified bool) bool {
	switch c.EmailTrust {
	case EmailTrustAlways:
		return true
	case EmailTrustNever:
		return false
	default:
		return verified
	}
}

// Provider は外部認証プロバイダーの設定を表す。
type Provider struct {
	Slug      string
	Enabled   bool
	Name      string
	Icon      string
	Config    ProviderConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarshalConfig はConfigをJSONに変換する。
func (p *Provider) MarshalConfig() ([]byte, error) {
	b, err := json.Marshal(p.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider config: %w", err)
	}
	return b, nil
}
