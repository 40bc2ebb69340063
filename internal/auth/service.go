// Package auth はOAuthログインフロー（開始・コールバック・ログアウト）を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/provider"
	"github.com/hitoshi/identity/internal/repository"
	"github.com/hitoshi/identity/internal/session"
)

// ErrCancelled はユーザーがプロバイダーの同意画面で拒否したことを表す。
var ErrCancelled = errors.New("login cancelled")

// ErrProviderDenied はプロバイダーがaccess_denied以外のエラーを返したことを表す。
var ErrProviderDenied = errors.New("provider returned an error")

// ErrNotInFlow はCookieがOAuthフロー中のセッションを指していないことを表す。
// ログイン済みセッションはそのまま維持される。
var ErrNotInFlow = fmt.Errorf("%w: session is not in oauth state", model.ErrInvalidState)

// ログイン結果の分類。メトリクスのラベルに使用する。
const (
	OutcomeSuccess   = "success"
	OutcomeCancelled = "cancelled"
	OutcomeFailure   = "failure"
)

// ProviderRegistry は有効なプロバイダーを取得する。
type ProviderRegistry interface {
	Enabled(ctx context.Context, slug string) (*model.Provider, error)
}

// ProviderClient は外部プロバイダーとの通信を行う。
type ProviderClient interface {
	AuthCodeURL(p *model.Provider, state string) (string, error)
	Exchange(ctx context.Context, p *model.Provider, code string) (*model.Assertion, error)
}

// IdentityLinker は外部アカウントを内部ユーザーに紐付ける。
type IdentityLinker interface {
	LinkOrCreate(ctx context.Context, p *model.Provider, a model.Assertion) (*model.User, bool, error)
}

// RedirectValidator はログイン後のリダイレクト先を検証する。
type RedirectValidator interface {
	Validate(ctx context.Context, raw string) (*url.URL, error)
}

// Recorder はログイン結果を記録する。
type Recorder interface {
	RecordLogin(provider, outcome string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// FrontendURL はreturn_to省略時のリダイレクト先と、失敗時のログイン画面の基点。
	FrontendURL string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	registry  ProviderRegistry
	client    ProviderClient
	linker    IdentityLinker
	redirects RedirectValidator
	sessions  *session.Manager
	users     repository.UserRepository
	recorder  Recorder
	config    ServiceConfig
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	registry ProviderRegistry,
	client ProviderClient,
	linker IdentityLinker,
	redirects RedirectValidator,
	sessions *session.Manager,
	users repository.UserRepository,
	recorder Recorder,
	config ServiceConfig,
) *Service {
	return &Service{
		registry:  registry,
		client:    client,
		linker:    linker,
		redirects: redirects,
		sessions:  sessions,
		users:     users,
		recorder:  recorder,
		config:    config,
	}
}

// LaunchResult はログイン開始の結果。
type LaunchResult struct {
	// AuthURL はプロバイダーの認可エンドポイントへのURL。
	AuthURL string
	// Cookie はOAuthフロー中セッションのCookie。
	Cookie string
	// ExpiresAt はOAuthフロー中セッションの有効期限。
	ExpiresAt time.Time
}

// Launch はOAuthフローを開始する。
// stateとして使うnonceをサーバー側のセッションに保存し、コールバックで照合する。
func (s *Service) Launch(ctx context.Context, providerSlug, returnTo string) (*LaunchResult, error) {
	if returnTo == "" {
		returnTo = s.config.FrontendURL
	}
	target, err := s.redirects.Validate(ctx, returnTo)
	if err != nil {
		return nil, err
	}

	p, err := s.registry.Enabled(ctx, providerSlug)
	if err != nil {
		return nil, err
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate oauth state: %w", err)
	}

	authURL, err := s.client.AuthCodeURL(p, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization url: %w", err)
	}

	value, sess, err := s.sessions.IssueOAuth(ctx, p.Slug, nonce, target.String())
	if err != nil {
		return nil, fmt.Errorf("failed to issue oauth session: %w", err)
	}

	return &LaunchResult{AuthURL: authURL, Cookie: value, ExpiresAt: sess.ExpiresAt}, nil
}

// CallbackParams はプロバイダーからのコールバックパラメーター。
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// CallbackResult はログイン完了の結果。
type CallbackResult struct {
	User      *model.User
	Created   bool
	Cookie    string
	ExpiresAt time.Time
	ReturnTo  string
}

// Callback はOAuthコールバックを処理し、ログイン済みセッションを発行する。
// OAuthフロー中セッションは成否にかかわらず破棄し、ログイン時は新しいトークンを発行する。
// Cookieがログイン済みセッションの場合は破棄せずErrNotInFlowを返す。
func (s *Service) Callback(ctx context.Context, cookieValue string, params CallbackParams) (*CallbackResult, error) {
	flow, err := s.sessions.Load(ctx, cookieValue)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			s.record("", OutcomeFailure)
			return nil, fmt.Errorf("%w: no oauth session", model.ErrInvalidState)
		}
		return nil, err
	}
	pending := flow.Session
	if pending.State != model.SessionStateOAuth {
		s.record("", OutcomeFailure)
		return nil, ErrNotInFlow
	}
	if err := s.sessions.DestroyToken(ctx, flow.Token); err != nil {
		return nil, fmt.Errorf("failed to destroy oauth session: %w", err)
	}

	if params.Error != "" {
		if params.Error == "access_denied" {
			s.record(pending.Provider, OutcomeCancelled)
			return nil, ErrCancelled
		}
		s.record(pending.Provider, OutcomeFailure)
		return nil, fmt.Errorf("%w: %s", ErrProviderDenied, params.Error)
	}

	if params.State == "" || subtle.ConstantTimeCompare([]byte(params.State), []byte(pending.Nonce)) != 1 {
		s.record(pending.Provider, OutcomeFailure)
		return nil, fmt.Errorf("%w: state mismatch", model.ErrInvalidState)
	}

	result, err := s.complete(ctx, pending, params.Code)
	if err != nil {
		s.record(pending.Provider, OutcomeFailure)
		return nil, err
	}
	s.record(pending.Provider, OutcomeSuccess)
	return result, nil
}

func (s *Service) complete(ctx context.Context, pending *model.Session, code string) (*CallbackResult, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", provider.ErrExchange)
	}

	p, err := s.registry.Enabled(ctx, pending.Provider)
	if err != nil {
		return nil, err
	}

	assertion, err := s.client.Exchange(ctx, p, code)
	if err != nil {
		return nil, err
	}

	user, created, err := s.linker.LinkOrCreate(ctx, p, *assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}

	value, sess, err := s.sessions.IssueAuthenticated(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("provider", p.Slug),
		slog.Bool("created", created),
	)

	returnTo := pending.ReturnTo
	if returnTo == "" {
		returnTo = s.config.FrontendURL
	}
	return &CallbackResult{
		User:      user,
		Created:   created,
		Cookie:    value,
		ExpiresAt: sess.ExpiresAt,
		ReturnTo:  returnTo,
	}, nil
}

// Logout はセッションを破棄する。Cookieが無い・不正な場合は何もしない。
func (s *Service) Logout(ctx context.Context, cookieValue string) error {
	if cookieValue == "" {
		return nil
	}
	if err := s.sessions.Destroy(ctx, cookieValue); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// ReturnURL はログアウト後などのリダイレクト先を検証して返す。
// 空または許可されていない場合はフロントエンドのURLを返す。
func (s *Service) ReturnURL(ctx context.Context, returnTo string) string {
	if returnTo == "" {
		return s.config.FrontendURL
	}
	target, err := s.redirects.Validate(ctx, returnTo)
	if err != nil {
		slog.Warn("rejected return url",
			slog.String("return_to", returnTo),
			slog.String("error", err.Error()),
		)
		return s.config.FrontendURL
	}
	return target.String()
}

// CurrentUser はユーザーIDからユーザーを取得する。
// セッションが指すユーザーが削除済みの場合はmodel.ErrUnauthenticatedを返す。
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrUnauthenticated
	}
	return user, nil
}

// MintSession は指定ユーザーのログイン済みセッションを発行し、Cookie値を返す。
// 開発時にブラウザを経由せずAPIを呼び出すために使う。
func (s *Service) MintSession(ctx context.Context, userID int64) (string, *model.Session, error) {
	if _, err := s.CurrentUser(ctx, userID); err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			return "", nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
		}
		return "", nil, err
	}
	return s.sessions.IssueAuthenticated(ctx, userID)
}

// FailureURL はログイン失敗時のリダイレクト先を返す。
// 拒否された場合は status=cancelled、それ以外は status=error と理由を付与する。
func (s *Service) FailureURL(err error) string {
	q := url.Values{}
	if errors.Is(err, ErrCancelled) {
		q.Set("status", "cancelled")
	} else {
		q.Set("status", "error")
		q.Set("reason", FailureReason(err))
	}
	return s.config.FrontendURL + "/login?" + q.Encode()
}

// FailureReason はログイン失敗の理由をフロントエンド向けの短い識別子で返す。
func FailureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidState):
		return "invalid-state"
	case errors.Is(err, model.ErrProviderUnavailable):
		return "provider-unavailable"
	case errors.Is(err, ErrProviderDenied):
		return "provider-error"
	case errors.Is(err, provider.ErrExchange):
		return "exchange-failed"
	case errors.Is(err, model.ErrIdentityConflict):
		return "identity-conflict"
	case errors.Is(err, model.ErrMissingEmail):
		return "missing-email"
	case errors.Is(err, model.ErrTransientStore):
		return "temporarily-unavailable"
	default:
		return "internal"
	}
}

func (s *Service) record(provider, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordLogin(provider, outcome)
	}
}

// generateNonce はOAuthのstateに使うランダムな値を生成する。
func generateNonce() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
