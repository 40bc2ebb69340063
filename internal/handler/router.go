package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/identity/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	HTTPRecorder       middleware.HTTPRecorder
	SessionLoader      middleware.SessionLoader
	SessionRecorder    middleware.SessionRecorder
	UserLoader         middleware.UserLoader
	ScopeClassifier    middleware.ScopeClassifier
	ScopeAuthorizer    middleware.ScopeAuthorizer
	RateLimiter        *middleware.RateLimiter
	CORSAllowedOrigins []string
	CSRFConfig         middleware.CSRFConfig
	HSTS               bool
	TrustProxyHeaders  bool

	// 認証
	AuthService    AuthServiceInterface
	SessionCookies SessionCookies
	Providers      ProviderLister

	// コンテキスト問い合わせ
	ContextResolver ContextResolverInterface

	// ユーザー
	UserService UserServiceInterface

	// 組織・イベント
	OrganizationService OrganizationServiceInterface

	// 管理
	ProviderRegistry ProviderRegistryInterface

	// 運用
	HealthChecks   map[string]HealthCheck
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → Recovery → Logging → SecurityHeaders → CORS
//
// RealIPはTrustProxyHeadersが有効な場合のみ挿入する。
//
// /api配下はさらに Session → User → RateLimit(General) → CSRF を通過する。
// GET /api/me はその前にScopeでホストを分類し、最後にScopeAuthorizationで権限を判定する。
// OAuthフロー（/oauth/*）と/contextはセッション不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.TrustProxyHeaders {
		// ログとIP単位のレート制限がプロキシではなく接続元のIPを使うようにする
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.HTTPRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCookies, deps.Providers)
	contextHandler := NewContextHandler(deps.ContextResolver)
	userHandler := NewUserHandler(deps.UserService, deps.SessionCookies)
	orgHandler := NewOrganizationHandler(deps.OrganizationService)
	providerHandler := NewProviderHandler(deps.ProviderRegistry)
	healthHandler := NewHealthHandler(deps.HealthChecks)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// OAuthフロー（IP単位のレート制限）
	r.Route("/oauth", func(r chi.Router) {
		r.Get("/providers", authHandler.Providers)
		r.With(deps.RateLimiter.LoginMiddleware()).Get("/launch", authHandler.Launch)
		r.With(deps.RateLimiter.LoginMiddleware()).Get("/callback", authHandler.Callback)
		r.Get("/logout", authHandler.Logout)
		r.Post("/logout", authHandler.Logout)
	})

	// 連携サービス向け
	r.Get("/context", contextHandler.Context)

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	authenticated := chi.Chain(
		middleware.NewSessionMiddleware(deps.SessionLoader, deps.SessionRecorder),
		middleware.NewUserMiddleware(deps.UserLoader),
		deps.RateLimiter.GeneralMiddleware(),
		middleware.NewCSRFMiddleware(deps.CSRFConfig),
	)

	r.Route("/api", func(r chi.Router) {
		r.Route("/me", func(r chi.Router) {
			// アクセス中のドメインのスコープで権限を判定する。
			// どのスコープにも該当しないホストはセッションを読む前に拒否する。
			r.With(middleware.NewScopeMiddleware(deps.ScopeClassifier)).
				With(authenticated...).
				With(middleware.NewScopeAuthorizationMiddleware(deps.ScopeAuthorizer)).
				Get("/", userHandler.Me)

			r.Group(func(r chi.Router) {
				r.Use(authenticated...)
				r.Delete("/", userHandler.Withdraw)
				r.Get("/identities", userHandler.Identities)
				r.Delete("/identities/{provider}", userHandler.Unlink)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticated...)

			r.Route("/organizations/{orgID}/organizers/{userID}", func(r chi.Router) {
				r.Put("/", orgHandler.SetOrganizer)
				r.Delete("/", orgHandler.RemoveOrganizer)
			})

			r.Route("/events/{slug}", func(r chi.Router) {
				r.Put("/custom-domain", orgHandler.SetCustomDomain)
				r.Delete("/custom-domain", orgHandler.DeleteCustomDomain)
				r.Put("/participants/{userID}", orgHandler.AddParticipant)
			})

			// 管理者専用
			r.Route("/admin/providers", func(r chi.Router) {
				r.Use(middleware.NewAdminMiddleware())
				r.Get("/", providerHandler.List)
				r.Route("/{slug}", func(r chi.Router) {
					r.Get("/", providerHandler.Get)
					r.Put("/", providerHandler.Upsert)
					r.Delete("/", providerHandler.Delete)
				})
			})
		})
	})

	return r
}
