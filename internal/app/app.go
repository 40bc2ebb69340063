package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/identity/internal/auth"
	"github.com/hitoshi/identity/internal/authz"
	"github.com/hitoshi/identity/internal/cache"
	"github.com/hitoshi/identity/internal/config"
	"github.com/hitoshi/identity/internal/database"
	"github.com/hitoshi/identity/internal/domain"
	"github.com/hitoshi/identity/internal/handler"
	"github.com/hitoshi/identity/internal/identity"
	"github.com/hitoshi/identity/internal/logger"
	"github.com/hitoshi/identity/internal/metrics"
	"github.com/hitoshi/identity/internal/middleware"
	"github.com/hitoshi/identity/internal/organization"
	"github.com/hitoshi/identity/internal/provider"
	"github.com/hitoshi/identity/internal/redirect"
	"github.com/hitoshi/identity/internal/repository"
	"github.com/hitoshi/identity/internal/security"
	"github.com/hitoshi/identity/internal/session"
	"github.com/hitoshi/identity/internal/user"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数でConfigを読み込み、ログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドが無い場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// components はserveとsession mintで共有する依存関係。
type components struct {
	db    *sql.DB
	cache cache.Client

	metrics  *metrics.Collector
	registry *prometheus.Registry

	sessions    *session.Manager
	providers   *provider.Registry
	resolver    *domain.Resolver
	authorizer  *authz.Authorizer
	contexts    *authz.ContextResolver
	authService *auth.Service
	userService *user.Service
	orgService  *organization.Service
}

// wire はDBとキャッシュに接続し、全依存関係を組み立てる。
func wire(ctx context.Context, cfg *config.Config) (*components, error) {
	// 1. ストア接続
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established")

	cacheClient, err := cache.New(ctx, cfg.CacheURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}
	slog.Info("cache connection established", slog.String("cache", maskURL(cfg.CacheURL)))

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identityRepo := repository.NewPostgresIdentityRepo(db)
	providerRepo := repository.NewPostgresProviderRepo(db)
	organizerRepo := repository.NewPostgresOrganizerRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	participantRepo := repository.NewPostgresParticipantRepo(db)

	// 4. セッション
	sessions := session.NewManager(
		session.NewCodec(cfg.CookieSigningKey),
		session.NewStore(cacheClient),
		session.Config{
			TTL:              cfg.SessionTTL,
			RefreshWindow:    cfg.SessionRefreshWindow,
			RefreshExtension: cfg.SessionRefreshExtension,
			StateTTL:         cfg.OAuthStateTTL,
			CookieDomain:     cfg.CookieDomain,
			CookieSecure:     cfg.CookieSecure,
		},
	)

	// 5. プロバイダー（管理者が設定したエンドポイントはSSRFガード経由で呼び出す）
	guard := security.NewEndpointGuard(!cfg.IsDevelopment())
	providers := provider.NewRegistry(providerRepo, guard, cfg.CacheTTL)
	client := provider.NewClient(
		guard.NewClient(cfg.ProviderHTTPTimeout),
		security.NewNameSanitizer(),
		cfg.APIURL+"/oauth/callback",
	)

	// 6. ドメインサービスの初期化
	linker := identity.NewLinker(userRepo, identityRepo, collector, identity.Config{
		AllowUnlinkLastIdentity: cfg.AllowUnlinkLastIdentity,
	})
	resolver := domain.NewResolver(eventRepo, collector, domain.Config{
		AdminDomains: cfg.AdminDomains,
		UserDomains:  cfg.UserDomains,
		EventSuffix:  cfg.EventDomainSuffix,
		CacheTTL:     cfg.CacheTTL,
	})
	redirects := redirect.NewValidator(resolver, redirect.Config{
		Allowed:      cfg.AllowedRedirectDomains,
		RequireHTTPS: cfg.RedirectRequireHTTPS,
	})
	authorizer := authz.NewAuthorizer(organizerRepo, participantRepo)

	authService := auth.NewService(
		providers, client, linker, redirects, sessions, userRepo, collector,
		auth.ServiceConfig{FrontendURL: cfg.FrontendURL},
	)

	return &components{
		db:          db,
		cache:       cacheClient,
		metrics:     collector,
		registry:    reg,
		sessions:    sessions,
		providers:   providers,
		resolver:    resolver,
		authorizer:  authorizer,
		contexts:    authz.NewContextResolver(authorizer, resolver, eventRepo, userRepo, sessions),
		authService: authService,
		userService: user.NewService(userRepo, linker, sessions),
		orgService: organization.NewService(
			userRepo, organizerRepo, eventRepo, participantRepo, authorizer, resolver, resolver,
		),
	}, nil
}

// Close はストア接続を閉じる。
func (c *components) Close() {
	if err := c.cache.Close(); err != nil {
		slog.Warn("failed to close cache", slog.String("error", err.Error()))
	}
	if err := c.db.Close(); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}

// router はHTTPルーターを構築する。rate limiterの停止は呼び出し側が行う。
func (c *components) router(cfg *config.Config, limiter *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		HTTPRecorder:       c.metrics,
		SessionLoader:      c.sessions,
		SessionRecorder:    c.metrics,
		UserLoader:         c.authService,
		ScopeClassifier:    c.resolver,
		ScopeAuthorizer:    c.authorizer,
		RateLimiter:        limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:              !cfg.IsDevelopment(),
		TrustProxyHeaders: cfg.TrustProxyHeaders,

		AuthService:    c.authService,
		SessionCookies: c.sessions,
		Providers:      c.providers,

		ContextResolver: c.contexts,

		UserService: c.userService,

		OrganizationService: c.orgService,

		ProviderRegistry: c.providers,

		HealthChecks: map[string]handler.HealthCheck{
			"database": c.db.PingContext,
			"cache":    c.cache.Ping,
		},
		MetricsHandler: metrics.Handler(c.registry),
	})
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer limiter.Stop()

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           c.router(cfg, limiter),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("environment", cfg.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// stepsが0の場合は未適用のマイグレーションをすべて適用し、正の場合はその件数だけ戻す。
func runMigrate(cfg *config.Config, steps int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskURL(cfg.DatabaseURL)),
		slog.Int("rollback_steps", steps),
	)

	var err error
	if steps > 0 {
		err = database.RollbackMigrations(cfg.DatabaseURL, steps)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runMintSession は指定ユーザーのログイン済みセッションを発行し、Cookie値を出力する。
// ローカル開発でOAuthを経由せずにAPIを試すためのもの。
func runMintSession(cfg *config.Config, userID int64, out io.Writer) error {
	ctx := context.Background()

	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	value, sess, err := c.authService.MintSession(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to mint session: %w", err)
	}

	slog.Info("session minted",
		slog.Int64("user_id", userID),
		slog.Time("expires_at", sess.ExpiresAt),
	)
	_, err = fmt.Fprintf(out, "%s=%s\n", session.CookieName, value)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(address string) error {
	endpoint := healthURL(address)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthURL はリッスンアドレスからヘルスチェックURLを組み立てる。ホスト省略時はlocalhostを使う。
func healthURL(address string) string {
	if len(address) > 0 && address[0] == ':' {
		address = "localhost" + address
	}
	return "http://" + address + "/health"
}

// maskURL は接続URLのパスワードを伏せ字にする。解析できない場合は全体を伏せる。
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}
