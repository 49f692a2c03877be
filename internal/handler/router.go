package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/letwinventory/internal/metrics"
	"github.com/hitoshi/letwinventory/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Metrics        metrics.MetricsCollector
	Logger         *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	HSTS              bool
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthenticateBearer  middleware.AuthenticateFunc
	AuthenticateSession middleware.AuthenticateFunc
	AuthService         AuthServiceInterface
	AuthConfig          AuthHandlerConfig
	AddonService        AddonServiceInterface
	UserService         UserServiceInterface
	APIKeyService       APIKeyServiceInterface
	AdminService        AdminServiceInterface
	EnableTestLogin     bool

	// 認可
	GrantChecker       middleware.GrantChecker
	PermissionRecorder middleware.PermissionRecorder
	PermissionLister   PermissionLister

	// ResourceHandlers はリソース名ごとの業務ハンドラー。未登録のリソースは501を返す。
	ResourceHandlers map[string]http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全体のミドルウェア実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics
//
// /auth 配下はルートごとに認証方式が異なるため個別に認証ミドルウェアを付ける。
// /api 配下は Authenticator(Cookie or Bearer) → RateLimit(General) → PermissionGate。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(metrics.StatusMiddleware(deps.Metrics))
	}

	if deps.HealthChecker != nil {
		r.Get("/health", Health(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	addonHandler := NewAddonHandler(deps.AddonService)
	userHandler := NewUserHandler(deps.UserService)
	permHandler := NewPermissionHandler(deps.PermissionLister)
	apiKeyHandler := NewAPIKeyHandler(deps.APIKeyService)
	adminHandler := NewAdminHandler(deps.AdminService)

	bearer := middleware.NewBearerAuthenticator(deps.AuthenticateBearer)
	session := middleware.NewSessionAuthenticator(deps.AuthenticateSession)
	loginLimit := deps.RateLimiter.LoginMiddleware()

	r.Route("/auth", func(r chi.Router) {
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// --- クレデンシャルを受け取るルート（ログイン用レート制限） ---
		r.Group(func(r chi.Router) {
			r.Use(loginLimit)

			r.Get("/google", authHandler.Login)
			r.Get("/google/callback", authHandler.Callback)
			r.Post("/google/token", authHandler.GoogleToken)
			r.Post("/login", userHandler.Login)
			r.Post("/addon/exchange", addonHandler.Exchange)
			r.Post("/api-key/token", apiKeyHandler.Token)
			if deps.EnableTestLogin {
				r.Post("/test-login", authHandler.TestLogin)
			}
		})

		// --- Cookieで認証するルート（CSRF検証） ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.With(session).Get("/me", authHandler.Me)
			r.With(loginLimit).Post("/refresh", authHandler.Refresh)
			r.With(middleware.NewOptionalSessionAuthenticator(deps.AuthenticateSession)).
				Post("/logout", authHandler.Logout)

			// APIキー管理（Cookie or Bearer）
			r.Route("/api-key", func(r chi.Router) {
				r.Use(session)
				r.Post("/", apiKeyHandler.Create)
				r.Get("/", apiKeyHandler.List)
				r.Delete("/{id}", apiKeyHandler.Revoke)
				r.Get("/{id}/permissions", apiKeyHandler.Permissions)
			})
		})

		// --- パスワードログイン系（ベアラートークンのみ） ---
		r.Get("/user/check", userHandler.Check)
		r.Group(func(r chi.Router) {
			r.Use(bearer)

			r.Get("/user", userHandler.Get)
			r.Post("/user/logout", userHandler.Logout)
			r.Post("/addon/revoke", addonHandler.Revoke)
		})
	})

	// --- 権限で保護するルート ---
	r.Group(func(r chi.Router) {
		r.Use(session)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/permissions/me", permHandler.Mine)

		gate := middleware.NewPermissionGate(deps.GrantChecker, deps.PermissionRecorder)
		mountResourceRoutes(r, gate, deps.ResourceHandlers, map[string]http.Handler{
			routeKey(http.MethodPost, ImpersonatePattern): http.HandlerFunc(adminHandler.Impersonate),
		})
	})

	return r
}
