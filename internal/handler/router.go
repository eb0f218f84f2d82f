package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/lifetracker/internal/metrics"
	"github.com/hitoshi/lifetracker/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionCookies     *middleware.SessionCookies
	SessionFinder      middleware.SessionFinder
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger

	// メトリクス
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 死活監視
	Pinger    Pinger
	StartedAt time.Time

	// サービス
	AuthService  AuthServiceInterface
	UserService  UserServiceInterface
	TrackService TrackServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → Metrics → CORS → SessionLoader → Logging
//
// レート制限はルートグループごとにティアを切り替える。
// /v1/tracks はWebhookを除きセッション必須。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewSessionLoader(deps.SessionCookies, deps.SessionFinder))
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCookies)
	userHandler := NewUserHandler(deps.UserService)
	trackHandler := NewTrackHandler(deps.TrackService)
	serviceHandler := NewServiceHandler(deps.Pinger, deps.StartedAt)

	// ユーザー管理（高感度ティア）
	r.Route("/v1/users", func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware(middleware.TierHigh))

		r.Post("/", userHandler.CreateUser)
		r.Post("/request-password-reset-email", userHandler.RequestPasswordResetEmail)
		r.Patch("/reset-password", userHandler.ResetPassword)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", userHandler.DeleteUser)
			r.Get("/accessToken", userHandler.GetAccessToken)
			r.Post("/accessToken", userHandler.RegenerateAccessToken)
		})
	})

	// 認証（高感度ティア）
	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware(middleware.TierHigh))

		r.Post("/login-local", authHandler.LoginLocal)
		r.Post("/logout", authHandler.Logout)
		r.Get("/is-authenticated", authHandler.IsAuthenticated)
		r.Get("/me", authHandler.CurrentUser)
	})

	// トラック（中感度ティア）
	r.Route("/v1/tracks", func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware(middleware.TierMedium))

		// Webhookはセッションではなくアクセストークンで認証する
		r.Post("/webhook", trackHandler.WebhookCreateTrack)
		r.Delete("/webhook", trackHandler.WebhookDeleteLastTrack)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)

			r.Post("/", trackHandler.CreateTrack)
			r.Get("/", trackHandler.ListTracks)
			r.Post("/import", trackHandler.ImportTracks)
			r.Delete("/last", trackHandler.DeleteLastTrack)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", trackHandler.GetTrack)
				r.Patch("/", trackHandler.UpdateTrack)
				r.Delete("/", trackHandler.DeleteTrack)
			})
		})
	})

	// 死活監視（低感度ティア）
	r.Route("/service", func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware(middleware.TierLow))

		r.Get("/livez", serviceHandler.Livez)
		r.Get("/readyz", serviceHandler.Readyz)
		r.Get("/healthcheck", serviceHandler.Healthcheck)
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	return r
}
