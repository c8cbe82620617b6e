// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/postfeed/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          middleware.Verifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 操作API
	AuthService     AuthServiceInterface
	PostService     PostServiceInterface
	UserService     UserServiceInterface
	OperationMetric OperationRecorder

	// 画像
	AssetStorer   AssetStorer
	AssetServer   http.Handler
	UploadMaxSize int64

	// 運用
	HealthChecker  Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Authentication → Logging → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
// PUT /post-image にはアップロード用のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	// CORSは認証より前に置き、プリフライトを匿名で通す
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewAuthenticationMiddleware(deps.Verifier))
	r.Use(middleware.NewLoggingMiddleware(logger))

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		ops := NewOperationHandler(deps.AuthService, deps.PostService, deps.UserService, deps.OperationMetric)
		r.Method(http.MethodPost, "/api/operations", ops)

		upload := NewUploadHandler(deps.AssetStorer, deps.UploadMaxSize)
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.UploadMiddleware()).Method(http.MethodPut, "/post-image", upload)
		} else {
			r.Method(http.MethodPut, "/post-image", upload)
		}

		if deps.AssetServer != nil {
			r.Method(http.MethodGet, "/images/*", deps.AssetServer)
			r.Method(http.MethodHead, "/images/*", deps.AssetServer)
		}
	})

	return r
}
