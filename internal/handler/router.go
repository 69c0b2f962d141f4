package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/blogman/internal/metrics"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/render"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 投稿・タグ・プロフィール
	PostService    PostServiceInterface
	TagService     TagServiceInterface
	ProfileService ProfileServiceInterface
	Renderer       render.Renderer

	// 画像
	AssetStore AssetStorer
	UploadDir  string

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → Logging → CORS
//	  /api:            CSRF
//	  認証必須ルート:   Session → RateLimit(General)
//	  画像アップロード: RateLimit(Upload)
//
// 認証ルート（/auth/*）、/health、/metrics、/uploads/* はCSRF検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	postHandler := NewPostHandler(deps.PostService, deps.Renderer)
	tagHandler := NewTagHandler(deps.TagService)
	profileHandler := NewProfileHandler(deps.ProfileService)
	uploadHandler := NewUploadHandler(deps.AssetStore, deps.Metrics)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", NewUploadFileServer(deps.UploadDir)))
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// --- 認証不要のルート ---
		r.Get("/posts", postHandler.ListPublished)
		r.Get("/public/posts/{id}", postHandler.GetPublicPost)
		r.Get("/tags", tagHandler.Search)
		r.Get("/tags/all", tagHandler.ListAll)
		r.Get("/profiles/{userID}", profileHandler.Get)

		// セッションがあれば所有者として扱うルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))

			r.Get("/posts/{id}", postHandler.GetPost)
			r.Get("/posts/{id}/tags", postHandler.ListPostTags)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// 自分の投稿
			r.Route("/me/posts", func(r chi.Router) {
				r.Get("/", postHandler.ListMine)
				r.Post("/", postHandler.CreatePost)
				r.Get("/count", postHandler.CountMine)
				r.Patch("/{id}", postHandler.UpdatePost)
				r.Delete("/{id}", postHandler.DeletePost)
			})

			// プロフィール
			r.Put("/me/profile", profileHandler.Upsert)
			r.Post("/me/profile/ensure", profileHandler.Ensure)

			// 画像アップロード（アップロード専用レート制限を追加）
			r.With(deps.RateLimiter.UploadMiddleware()).Post("/me/uploads", uploadHandler.Upload)

			// タグ管理
			r.Post("/tags", tagHandler.Create)
			r.Post("/tags/get-or-create", tagHandler.GetOrCreate)
			r.Delete("/tags/{id}", tagHandler.Delete)

			// ユーザー管理
			r.Delete("/users/me", userHandler.Withdraw)
		})
	})

	return r
}
