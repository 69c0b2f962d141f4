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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/blogman/internal/asset"
	"github.com/hitoshi/blogman/internal/auth"
	"github.com/hitoshi/blogman/internal/config"
	"github.com/hitoshi/blogman/internal/database"
	"github.com/hitoshi/blogman/internal/handler"
	"github.com/hitoshi/blogman/internal/logger"
	"github.com/hitoshi/blogman/internal/metrics"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/post"
	"github.com/hitoshi/blogman/internal/posttag"
	"github.com/hitoshi/blogman/internal/profile"
	"github.com/hitoshi/blogman/internal/render"
	"github.com/hitoshi/blogman/internal/repository"
	"github.com/hitoshi/blogman/internal/tag"
	"github.com/hitoshi/blogman/internal/user"
	"github.com/hitoshi/blogman/internal/worker/cleanup"
)

// shutdownTimeout はシグナル受信後に処理中のリクエストを待つ上限。
const shutdownTimeout = 30 * time.Second

// Init はJSONロガーを設定してから環境変数の設定を読み込む。
// ログはwに出力する（nilならos.Stdout）。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Run はargs（os.Args[1:]）のサブコマンドを実行する。
// helpとhealthcheckは設定を読まずに動く。
func Run(w io.Writer, args []string) error {
	switch cmd := ParseCommand(args); cmd {
	case CommandHelp:
		if w == nil {
			w = os.Stdout
		}
		_, err := io.WriteString(w, Usage())
		return err
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	default:
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		slog.Info("starting", slog.String("command", string(cmd)))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		switch cmd {
		case CommandWorker:
			return runWorker(ctx, cfg)
		case CommandMigrate:
			return runMigrate(cfg)
		default:
			return runServe(ctx, cfg)
		}
	}
}

// repositories はPostgreSQL実装のリポジトリ一式。
type repositories struct {
	tx       *repository.PostgresTransactor
	users    *repository.PostgresUserRepo
	idents   *repository.PostgresIdentityRepo
	sessions *repository.PostgresSessionRepo
	posts    *repository.PostgresPostRepo
	tags     *repository.PostgresTagRepo
	postTags *repository.PostgresPostTagRepo
	profiles *repository.PostgresProfileRepo
}

func newRepositories(db *sql.DB) *repositories {
	return &repositories{
		tx:       repository.NewPostgresTransactor(db),
		users:    repository.NewPostgresUserRepo(db),
		idents:   repository.NewPostgresIdentityRepo(db),
		sessions: repository.NewPostgresSessionRepo(db),
		posts:    repository.NewPostgresPostRepo(db),
		tags:     repository.NewPostgresTagRepo(db),
		postTags: repository.NewPostgresPostTagRepo(db),
		profiles: repository.NewPostgresProfileRepo(db),
	}
}

// services はドメインサービス一式。serveとworkerで共有する。
type services struct {
	auth    *auth.Service
	posts   *post.Service
	tags    *tag.Service
	profile *profile.Service
	users   *user.Service
}

func newServices(cfg *config.Config, repos *repositories, assets *asset.LocalStore, recorder metrics.MetricsCollector) *services {
	profileSvc := profile.NewService(repos.profiles)
	tagSvc := tag.NewService(repos.tags, cfg.TagSearchLimit, recorder)
	postTagSvc := posttag.NewService(repos.tx, repos.postTags, tagSvc)
	postSvc := post.NewService(repos.tx, repos.posts, postTagSvc, assets, recorder, cfg.PostListLimit)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authSvc := auth.NewService(
		oauthProvider, repos.users, repos.idents, repos.sessions, profileSvc,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	return &services{
		auth:    authSvc,
		posts:   postSvc,
		tags:    tagSvc,
		profile: profileSvc,
		users:   user.NewService(repos.tx, repos.users, repos.sessions, postSvc, profileSvc),
	}
}

// runServe はAPIサーバーを起動し、ctxがキャンセルされるまで待つ。
// キャンセル後は処理中のリクエストをshutdownTimeoutまで待って終了する。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connected", slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	assets, err := asset.NewLocalStore(cfg.UploadDir, cfg.AssetBaseURL, cfg.ImageMaxWidth, cfg.UploadMaxBytes)
	if err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}

	repos := newRepositories(db)
	svcs := newServices(cfg, repos, assets, collector)

	limiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitUpload))
	defer limiter.Stop()

	authConfig := handler.AuthHandlerConfig{
		BaseURL:       cfg.BaseURL,
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		SessionMaxAge: cfg.SessionMaxAge,
	}
	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     repos.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain},
		RateLimiter:       limiter,
		Logger:            slog.Default(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),
		HealthChecker:  db,

		AuthService: svcs.auth,
		AuthConfig:  authConfig,

		PostService:    svcs.posts,
		TagService:     svcs.tags,
		ProfileService: svcs.profile,
		Renderer:       render.NewMarkdownRenderer(),

		AssetStore: assets,
		UploadDir:  assets.Dir(),

		UserService: svcs.users,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("API server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped")
	return nil
}

// runWorker は期限切れセッションと未参照画像の掃除をctxがキャンセルされるまで繰り返す。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	assets, err := asset.NewLocalStore(cfg.UploadDir, cfg.AssetBaseURL, cfg.ImageMaxWidth, cfg.UploadMaxBytes)
	if err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}
	repos := newRepositories(db)
	svcs := newServices(cfg, repos, assets, nil)

	job := cleanup.NewCleanupJob(svcs.auth, repos.posts, assets, slog.Default(), nil)
	job.OrphanGrace = cfg.OrphanAssetGrace

	slog.Info("worker started",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("orphan_asset_grace", cfg.OrphanAssetGrace),
	)
	job.Start(ctx, cfg.CleanupInterval)
	slog.Info("worker stopped")
	return nil
}

// runMigrate は未適用のマイグレーションをすべて適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("applying migrations", slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))

	state, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("migrations applied", slog.Uint64("version", uint64(state.Version)))
	return nil
}

// runHealthcheck はローカルの/healthを叩く。distrolessイメージのHEALTHCHECKから使う。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はログ用にパスワードを伏せたURLを返す。解釈できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
