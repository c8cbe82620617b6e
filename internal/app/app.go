// Package app はコマンドの解析と依存関係のワイヤリングを行い、各モードを起動する。
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

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/postfeed/internal/assets"
	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/config"
	"github.com/hitoshi/postfeed/internal/database"
	"github.com/hitoshi/postfeed/internal/handler"
	"github.com/hitoshi/postfeed/internal/logger"
	"github.com/hitoshi/postfeed/internal/metrics"
	"github.com/hitoshi/postfeed/internal/middleware"
	"github.com/hitoshi/postfeed/internal/post"
	"github.com/hitoshi/postfeed/internal/repository"
	"github.com/hitoshi/postfeed/internal/user"
	"github.com/hitoshi/postfeed/internal/worker/assetgc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// dotEnvPath は起動時に読み込む.envファイルのパス。
const dotEnvPath = ".env"

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// ログ出力先はwを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runCommand は指定されたモードで起動する。
func runCommand(ctx context.Context, w io.Writer, cmd Command) error {
	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		if err := config.LoadDotEnv(dotEnvPath); err != nil {
			return err
		}
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(ctx, fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("asset_store", cfg.AssetStore),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// dbHandle はDB接続とその方言の組。
type dbHandle struct {
	*sql.DB
	dialect database.Dialect
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*dbHandle, error) {
	db, dialect, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &dbHandle{DB: db, dialect: dialect}, nil
}

// newRegistry はGoランタイムとプロセスのメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行い、画像削除キューを排出する。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// SQLiteは開発・検証用のため起動時にスキーマを用意する
	if db.dialect == database.DialectSQLite {
		if err := database.RunMigrations(db.DB, db.dialect); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	userRepo := repository.NewSQLUserRepo(db.DB)
	postRepo := repository.NewSQLPostRepo(db.DB)

	// 4. アセットストアと削除キュー
	store, err := assets.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize asset store: %w", err)
	}

	// 削除キューはリクエストのキャンセルと独立させ、シャットダウン時に排出する
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	defer cancelQueue()
	deleteQueue := assetgc.NewQueue(store, collector, slog.Default(), assetgc.QueueOptions{
		Workers:     cfg.AssetDeleteWorkers,
		MaxAttempts: cfg.AssetDeleteMaxAttempts,
		Backoff:     cfg.AssetDeleteBackoff,
	})
	deleteQueue.Start(queueCtx)

	bridge := assets.NewBridge(store, postRepo, deleteQueue, collector, slog.Default())
	bridge.GracePeriod = cfg.OrphanGracePeriod

	// 5. ドメインサービスの初期化
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	authService := auth.NewService(userRepo, tokens, auth.NewPasswordHasher(cfg.BcryptCost))
	postService := post.NewService(postRepo, bridge)
	userService := user.NewService(userRepo)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitUpload),
		collector,
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Verifier:          tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AuthService:     authService,
		PostService:     postService,
		UserService:     userService,
		OperationMetric: collector,

		AssetStorer:   bridge,
		AssetServer:   assets.ServeHandler(store, slog.Default()),
		UploadMaxSize: cfg.UploadMaxSize,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := serveUntilDone(ctx, server); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := deleteQueue.Shutdown(shutdownCtx); err != nil {
		slog.Warn("画像削除キューの排出が時間内に終わりませんでした", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// serveUntilDone はctxがキャンセルされるまでserverを動かし、その後シャットダウンする。
// 待ち受けに失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// runWorker はワーカーモードで起動する。
// どの投稿からも参照されない画像を定期的に削除する。
// /health と /metrics だけを公開する管理用サーバーも併せて起動する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクスとアセットストア
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	store, err := assets.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize asset store: %w", err)
	}

	// 3. スイーパーの初期化
	sweeper := assetgc.NewOrphanSweeper(store, repository.NewSQLPostRepo(db.DB), collector, slog.Default())
	sweeper.GracePeriod = cfg.OrphanGracePeriod

	// 4. 管理用サーバー
	mux := chi.NewRouter()
	mux.Get("/health", handler.NewHealthHandler(db))
	mux.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	admin := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 管理用サーバーが起動できない場合はワーカーも停止する
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminErr := make(chan error, 1)
	go func() {
		err := serveUntilDone(ctx, admin)
		if err != nil {
			cancel()
		}
		adminErr <- err
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.OrphanSweepInterval),
		slog.Duration("grace_period", cfg.OrphanGracePeriod),
	)

	// スイーパーをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.OrphanSweepInterval)

	if err := <-adminErr; err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db.DB, db.dialect); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, healthURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}
