package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/lifetracker/internal/auth"
	"github.com/hitoshi/lifetracker/internal/config"
	"github.com/hitoshi/lifetracker/internal/database"
	"github.com/hitoshi/lifetracker/internal/handler"
	"github.com/hitoshi/lifetracker/internal/logger"
	"github.com/hitoshi/lifetracker/internal/mail"
	"github.com/hitoshi/lifetracker/internal/metrics"
	"github.com/hitoshi/lifetracker/internal/middleware"
	"github.com/hitoshi/lifetracker/internal/repository"
	"github.com/hitoshi/lifetracker/internal/security"
	"github.com/hitoshi/lifetracker/internal/track"
	"github.com/hitoshi/lifetracker/internal/user"
	"github.com/hitoshi/lifetracker/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateAction(args))
	default:
		return runServe(ctx, cfg)
	}
}

// stores は選択したバックエンドのリポジトリ群。
type stores struct {
	users    repository.UserRepository
	tracks   repository.TrackRepository
	sessions repository.SessionRepository
	pinger   handler.Pinger
	close    func() error
}

// openStores はSTORE_BACKENDに応じてリポジトリを初期化する。
// PostgreSQLは固定間隔のリトライで接続を待ち、上限に達した場合はエラーを返す。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		slog.Warn("using in-memory store; data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{
			users:    mem.Users(),
			tracks:   mem.Tracks(),
			sessions: mem.Sessions(),
			pinger:   mem,
			close:    func() error { return nil },
		}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectMaxAttempts, cfg.DBConnectRetryInterval)
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established")

	return &stores{
		users:    repository.NewPostgresUserRepo(db),
		tracks:   repository.NewPostgresTrackRepo(db),
		sessions: repository.NewPostgresSessionRepo(db),
		pinger:   db,
		close:    db.Close,
	}, nil
}

// newTrackPolicy はTRACK_NAME_POLICYに応じたトラック検証ポリシーを返す。
func newTrackPolicy(cfg *config.Config, markup security.MarkupDetector) track.Policy {
	if cfg.TrackNamePolicy == config.TrackPolicyRegistry {
		return track.NewRegistryPolicy(track.BuiltinTrackTypes())
	}
	return track.NewFreeFormPolicy(markup)
}

// rateLimiterConfig は設定値（req/min）からティアごとのレート制限を組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.Tiers[middleware.TierHigh] = middleware.PerMinute(cfg.RateLimitHigh)
	rl.Tiers[middleware.TierMedium] = middleware.PerMinute(cfg.RateLimitMedium)
	rl.Tiers[middleware.TierLow] = middleware.PerMinute(cfg.RateLimitLow)
	return rl
}

// newMetricsRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, metrics.NewCollector(registry)
}

// buildHandler は全依存関係をワイヤリングしたHTTPハンドラーを返す。
// 返り値の関数でバックグラウンド処理を停止する。
func buildHandler(cfg *config.Config, st *stores, registry *prometheus.Registry, collector metrics.MetricsCollector) (http.Handler, func()) {
	markup := security.NewMarkupGuard()

	mailer := mail.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)

	userService := user.NewService(st.users, user.NewValidator(markup), mailer, collector, user.Options{
		BcryptCost: cfg.BcryptCost,
		ResetURL:   cfg.PasswordResetURL,
		ResetTTL:   cfg.PasswordResetTTL,
	})
	authService := auth.NewService(userService, st.users, st.sessions, auth.ServiceConfig{
		SessionMaxAge:           cfg.SessionMaxAge,
		SessionPersistentMaxAge: cfg.SessionPersistentMaxAge,
	})
	trackService := track.NewService(st.tracks, st.users, newTrackPolicy(cfg, markup), collector)

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg), collector)

	deps := &handler.RouterDeps{
		SessionCookies: middleware.NewSessionCookies(middleware.SessionCookieConfig{
			Secret: cfg.SessionSecret,
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.SessionMaxAge,

			PersistentMaxAge: cfg.SessionPersistentMaxAge,
		}),
		SessionFinder:      st.sessions,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		Logger:             slog.Default(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		Pinger:    st.pinger,
		StartedAt: time.Now(),

		AuthService:  authService,
		UserService:  userService,
		TrackService: trackService,
	}

	return handler.NewRouter(deps), rateLimiter.Stop
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.close()

	registry, collector := newMetricsRegistry()
	router, stopBackground := buildHandler(cfg, st, registry, collector)
	defer stopBackground()

	// インメモリストアは別プロセスのワーカーから参照できないため同一プロセスで掃除する
	if cfg.StoreBackend == config.StoreBackendMemory {
		job := cleanup.NewCleanupJob(st.sessions, st.users, collector, slog.Default(), cfg.PasswordResetTTL)
		go job.Start(ctx, cfg.CleanupInterval)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
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

// runWorker はワーカーモードで起動する。
// 期限切れセッションと古いリセットコードをCLEANUP_INTERVAL間隔で削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreBackend == config.StoreBackendMemory {
		return errors.New("worker requires STORE_BACKEND=postgres; the in-memory store is cleaned by the server process")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.close()

	_, collector := newMetricsRegistry()
	job := cleanup.NewCleanupJob(st.sessions, st.users, collector, slog.Default(), cfg.PasswordResetTTL)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// コンテキストがキャンセルされるまでブロックする
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upは未適用分をすべて適用し、downは直近の1つを取り消し、versionは現在のバージョンをログに出す。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	if cfg.StoreBackend == config.StoreBackendMemory {
		slog.Info("in-memory store needs no migrations")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("current schema version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /service/readyz にHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/service/readyz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
