// Package app はアプリケーションの初期化と起動モードの制御を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/campusfinder/internal/ai"
	"github.com/hitoshi/campusfinder/internal/auth"
	"github.com/hitoshi/campusfinder/internal/config"
	"github.com/hitoshi/campusfinder/internal/database"
	"github.com/hitoshi/campusfinder/internal/handler"
	"github.com/hitoshi/campusfinder/internal/item"
	"github.com/hitoshi/campusfinder/internal/logger"
	"github.com/hitoshi/campusfinder/internal/matching"
	"github.com/hitoshi/campusfinder/internal/message"
	"github.com/hitoshi/campusfinder/internal/metrics"
	"github.com/hitoshi/campusfinder/internal/middleware"
	"github.com/hitoshi/campusfinder/internal/notification"
	"github.com/hitoshi/campusfinder/internal/notify"
	"github.com/hitoshi/campusfinder/internal/repository"
	"github.com/hitoshi/campusfinder/internal/security"
	"github.com/hitoshi/campusfinder/internal/worker/cleanup"
	embedpkg "github.com/hitoshi/campusfinder/internal/worker/embed"
	matchpkg "github.com/hitoshi/campusfinder/internal/worker/match"
)

// matchMinOverlapRatio は説明文の単語重複によるフォールバックマッチの閾値。
const matchMinOverlapRatio = 0.20

// Init はアプリケーションの初期化を行う。
// .envファイル（存在する場合）と環境変数からConfigを読み込み、
// JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envファイルの読み込み（ローカル開発用。存在しなくてもエラーにしない）
	_ = godotenv.Load()

	// 3. 環境変数から設定を読み込む
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
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newEmbeddingClient は推論クライアントを組み立てる。
// GEMINI_API_KEYが未設定の場合はnilを返し、呼び出し側で埋め込み生成を無効化する。
func newEmbeddingClient(cfg *config.Config, fetcher security.ImageFetcher) *ai.Client {
	if cfg.GeminiAPIKey == "" {
		return nil
	}

	pacer := ai.NewRatePacer(cfg.EmbedRatePerMin, cfg.EmbedCooldown)
	return ai.NewClient(
		&http.Client{Timeout: cfg.InferenceTimeout},
		fetcher,
		pacer,
		slog.Default(),
		ai.ClientConfig{
			APIKey:         cfg.GeminiAPIKey,
			BaseURL:        cfg.GeminiBaseURL,
			VisionModel:    cfg.VisionModel,
			EmbeddingModel: cfg.EmbeddingModel,
			MaxRetries:     cfg.EmbedMaxRetries,
			BackoffBase:    cfg.EmbedBackoffBase,
			BackoffFactor:  cfg.EmbedBackoffFactor,
		},
	)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	conversationRepo := repository.NewPostgresConversationRepo(db)

	// 3. セキュリティサービスの初期化
	imageGuard := security.NewImageGuard(cfg.InferenceTimeout, cfg.ImageMaxBytes)
	sanitizer := security.NewTextSanitizer()

	// 4. 通知の配信基盤（SSEハブ + 永続化シンク）
	hub := notify.NewHub()
	sink := notify.NewSink(notificationRepo, hub, slog.Default())

	// 5. 推論クライアント（APIキー未設定時は同期埋め込みを無効化）
	var embedder ai.EmbeddingGenerator
	if client := newEmbeddingClient(cfg, imageGuard); client != nil {
		embedder = client
	} else {
		slog.Warn("GEMINI_API_KEY is not set; synchronous embedding is disabled")
	}

	// 6. ドメインサービスの初期化
	authService := auth.NewService(userRepo, auth.ServiceConfig{
		JWTSecret:   cfg.JWTSecret,
		TokenExpiry: cfg.TokenExpiry,
	})
	itemService := item.NewService(itemRepo, embedder, imageGuard, sanitizer, slog.Default())
	notificationService := notification.NewService(notificationRepo, slog.Default())
	messageService := message.NewService(conversationRepo, userRepo, sink, sanitizer, slog.Default())

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralPerMin:   cfg.RateLimitGeneral,
		ReportPerMin:    cfg.RateLimitReport,
		CleanupInterval: 5 * time.Minute,
	}, slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		JWTSecret:         cfg.JWTSecret,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AuthService:         authService,
		ItemService:         itemService,
		NotificationService: notificationService,
		NotificationHub:     hub,
		MessageService:      messageService,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSEストリームのためWriteTimeoutは設定しない
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、埋め込みスケジューラ・マッチスケジューラ・
// 通知クリーンアップジョブを起動する。
// メトリクスはMETRICS_PORT上の/metricsで公開される。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	itemRepo := repository.NewPostgresItemRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 3. メトリクスコレクターの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 推論クライアントと埋め込みスケジューラの初期化
	imageGuard := security.NewImageGuard(cfg.InferenceTimeout, cfg.ImageMaxBytes)

	var embedScheduler *embedpkg.Scheduler
	if client := newEmbeddingClient(cfg, imageGuard); client != nil {
		embedScheduler = embedpkg.NewScheduler(
			itemRepo, client.WithMetrics(collector), slog.Default(),
			embedpkg.SchedulerConfig{
				Interval:      cfg.EmbedInterval,
				BatchSize:     cfg.EmbedBatchSize,
				MinItemAge:    cfg.EmbedMinItemAge,
				MaxRetries:    cfg.EmbedMaxRetries,
				BackoffBase:   cfg.EmbedBackoffBase,
				BackoffFactor: cfg.EmbedBackoffFactor,
			},
		).WithMetrics(collector)
	} else {
		slog.Warn("GEMINI_API_KEY is not set; embedding scheduler is disabled")
	}

	// 5. マッチスケジューラの初期化
	// ワーカープロセスにはSSE購読者が存在しないため、
	// ハブへのプッシュは実質的に永続化のみとなる。
	hub := notify.NewHub()
	sink := notify.NewSink(notificationRepo, hub, slog.Default())
	engine := matching.NewEngine(cfg.MatchThreshold, matchMinOverlapRatio)
	matchScheduler := matchpkg.NewScheduler(
		itemRepo, notificationRepo, sink, engine, slog.Default(),
		matchpkg.SchedulerConfig{
			Interval:     cfg.MatchInterval,
			Window:       cfg.MatchWindow,
			RadiusMeters: cfg.MatchRadiusMeters,
		},
	).WithMetrics(collector)

	// 6. 通知クリーンアップジョブの初期化
	retentionJob := cleanup.NewRetentionJob(db, slog.Default())
	retentionJob.RetentionDays = cfg.NotificationRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 7. メトリクスサーバーの起動
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metrics.SetupMetricsRoute(registry),
	}
	go func() {
		slog.Info("metrics server starting",
			slog.String("addr", metricsServer.Addr),
		)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("embed_interval", cfg.EmbedInterval),
		slog.Duration("match_interval", cfg.MatchInterval),
	)

	// 通知クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := retentionJob.Run(ctx); err != nil {
			slog.Error("notification cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := retentionJob.Run(ctx); err != nil {
					slog.Error("notification cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// マッチスケジューラをバックグラウンドで起動
	go matchScheduler.Start(ctx)

	// 埋め込みスケジューラをメインgoroutineで実行（ブロッキング）
	if embedScheduler != nil {
		embedScheduler.Start(ctx)
	} else {
		<-ctx.Done()
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
