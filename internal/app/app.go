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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/simdojo/internal/access"
	"github.com/hitoshi/simdojo/internal/admission"
	"github.com/hitoshi/simdojo/internal/attempt"
	"github.com/hitoshi/simdojo/internal/config"
	"github.com/hitoshi/simdojo/internal/database"
	"github.com/hitoshi/simdojo/internal/directory"
	"github.com/hitoshi/simdojo/internal/entitlement"
	"github.com/hitoshi/simdojo/internal/handler"
	"github.com/hitoshi/simdojo/internal/logger"
	"github.com/hitoshi/simdojo/internal/metrics"
	"github.com/hitoshi/simdojo/internal/middleware"
	"github.com/hitoshi/simdojo/internal/model"
	"github.com/hitoshi/simdojo/internal/quota"
	"github.com/hitoshi/simdojo/internal/repository"
	"github.com/hitoshi/simdojo/internal/scoring"
	"github.com/hitoshi/simdojo/internal/security"
	"github.com/hitoshi/simdojo/internal/worker/deadline"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

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
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
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
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	planRepo := repository.NewPostgresPlanRepo(db)
	simRepo := repository.NewPostgresSimulationRepo(db)
	attemptRepo := repository.NewPostgresAttemptRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	oauthProvider := directory.NewGoogleOAuthProvider(directory.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	directoryService := directory.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo, planRepo,
		directory.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	resolver := entitlement.NewResolver(profileRepo, planRepo)
	accountant := quota.NewAccountant(attemptRepo, collector)

	gate := admission.NewGate(resolver, attemptRepo, simRepo, collector, admission.Config{
		AllowParallelAttempts: cfg.AllowParallelAttempts,
	})

	// 5. スコアリングクライアントの初期化（エグレスガード付き）
	egressGuard := security.NewEgressGuard()
	if cfg.ScoringURL != "" {
		if err := egressGuard.ValidateEndpoint(cfg.ScoringURL); err != nil {
			return fmt.Errorf("invalid scoring endpoint: %w", err)
		}
	}
	scoringClient := scoring.NewClient(
		egressGuard.NewSafeClient(cfg.ScoringTimeout),
		slog.Default(), cfg.ScoringURL, cfg.ScoringTimeout,
	)

	sanitizer := security.NewAnswerSanitizer()
	attemptService := attempt.NewService(attemptRepo, simRepo, sanitizer, scoringClient, collector)

	// 6. 機能ゲート判定器の構築
	certGate := access.NewEvaluator(resolver, model.FeatureCertificates)
	rankingGate := access.NewEvaluator(resolver, model.FeatureRanking)

	// 7. ルーターの構築
	// configのレート値はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.AdmissionRate = rate.Limit(float64(cfg.RateLimitAdmission) / 60.0)
	rateLimiterCfg.AdmissionBurst = cfg.RateLimitAdmission

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: directoryService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		SimulationFinder: simRepo,

		AdmissionGate:  gate,
		AttemptService: attemptService,

		EntitlementResolver: resolver,
		QuotaCounter:        accountant,

		CertificatesGate: certGate,
		RankingGate:      rankingGate,

		ProfileUpdater:       profileRepo,
		PlanFinder:           planRepo,
		BillingWebhookSecret: cfg.BillingWebhookSecret,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
// DB接続を開き、期限スイープジョブを起動する。
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

	// 2. 期限スイープジョブの初期化
	attemptRepo := repository.NewPostgresAttemptRepo(db)
	collector := metrics.NewCollector(prometheus.NewRegistry())

	sweepJob := deadline.NewSweepJob(
		attemptRepo, slog.Default(), collector,
		cfg.TimeoutGrace, cfg.AbandonAfter,
	)

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

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.DeadlineSweepInterval),
		slog.Duration("timeout_grace", cfg.TimeoutGrace),
		slog.Duration("abandon_after", cfg.AbandonAfter),
	)

	// 期限スイープをメインgoroutineで実行（ブロッキング）
	sweepJob.RunLoop(ctx, cfg.DeadlineSweepInterval)

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
