package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/simdojo/internal/middleware"
)

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	h := NewAuthHandler(service, config)

	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)

		// セッション管理
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})

	return r
}

// HealthChecker はヘルスチェック用のDB疎通確認インターフェース。
// *sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 演習カタログ
	SimulationFinder SimulationFinderInterface

	// 受験（入場判定 + ライフサイクル）
	AdmissionGate  AdmissionInterface
	AttemptService AttemptServiceInterface

	// プランとクォータ
	EntitlementResolver EntitlementResolverInterface
	QuotaCounter        QuotaCounterInterface

	// 機能ゲート（certificates / ranking）
	CertificatesGate middleware.GateEvaluator
	RankingGate      middleware.GateEvaluator

	// 課金Webhook
	ProfileUpdater       ProfileUpdaterInterface
	PlanFinder           PlanFinderInterface
	BillingWebhookSecret string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CORS → SecurityHeaders → Logging → Session → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）と課金Webhook（/webhooks/*）はセッションチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	simHandler := NewSimulationHandler(deps.SimulationFinder)
	attemptHandler := NewAttemptHandler(deps.AdmissionGate, deps.AttemptService)
	entHandler := NewEntitlementHandler(deps.EntitlementResolver, deps.QuotaCounter)
	gatedHandler := NewGatedHandler(deps.AttemptService)
	billingHandler := NewBillingWebhookHandler(deps.ProfileUpdater, deps.PlanFinder, deps.BillingWebhookSecret)

	// --- 認証不要のルート ---

	// ヘルスチェック
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheusメトリクス
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// 課金Webhook（共有シークレットで認証）
	r.Post("/webhooks/billing", billingHandler.HandlePlanChange)

	// CSRFトークン取得（認証不要、フロントエンドがログイン前に取得する）
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 演習カタログ
		r.Route("/api/simulations", func(r chi.Router) {
			r.Get("/", simHandler.ListSimulations)
			r.Get("/{id}", simHandler.GetSimulation)
		})

		// 受験管理
		r.Route("/api/attempts", func(r chi.Router) {
			// POST /api/attempts - 受験開始（入場判定専用レート制限を追加）
			r.With(deps.RateLimiter.AdmissionMiddleware()).Post("/", attemptHandler.StartAttempt)
			r.Get("/", attemptHandler.ListAttempts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", attemptHandler.GetAttempt)
				r.Post("/answers", attemptHandler.SaveAnswers)
				r.Post("/submit", attemptHandler.Submit)
				r.Post("/abandon", attemptHandler.Abandon)
			})
		})

		// プランとクォータ残量
		r.Get("/api/me/entitlement", entHandler.GetEntitlement)

		// 機能ゲート配下のルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewFeatureGateMiddleware(deps.CertificatesGate))
			r.Get("/api/certificates", gatedHandler.ListCertificates)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewFeatureGateMiddleware(deps.RankingGate))
			r.Get("/api/ranking", gatedHandler.GetRanking)
		})
	})

	return r
}
