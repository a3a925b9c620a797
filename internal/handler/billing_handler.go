package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/simdojo/internal/middleware"
	"github.com/hitoshi/simdojo/internal/model"
)

const webhookSecretHeader = "X-Webhook-Secret"

// ProfileUpdaterInterface は課金WebhookのプランID書き込みインターフェース。
// repository.ProfileRepositoryが実装する。
type ProfileUpdaterInterface interface {
	// UpdatePlan はプロフィールのプランIDと有効期限を更新する。
	UpdatePlan(ctx context.Context, userID, planID string, planExpiresAt *time.Time) error
}

// PlanFinderInterface はプラン存在検証の読み取りインターフェース。
// repository.PlanRepositoryが実装する。
type PlanFinderInterface interface {
	// FindByID は指定IDのプランを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Plan, error)
}

// BillingWebhookHandler は外部課金プロセスからのプラン変更通知を受けるハンドラー。
// 本コアはプラン行を書き込まない。受け取ったplan_idの存在を検証した上で
// プロフィール行のplan_idを付け替えるだけの書き込み経路。
type BillingWebhookHandler struct {
	profiles ProfileUpdaterInterface
	plans    PlanFinderInterface
	secret   string
}

// NewBillingWebhookHandler はBillingWebhookHandlerを生成する。
// secretが空の場合、Webhookは無効化され全リクエストを拒否する。
func NewBillingWebhookHandler(profiles ProfileUpdaterInterface, plans PlanFinderInterface, secret string) *BillingWebhookHandler {
	return &BillingWebhookHandler{
		profiles: profiles,
		plans:    plans,
		secret:   secret,
	}
}

// billingWebhookRequest は課金Webhookリクエストのボディ。
type billingWebhookRequest struct {
	UserID        string     `json:"user_id"`
	PlanID        string     `json:"plan_id"`
	PlanExpiresAt *time.Time `json:"plan_expires_at"`
}

// HandlePlanChange はプラン変更通知を処理する。
// POST /webhooks/billing
func (h *BillingWebhookHandler) HandlePlanChange(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		slog.Warn("billing webhook rejected: invalid secret")
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     "WEBHOOK_UNAUTHORIZED",
			Message:  "Webhookの認証に失敗しました。",
			Category: "auth",
			Action:   "共有シークレットを確認してください。",
		})
		return
	}

	var req billingWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.UserID == "" || req.PlanID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "user_idとplan_idは必須です。",
			Category: "validation",
			Action:   "必須フィールドを指定してください。",
		})
		return
	}

	plan, err := h.plans.FindByID(r.Context(), req.PlanID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if plan == nil {
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewPlanNotFoundError(req.PlanID))
		return
	}

	if err := h.profiles.UpdatePlan(r.Context(), req.UserID, req.PlanID, req.PlanExpiresAt); err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("plan updated via billing webhook",
		slog.String("user_id", req.UserID),
		slog.String("plan_id", req.PlanID),
	)

	w.WriteHeader(http.StatusNoContent)
}

// authorized は共有シークレットヘッダーを定数時間比較で検証する。
func (h *BillingWebhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	got := r.Header.Get(webhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}
