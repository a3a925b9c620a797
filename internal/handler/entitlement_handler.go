package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/simdojo/internal/entitlement"
	"github.com/hitoshi/simdojo/internal/model"
	"github.com/hitoshi/simdojo/internal/quota"
)

// EntitlementResolverInterface はエンタイトルメントハンドラーが必要とする
// プラン解決インターフェース。entitlement.Resolverが実装する。
type EntitlementResolverInterface interface {
	ResolvePlan(ctx context.Context, user *model.User) (*entitlement.Entitlement, error)
}

// QuotaCounterInterface は当月消費数の読み取りインターフェース。
// quota.Accountantが実装する。読み取り失敗時は0へ劣化するためエラーを返さない。
type QuotaCounterInterface interface {
	CountThisPeriod(ctx context.Context, user *model.User) int
}

// EntitlementHandler はプランとクォータ残量のHTTPハンドラー。
type EntitlementHandler struct {
	resolver EntitlementResolverInterface
	counter  QuotaCounterInterface
	now      func() time.Time
}

// NewEntitlementHandler はEntitlementHandlerを生成する。
func NewEntitlementHandler(resolver EntitlementResolverInterface, counter QuotaCounterInterface) *EntitlementHandler {
	return &EntitlementHandler{
		resolver: resolver,
		counter:  counter,
		now:      time.Now,
	}
}

// planResponse はプラン情報のAPIレスポンス。
type planResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	MonthlyQuota *int   `json:"monthly_quota"`
}

// entitlementResponse はプランと当月消費数のAPIレスポンス。
// monthly_quotaがnullの場合は無制限プランを示す。
type entitlementResponse struct {
	Plan        planResponse    `json:"plan"`
	Used        int             `json:"used"`
	Features    map[string]bool `json:"features"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
}

// GetEntitlement は現在のユーザーのプランと当月消費数を返す。
// GET /api/me/entitlement
//
// 消費数の読み取りはストア障害時に0へ劣化するため、このエンドポイントが
// ストア障害でサインインUXを塞ぐことはない。
func (h *EntitlementHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	ent, err := h.resolver.ResolvePlan(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	used := h.counter.CountThisPeriod(r.Context(), user)
	start, end := quota.PeriodBounds(h.now())

	features := map[string]bool{
		string(model.FeatureCertificates):    entitlement.HasFeature(ent.Plan.Slug, model.FeatureCertificates),
		string(model.FeatureRanking):         entitlement.HasFeature(ent.Plan.Slug, model.FeatureRanking),
		string(model.FeatureDetailedReports): entitlement.HasFeature(ent.Plan.Slug, model.FeatureDetailedReports),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entitlementResponse{
		Plan: planResponse{
			ID:           ent.Plan.ID,
			Name:         ent.Plan.Name,
			Slug:         ent.Plan.Slug,
			MonthlyQuota: ent.Plan.MonthlyQuota,
		},
		Used:        used,
		Features:    features,
		PeriodStart: start,
		PeriodEnd:   end,
	})
}
