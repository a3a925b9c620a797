// Package entitlement はユーザーのプラン解決と機能ゲート判定を提供する。
package entitlement

import (
	"context"
	"fmt"

	"github.com/hitoshi/simdojo/internal/model"
	"github.com/hitoshi/simdojo/internal/repository"
)

// Entitlement は解決済みのプロフィールとプランの組を表す。
type Entitlement struct {
	Profile *model.Profile
	Plan    *model.Plan
}

// featureTable はプランslugごとの有効機能の静的テーブル。
// 全slug×全機能キーについて定義済みであり、未知の組み合わせは常にfalse。
// プラン行の増減はここに反映しない限り機能を解放しない（安全側デフォルト）。
var featureTable = map[string]map[model.FeatureKey]bool{
	"free": {},
	"pro": {
		model.FeatureCertificates:    true,
		model.FeatureRanking:         true,
		model.FeatureDetailedReports: true,
	},
	"enterprise": {
		model.FeatureCertificates:    true,
		model.FeatureRanking:         true,
		model.FeatureDetailedReports: true,
	},
}

// Resolver はユーザーをプランへ解決する。
// 解決に失敗した場合にデフォルトプランへフォールバックすることはない。
// 不明な状態で無料プラン相当として通すと、無制限プランのユーザーを
// 誤って拒否し、逆に未認証ユーザーを誤って許可しうるため。
type Resolver struct {
	profileRepo repository.ProfileRepository
	planRepo    repository.PlanRepository
}

// NewResolver はResolverを生成する。
func NewResolver(profileRepo repository.ProfileRepository, planRepo repository.PlanRepository) *Resolver {
	return &Resolver{profileRepo: profileRepo, planRepo: planRepo}
}

// ResolvePlan はユーザーのプロフィールとプランを解決する。
// userがnilの場合はNOT_AUTHENTICATED、プロフィール行がない場合は
// PROFILE_NOT_FOUND、参照先プランがない場合はPLAN_NOT_FOUNDを返す。
func (r *Resolver) ResolvePlan(ctx context.Context, user *model.User) (*Entitlement, error) {
	if user == nil {
		return nil, model.NewNotAuthenticatedError()
	}

	profile, err := r.profileRepo.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError(user.ID)
	}

	plan, err := r.planRepo.FindByID(ctx, profile.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	if plan == nil {
		return nil, model.NewPlanNotFoundError(profile.PlanID)
	}

	return &Entitlement{Profile: profile, Plan: plan}, nil
}

// HasFeature はプランslugで機能が有効かどうかを返す。
// 同じ入力には常に同じ結果を返す全域関数。未知のslug・未知の機能キーはfalse。
func HasFeature(planSlug string, feature model.FeatureKey) bool {
	features, ok := featureTable[planSlug]
	if !ok {
		return false
	}
	return features[feature]
}
