// Package model はドメインモデルを定義する。
package model

import "time"

// FeatureKey はプランに紐づく機能のキーを表す。
type FeatureKey string

const (
	// FeatureCertificates は修了証の発行・閲覧機能。
	FeatureCertificates FeatureKey = "certificates"
	// FeatureRanking はランキング閲覧機能。
	FeatureRanking FeatureKey = "ranking"
	// FeatureDetailedReports は詳細レポート閲覧機能。
	FeatureDetailedReports FeatureKey = "detailed_reports"
)

// Plan は課金プラン（サブスクリプション階層）を表す。
// 外部の課金プロセスが作成するリファレンスデータであり、本コアからは読み取り専用。
type Plan struct {
	ID        string
	Name      string
	Slug      string
	// MonthlyQuota は月あたりの演習開始可能回数。nilの場合は無制限。
	MonthlyQuota *int
	CreatedAt    time.Time
}

// Unlimited は回数制限のないプランかどうかを返す。
func (p *Plan) Unlimited() bool {
	return p.MonthlyQuota == nil
}

// Profile はユーザーごとのプロフィール行を表す。
// plan_idは課金Webhookが書き換え、本コアは参照してプランに解決するだけ。
type Profile struct {
	UserID        string
	PlanID        string
	PlanExpiresAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
