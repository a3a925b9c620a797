// Package access は機能ゲート付き画面・APIへの到達可否判定を提供する。
package access

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/simdojo/internal/entitlement"
	"github.com/hitoshi/simdojo/internal/model"
)

// 拒否理由。DecisionのReasonに入る。
const (
	ReasonAllowed               = "allowed"
	ReasonNotAuthenticated      = "not_authenticated"
	ReasonFeatureNotIncluded    = "feature_not_included"
	ReasonEntitlementUnresolved = "entitlement_unresolved"
)

// デフォルトのリダイレクト先。
const (
	defaultSignInTarget  = "/auth/google/login"
	defaultUpgradeTarget = "/upgrade"
)

// PlanResolver はユーザーをプランへ解決するポート。
type PlanResolver interface {
	ResolvePlan(ctx context.Context, user *model.User) (*entitlement.Entitlement, error)
}

// Decision はアクセス判定の結果を表す。
type Decision struct {
	Allowed bool
	// Reason は拒否（または許可）の理由コード。
	Reason string
	// RedirectTarget は拒否時の誘導先。許可時は空。
	RedirectTarget string
}

// Evaluator は特定の機能キーを要求するゲートの判定器。
// ルートごとに要求機能を変えて複数個生成して使う。
type Evaluator struct {
	resolver      PlanResolver
	feature       model.FeatureKey
	signInTarget  string
	upgradeTarget string
}

// Option はEvaluatorの生成オプション。
type Option func(*Evaluator)

// WithSignInTarget は未認証時の誘導先を変更する。
func WithSignInTarget(target string) Option {
	return func(e *Evaluator) { e.signInTarget = target }
}

// WithUpgradeTarget は機能未含有時の誘導先を変更する。
func WithUpgradeTarget(target string) Option {
	return func(e *Evaluator) { e.upgradeTarget = target }
}

// NewEvaluator はfeatureを要求するEvaluatorを生成する。
func NewEvaluator(resolver PlanResolver, feature model.FeatureKey, opts ...Option) *Evaluator {
	e := &Evaluator{
		resolver:      resolver,
		feature:       feature,
		signInTarget:  defaultSignInTarget,
		upgradeTarget: defaultUpgradeTarget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate はアクセス可否を判定する。エラーは返さない。
// プラン解決に失敗した場合は安全側（拒否）へ倒す。解決不能な状態で
// 通してしまうと有料機能が誰にでも見えることになるため。
func (e *Evaluator) Evaluate(ctx context.Context, user *model.User) Decision {
	if user == nil {
		return Decision{Reason: ReasonNotAuthenticated, RedirectTarget: e.signInTarget}
	}

	ent, err := e.resolver.ResolvePlan(ctx, user)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeNotAuthenticated {
			return Decision{Reason: ReasonNotAuthenticated, RedirectTarget: e.signInTarget}
		}
		slog.Warn("plan resolution failed, denying access",
			slog.String("user_id", user.ID),
			slog.String("feature", string(e.feature)),
			slog.Any("error", err),
		)
		return Decision{Reason: ReasonEntitlementUnresolved, RedirectTarget: e.upgradeTarget}
	}

	if !entitlement.HasFeature(ent.Plan.Slug, e.feature) {
		return Decision{Reason: ReasonFeatureNotIncluded, RedirectTarget: e.upgradeTarget}
	}

	return Decision{Allowed: true, Reason: ReasonAllowed}
}
