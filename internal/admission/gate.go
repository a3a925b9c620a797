// Package admission は受験開始の許可判定を提供する。
// プランの上限とその時点の消費数を突き合わせ、許可された場合のみ
// 新しい受験レコードを作成する。
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/simdojo/internal/entitlement"
	"github.com/hitoshi/simdojo/internal/model"
	"github.com/hitoshi/simdojo/internal/quota"
	"github.com/hitoshi/simdojo/internal/repository"
)

// PlanResolver はユーザーをプランへ解決するポート。
type PlanResolver interface {
	ResolvePlan(ctx context.Context, user *model.User) (*entitlement.Entitlement, error)
}

// Metrics は許可判定のメトリクス計上を受け取る。
type Metrics interface {
	IncAdmissionAllowed()
	IncAdmissionRejected(reason string)
	ObserveAdmissionLatency(seconds float64)
}

// Config は許可ゲートの動作設定。
type Config struct {
	// AllowParallelAttempts がfalseの場合、同一演習のin_progress受験が
	// ある間は新しい受験の開始を拒否する。
	AllowParallelAttempts bool
}

// Gate は受験開始の許可ゲート。
//
// 有限プランの判定と受験作成は、ユーザーIDをキーとするアドバイザリロックを
// 保持した単一トランザクション内で行う（repository.CreateIfUnderQuota）。
// 残り1回のユーザーが並行して2リクエストを送っても、成功するのは
// ちょうど1つであることをこのロックが保証する。
type Gate struct {
	resolver    PlanResolver
	attemptRepo repository.AttemptRepository
	simRepo     repository.SimulationRepository
	metrics     Metrics
	config      Config
	now         func() time.Time
}

// NewGate はGateを生成する。metricsはnil可。
func NewGate(
	resolver PlanResolver,
	attemptRepo repository.AttemptRepository,
	simRepo repository.SimulationRepository,
	metrics Metrics,
	config Config,
) *Gate {
	return &Gate{
		resolver:    resolver,
		attemptRepo: attemptRepo,
		simRepo:     simRepo,
		metrics:     metrics,
		config:      config,
		now:         time.Now,
	}
}

// Admit は受験開始を判定し、許可された場合は作成済みのin_progress受験を返す。
//
// 拒否は以下のエラーで表す:
//   - *model.QuotaExceededError: 月間上限に到達（正常系。消費数・上限・プラン名付き）
//   - *model.APIError (ATTEMPT_IN_PROGRESS): 並行受験を許可しない設定で進行中の受験がある
//   - *model.APIError (NOT_AUTHENTICATED等): プラン解決の失敗。デフォルトプランへの
//     フォールバックはしない
//
// ストア障害は縮退させず必ず伝播する。判定をスキップした作成は許さない。
func (g *Gate) Admit(ctx context.Context, user *model.User, simulationID string) (*model.Attempt, error) {
	startedAt := g.now()
	defer func() {
		if g.metrics != nil {
			g.metrics.ObserveAdmissionLatency(time.Since(startedAt).Seconds())
		}
	}()

	ent, err := g.resolver.ResolvePlan(ctx, user)
	if err != nil {
		g.reject("entitlement")
		return nil, err
	}

	sim, err := g.simRepo.FindByID(ctx, simulationID)
	if err != nil {
		g.reject("store")
		return nil, fmt.Errorf("failed to find simulation: %w", err)
	}
	if sim == nil {
		g.reject("simulation_not_found")
		return nil, model.NewSimulationNotFoundError(simulationID)
	}

	now := g.now()
	attempt := &model.Attempt{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		SimulationID: simulationID,
		Status:       model.AttemptStatusInProgress,
		Answers:      []model.Answer{},
		CreatedAt:    now,
		StartedAt:    now,
	}

	if ent.Plan.Unlimited() && g.config.AllowParallelAttempts {
		// 無制限プランはカウント不要。作成の失敗だけ伝播する。
		if err := g.attemptRepo.Create(ctx, attempt); err != nil {
			g.reject("store")
			return nil, err
		}
		g.allow()
		return attempt, nil
	}

	limit := math.MaxInt32
	if !ent.Plan.Unlimited() {
		limit = *ent.Plan.MonthlyQuota
	}

	start, end := quota.PeriodBounds(now)
	created, used, err := g.attemptRepo.CreateIfUnderQuota(ctx, attempt, limit, start, end, g.config.AllowParallelAttempts)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeAttemptInProgress {
			g.reject("attempt_in_progress")
		} else {
			g.reject("store")
		}
		return nil, err
	}
	if !created {
		g.reject("quota_exceeded")
		return nil, &model.QuotaExceededError{
			Used:     used,
			Limit:    limit,
			PlanName: ent.Plan.Name,
		}
	}

	g.allow()
	return attempt, nil
}

func (g *Gate) allow() {
	if g.metrics != nil {
		g.metrics.IncAdmissionAllowed()
	}
}

func (g *Gate) reject(reason string) {
	if g.metrics != nil {
		g.metrics.IncAdmissionRejected(reason)
	}
}
