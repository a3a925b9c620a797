package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/simdojo/internal/model"
	"github.com/hitoshi/simdojo/internal/repository"
)

// FailureRecorder はカウント読み取り失敗のメトリクス計上を受け取る。
type FailureRecorder interface {
	IncQuotaCountFailure()
}

// Accountant は今期のクォータ消費数を数える。
//
// 読み取り専用の表示経路であるため、ストア障害時はエラーを返さず
// 0件へ縮退する（ログとメトリクスには残す）。表示が一時的に楽観的に
// なるだけで、受験開始の真の判定は許可ゲートのトランザクション内の
// 再カウントが行うため、不正な開始にはつながらない。
type Accountant struct {
	attemptRepo repository.AttemptRepository
	metrics     FailureRecorder
	now         func() time.Time
}

// NewAccountant はAccountantを生成する。metricsはnil可。
func NewAccountant(attemptRepo repository.AttemptRepository, metrics FailureRecorder) *Accountant {
	return &Accountant{
		attemptRepo: attemptRepo,
		metrics:     metrics,
		now:         time.Now,
	}
}

// CountThisPeriod は現在のUTC暦月における消費数を返す。
// abandonedの受験はストア側のクエリで除外される。
// completed / timed_out / in_progress はいずれも1回として数える。
func (a *Accountant) CountThisPeriod(ctx context.Context, user *model.User) int {
	if user == nil {
		return 0
	}

	start, end := PeriodBounds(a.now())
	used, err := a.attemptRepo.CountInPeriod(ctx, user.ID, start, end)
	if err != nil {
		slog.Warn("quota count failed, degrading to zero",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		if a.metrics != nil {
			a.metrics.IncQuotaCountFailure()
		}
		return 0
	}
	return used
}
