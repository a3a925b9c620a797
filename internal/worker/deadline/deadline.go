// Package deadline は受験の期限処理ジョブを提供する。
// 制限時間+猶予を超過したin_progressの受験をtimed_outへ、
// 長時間放置された受験をabandonedへ、定期バッチで遷移させる。
package deadline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/simdojo/internal/repository"
)

// Metrics は終端遷移のメトリクス計上を受け取る。
type Metrics interface {
	IncAttemptCompleted(status string)
}

// SweepJob は期限超過・放置の受験を終端状態へ一括遷移させるジョブ。
// 条件付きUPDATEのみで構成されるため冪等であり、多重起動しても
// 同じ受験が二重に遷移することはない。
type SweepJob struct {
	repo    repository.DeadlineRepository
	logger  *slog.Logger
	metrics Metrics

	// Grace は制限時間超過からtimed_out遷移までの猶予。
	// クライアントの自己申告提出が時計のずれで弾かれないための余裕。
	Grace time.Duration
	// AbandonAfter はin_progressのまま放置された受験を
	// abandonedにするまでの時間。
	AbandonAfter time.Duration
}

// NewSweepJob は新しいSweepJobを生成する。metricsはnil可。
func NewSweepJob(repo repository.DeadlineRepository, logger *slog.Logger, metrics Metrics, grace, abandonAfter time.Duration) *SweepJob {
	return &SweepJob{
		repo:         repo,
		logger:       logger,
		metrics:      metrics,
		Grace:        grace,
		AbandonAfter: abandonAfter,
	}
}

// Run は1回分のスイープを実行する。
// timed_out遷移を先に行う。放置判定より期限超過判定が優先であり、
// 期限内に放置時間へ達することはない設定が前提（AbandonAfter > 制限時間 + Grace）。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()
	now := time.Now()

	timedOut, err := j.repo.MarkOverdueTimedOut(ctx, j.Grace, now)
	if err != nil {
		j.logger.Error("期限超過の遷移に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限超過スイープの実行に失敗: %w", err)
	}
	for i := 0; i < timedOut; i++ {
		if j.metrics != nil {
			j.metrics.IncAttemptCompleted("timed_out")
		}
	}

	abandoned, err := j.repo.MarkStaleAbandoned(ctx, now.Add(-j.AbandonAfter), now)
	if err != nil {
		j.logger.Error("放置受験の遷移に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("放置スイープの実行に失敗: %w", err)
	}
	for i := 0; i < abandoned; i++ {
		if j.metrics != nil {
			j.metrics.IncAttemptCompleted("abandoned")
		}
	}

	duration := time.Since(start)
	if timedOut > 0 || abandoned > 0 {
		j.logger.Info("期限処理ジョブが完了しました",
			slog.Int("timed_out", timedOut),
			slog.Int("abandoned", abandoned),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}

	return nil
}

// RunLoop はintervalごとにRunを繰り返す。ctxのキャンセルで停止する。
// 1回分の失敗はログに残して継続する（次回のスイープで回収される）。
func (j *SweepJob) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("期限処理ワーカーを開始しました",
		slog.String("interval", interval.String()),
		slog.String("grace", j.Grace.String()),
		slog.String("abandon_after", j.AbandonAfter.String()),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("期限処理ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("期限処理ジョブが失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
