// Package attempt は受験のライフサイクル操作を提供する。
// in_progressの受験は completed / timed_out / abandoned のいずれかへ
// ちょうど1回だけ遷移し、終端後の変更は受け付けない。
package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/simdojo/internal/model"
	"github.com/hitoshi/simdojo/internal/repository"
)

// Sanitizer は自由記述の回答値をサニタイズする。
type Sanitizer interface {
	SanitizeValue(value string) string
}

// StatsRecalculator は提出後のスコア再計算を依頼するポート。
// 実装は非同期（fire-and-forget）であり、失敗を提出者へ返さない。
type StatsRecalculator interface {
	RecalculateUserStats(userID string)
}

// Metrics は終端遷移のメトリクス計上を受け取る。
type Metrics interface {
	IncAttemptCompleted(status string)
}

// Service は受験のライフサイクル操作を提供する。
// 所有者チェックと状態チェックはすべて条件付きUPDATEに集約しており、
// 事前読み取りの結果が古くても誤った遷移は起こらない。
type Service struct {
	attemptRepo repository.AttemptRepository
	simRepo     repository.SimulationRepository
	sanitizer   Sanitizer
	scorer      StatsRecalculator
	metrics     Metrics
	now         func() time.Time
}

// NewService はServiceを生成する。sanitizer / scorer / metricsはnil可。
func NewService(
	attemptRepo repository.AttemptRepository,
	simRepo repository.SimulationRepository,
	sanitizer Sanitizer,
	scorer StatsRecalculator,
	metrics Metrics,
) *Service {
	return &Service{
		attemptRepo: attemptRepo,
		simRepo:     simRepo,
		sanitizer:   sanitizer,
		scorer:      scorer,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Submit は受験を提出しcompletedへ遷移させる。
//
// 回答は同一QuestionIDの重複を後勝ちで畳み込み、演習の設問数を超える場合は
// TOO_MANY_ANSWERSで拒否する。自由記述値はサニタイズして保存する。
// すでに終端の受験・所有者以外の受験はInvalidTransitionErrorになる。
// 遷移の成功後にスコア再計算を依頼する（結果は提出者へ返さない）。
func (s *Service) Submit(ctx context.Context, user *model.User, attemptID string, answers []model.Answer, durationSeconds int) (*model.Attempt, error) {
	current, sim, err := s.loadOwned(ctx, user, attemptID)
	if err != nil {
		return nil, err
	}
	if durationSeconds < 0 {
		return nil, fmt.Errorf("duration seconds must not be negative: %d", durationSeconds)
	}

	normalized, err := s.normalizeAnswers(answers, sim.QuestionCount)
	if err != nil {
		return nil, err
	}

	updated, err := s.attemptRepo.TransitionToTerminal(ctx, attemptID, user.ID,
		model.AttemptStatusCompleted, normalized, &durationSeconds, s.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, s.invalidTransition(ctx, attemptID, current.Status)
	}

	if s.metrics != nil {
		s.metrics.IncAttemptCompleted(string(model.AttemptStatusCompleted))
	}

	slog.Info("attempt submitted",
		slog.String("attempt_id", attemptID),
		slog.String("user_id", user.ID),
		slog.Int("answers", len(normalized)),
	)

	if s.scorer != nil {
		s.scorer.RecalculateUserStats(user.ID)
	}

	return updated, nil
}

// SaveAnswers はin_progressの受験の回答下書きを上書き保存する。
// 提出と同じ畳み込み・上限・サニタイズを適用する。
// 終端の受験への保存はInvalidTransitionErrorになる。
func (s *Service) SaveAnswers(ctx context.Context, user *model.User, attemptID string, answers []model.Answer) (*model.Attempt, error) {
	current, sim, err := s.loadOwned(ctx, user, attemptID)
	if err != nil {
		return nil, err
	}

	normalized, err := s.normalizeAnswers(answers, sim.QuestionCount)
	if err != nil {
		return nil, err
	}

	updated, err := s.attemptRepo.UpdateAnswers(ctx, attemptID, user.ID, normalized)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, s.invalidTransition(ctx, attemptID, current.Status)
	}

	return updated, nil
}

// Abandon は受験を放棄しabandonedへ遷移させる。
// 放棄された受験はクォータの消費対象から外れる。回答下書きは保持する。
func (s *Service) Abandon(ctx context.Context, user *model.User, attemptID string) (*model.Attempt, error) {
	current, _, err := s.loadOwned(ctx, user, attemptID)
	if err != nil {
		return nil, err
	}

	updated, err := s.attemptRepo.TransitionToTerminal(ctx, attemptID, user.ID,
		model.AttemptStatusAbandoned, nil, nil, s.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, s.invalidTransition(ctx, attemptID, current.Status)
	}

	if s.metrics != nil {
		s.metrics.IncAttemptCompleted(string(model.AttemptStatusAbandoned))
	}

	slog.Info("attempt abandoned",
		slog.String("attempt_id", attemptID),
		slog.String("user_id", user.ID),
	)

	return updated, nil
}

// Timeout は制限時間超過の受験をtimed_outへ遷移させる。
// スケジューラ（期限ワーカー）からの呼び出しを想定した単発版。
// すでに終端の場合はInvalidTransitionErrorを返す。
func (s *Service) Timeout(ctx context.Context, attemptID, userID string) (*model.Attempt, error) {
	updated, err := s.attemptRepo.TransitionToTerminal(ctx, attemptID, userID,
		model.AttemptStatusTimedOut, nil, nil, s.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, s.invalidTransition(ctx, attemptID, "")
	}

	if s.metrics != nil {
		s.metrics.IncAttemptCompleted(string(model.AttemptStatusTimedOut))
	}

	return updated, nil
}

// Get は所有する受験を1件取得する。
// 他ユーザーの受験は存在を漏らさずATTEMPT_NOT_FOUNDにする。
func (s *Service) Get(ctx context.Context, user *model.User, attemptID string) (*model.Attempt, error) {
	current, _, err := s.loadOwned(ctx, user, attemptID)
	if err != nil {
		return nil, err
	}
	return current, nil
}

// ListForUser はユーザーの受験履歴を演習プロジェクション付きで
// 新しい順に返す。
func (s *Service) ListForUser(ctx context.Context, user *model.User) ([]model.AttemptWithSimulation, error) {
	if user == nil {
		return nil, model.NewNotAuthenticatedError()
	}
	return s.attemptRepo.ListByUserWithSimulation(ctx, user.ID)
}

// loadOwned は所有者チェック付きで受験と対応する演習を読み込む。
func (s *Service) loadOwned(ctx context.Context, user *model.User, attemptID string) (*model.Attempt, *model.Simulation, error) {
	if user == nil {
		return nil, nil, model.NewNotAuthenticatedError()
	}

	attempt, err := s.attemptRepo.FindByID(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if attempt == nil || attempt.UserID != user.ID {
		return nil, nil, model.NewAttemptNotFoundError(attemptID)
	}

	sim, err := s.simRepo.FindByID(ctx, attempt.SimulationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find simulation: %w", err)
	}
	if sim == nil {
		return nil, nil, model.NewSimulationNotFoundError(attempt.SimulationID)
	}

	return attempt, sim, nil
}

// normalizeAnswers は回答列を正規化する。
// 同一QuestionIDは初出位置を保ったまま最後の値で上書きし、
// 畳み込み後の件数が設問数を超える場合は拒否する。
func (s *Service) normalizeAnswers(answers []model.Answer, questionCount int) ([]model.Answer, error) {
	collapsed := make([]model.Answer, 0, len(answers))
	index := make(map[string]int, len(answers))

	for _, ans := range answers {
		value := ans.Value
		if s.sanitizer != nil {
			value = s.sanitizer.SanitizeValue(value)
		}
		if pos, seen := index[ans.QuestionID]; seen {
			collapsed[pos].Value = value
			continue
		}
		index[ans.QuestionID] = len(collapsed)
		collapsed = append(collapsed, model.Answer{QuestionID: ans.QuestionID, Value: value})
	}

	if len(collapsed) > questionCount {
		return nil, model.NewTooManyAnswersError(len(collapsed), questionCount)
	}

	return collapsed, nil
}

// invalidTransition は遷移拒否時点の実ステータスを添えてエラーを返す。
// 条件付きUPDATEが0行だった時点の状態を読み直すため、事前読み取りより正確。
func (s *Service) invalidTransition(ctx context.Context, attemptID string, fallback model.AttemptStatus) error {
	status := fallback
	if current, err := s.attemptRepo.FindByID(ctx, attemptID); err == nil && current != nil {
		status = current.Status
	}
	return &model.InvalidTransitionError{AttemptID: attemptID, Status: status}
}
