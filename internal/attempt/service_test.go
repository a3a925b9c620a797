package attempt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/simdojo/internal/model"
)

type mockAttemptRepo struct {
	findByIDFn             func(ctx context.Context, id string) (*model.Attempt, error)
	updateAnswersFn        func(ctx context.Context, id, userID string, answers []model.Answer) (*model.Attempt, error)
	transitionToTerminalFn func(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error)
	listFn                 func(ctx context.Context, userID string) ([]model.AttemptWithSimulation, error)
}

func (m *mockAttemptRepo) FindByID(ctx context.Context, id string) (*model.Attempt, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockAttemptRepo) CountInPeriod(ctx context.Context, userID string, start, end time.Time) (int, error) {
	return 0, nil
}

func (m *mockAttemptRepo) Create(ctx context.Context, attempt *model.Attempt) error {
	return nil
}

func (m *mockAttemptRepo) CreateIfUnderQuota(ctx context.Context, attempt *model.Attempt, limit int, start, end time.Time, allowParallel bool) (bool, int, error) {
	return false, 0, nil
}

func (m *mockAttemptRepo) UpdateAnswers(ctx context.Context, id, userID string, answers []model.Answer) (*model.Attempt, error) {
	if m.updateAnswersFn != nil {
		return m.updateAnswersFn(ctx, id, userID, answers)
	}
	return nil, nil
}

func (m *mockAttemptRepo) TransitionToTerminal(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
	if m.transitionToTerminalFn != nil {
		return m.transitionToTerminalFn(ctx, id, userID, status, answers, durationSeconds, completedAt)
	}
	return nil, nil
}

func (m *mockAttemptRepo) ListByUserWithSimulation(ctx context.Context, userID string) ([]model.AttemptWithSimulation, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

type mockSimRepo struct {
	questionCount int
}

func (m *mockSimRepo) FindByID(ctx context.Context, id string) (*model.Simulation, error) {
	count := m.questionCount
	if count == 0 {
		count = 5
	}
	return &model.Simulation{ID: id, Title: "NW疎通トラブル", QuestionCount: count, DurationMinutes: 30}, nil
}

func (m *mockSimRepo) List(ctx context.Context) ([]*model.Simulation, error) {
	return nil, nil
}

// upperSanitizer はサニタイズの通過を検証するためのダミー実装。
type upperSanitizer struct{}

func (upperSanitizer) SanitizeValue(value string) string {
	return strings.ToUpper(value)
}

type mockScorer struct {
	mu      sync.Mutex
	userIDs []string
}

func (m *mockScorer) RecalculateUserStats(userID string) {
	m.mu.Lock()
	m.userIDs = append(m.userIDs, userID)
	m.mu.Unlock()
}

func testUser() *model.User {
	return &model.User{ID: "user-1", Email: "u@example.com"}
}

func inProgressAttempt() *model.Attempt {
	return &model.Attempt{
		ID:           "attempt-1",
		UserID:       "user-1",
		SimulationID: "sim-1",
		Status:       model.AttemptStatusInProgress,
		StartedAt:    time.Now().Add(-10 * time.Minute),
		CreatedAt:    time.Now().Add(-10 * time.Minute),
	}
}

// TestSubmit_Success は提出でcompletedへ遷移し、durationと回答が
// ストアへ渡ることを検証する。スコア再計算も依頼される。
func TestSubmit_Success(t *testing.T) {
	var gotStatus model.AttemptStatus
	var gotDuration *int
	var gotAnswers []model.Answer

	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return inProgressAttempt(), nil
		},
		transitionToTerminalFn: func(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
			gotStatus = status
			gotDuration = durationSeconds
			gotAnswers = answers
			updated := inProgressAttempt()
			updated.Status = status
			updated.Answers = answers
			return updated, nil
		},
	}
	scorer := &mockScorer{}
	svc := NewService(repo, &mockSimRepo{}, nil, scorer, nil)

	answers := []model.Answer{
		{QuestionID: "q1", Value: "DNSキャッシュ"},
		{QuestionID: "q2", Value: "MTU"},
	}
	result, err := svc.Submit(context.Background(), testUser(), "attempt-1", answers, 540)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Status != model.AttemptStatusCompleted {
		t.Errorf("status = %q, want completed", result.Status)
	}
	if gotStatus != model.AttemptStatusCompleted {
		t.Errorf("store status = %q", gotStatus)
	}
	if gotDuration == nil || *gotDuration != 540 {
		t.Errorf("duration = %v, want 540", gotDuration)
	}
	if len(gotAnswers) != 2 {
		t.Errorf("answers = %d, want 2", len(gotAnswers))
	}
	if len(scorer.userIDs) != 1 || scorer.userIDs[0] != "user-1" {
		t.Errorf("scorer calls = %v", scorer.userIDs)
	}
}

// TestSubmit_DuplicateAnswersLastWriteWins は同一設問の重複回答が
// 後勝ちで1件に畳み込まれることを検証する。
func TestSubmit_DuplicateAnswersLastWriteWins(t *testing.T) {
	var gotAnswers []model.Answer
	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return inProgressAttempt(), nil
		},
		transitionToTerminalFn: func(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
			gotAnswers = answers
			updated := inProgressAttempt()
			updated.Status = status
			return updated, nil
		},
	}
	svc := NewService(repo, &mockSimRepo{}, nil, nil, nil)

	answers := []model.Answer{
		{QuestionID: "q1", Value: "最初の答え"},
		{QuestionID: "q2", Value: "別の答え"},
		{QuestionID: "q1", Value: "最終的な答え"},
	}
	if _, err := svc.Submit(context.Background(), testUser(), "attempt-1", answers, 60); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if len(gotAnswers) != 2 {
		t.Fatalf("answers = %d, want 2 after collapsing", len(gotAnswers))
	}
	if gotAnswers[0].QuestionID != "q1" || gotAnswers[0].Value != "最終的な答え" {
		t.Errorf("q1 = %+v, want last write", gotAnswers[0])
	}
	if gotAnswers[1].QuestionID != "q2" {
		t.Errorf("q2 position changed: %+v", gotAnswers[1])
	}
}

// TestSubmit_TooManyAnswers は畳み込み後も設問数を超える回答の拒否を検証する。
func TestSubmit_TooManyAnswers(t *testing.T) {
	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return inProgressAttempt(), nil
		},
		transitionToTerminalFn: func(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
			t.Error("transition should not run for invalid answers")
			return nil, nil
		},
	}
	svc := NewService(repo, &mockSimRepo{questionCount: 2}, nil, nil, nil)

	answers := []model.Answer{
		{QuestionID: "q1", Value: "a"},
		{QuestionID: "q2", Value: "b"},
		{QuestionID: "q3", Value: "c"},
	}
	_, err := svc.Submit(context.Background(), testUser(), "attempt-1", answers, 60)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeTooManyAnswers {
		t.Fatalf("expected TOO_MANY_ANSWERS, got %v", err)
	}
}

// TestSubmit_SanitizesValues は自由記述値がサニタイザを通過することを検証する。
func TestSubmit_SanitizesValues(t *testing.T) {
	var gotAnswers []model.Answer
	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return inProgressAttempt(), nil
		},
		transitionToTerminalFn: func(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
			gotAnswers = answers
			updated := inProgressAttempt()
			updated.Status = status
			return updated, nil
		},
	}
	svc := NewService(repo, &mockSimRepo{}, upperSanitizer{}, nil, nil)

	answers := []model.Answer{{QuestionID: "q1", Value: "abc"}}
	if _, err := svc.Submit(context.Background(), testUser(), "attempt-1", answers, 60); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if gotAnswers[0].Value != "ABC" {
		t.Errorf("value = %q, want sanitized %q", gotAnswers[0].Value, "ABC")
	}
}

// TestSubmit_TerminalAttempt は終端済み受験の提出がInvalidTransitionError
// になることを検証する（条件付きUPDATEが0行）。
func TestSubmit_TerminalAttempt(t *testing.T) {
	completed := inProgressAttempt()
	completed.Status = model.AttemptStatusCompleted

	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return completed, nil
		},
		transitionToTerminalFn: func(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
			return nil, nil // 条件不一致
		},
	}
	svc := NewService(repo, &mockSimRepo{}, nil, nil, nil)

	_, err := svc.Submit(context.Background(), testUser(), "attempt-1", nil, 60)
	var transErr *model.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if transErr.Status != model.AttemptStatusCompleted {
		t.Errorf("status in error = %q, want completed", transErr.Status)
	}
}

// TestSubmit_OtherUsersAttempt は他ユーザーの受験が存在を漏らさず
// ATTEMPT_NOT_FOUNDになることを検証する。
func TestSubmit_OtherUsersAttempt(t *testing.T) {
	other := inProgressAttempt()
	other.UserID = "user-2"

	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return other, nil
		},
	}
	svc := NewService(repo, &mockSimRepo{}, nil, nil, nil)

	_, err := svc.Submit(context.Background(), testUser(), "attempt-1", nil, 60)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAttemptNotFound {
		t.Fatalf("expected ATTEMPT_NOT_FOUND, got %v", err)
	}
}

// TestSubmit_ScoringNotCalledOnFailure は遷移失敗時にスコア再計算が
// 依頼されないことを検証する。
func TestSubmit_ScoringNotCalledOnFailure(t *testing.T) {
	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return inProgressAttempt(), nil
		},
		transitionToTerminalFn: func(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
			return nil, &model.StoreUnavailableError{Op: "attempts.transition", Err: errors.New("down")}
		},
	}
	scorer := &mockScorer{}
	svc := NewService(repo, &mockSimRepo{}, nil, scorer, nil)

	if _, err := svc.Submit(context.Background(), testUser(), "attempt-1", nil, 60); err == nil {
		t.Fatal("expected error")
	}
	if len(scorer.userIDs) != 0 {
		t.Errorf("scorer should not be called on failure, got %v", scorer.userIDs)
	}
}

// TestSaveAnswers_InProgress は下書き保存の正常系を検証する。
func TestSaveAnswers_InProgress(t *testing.T) {
	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return inProgressAttempt(), nil
		},
		updateAnswersFn: func(ctx context.Context, id, userID string, answers []model.Answer) (*model.Attempt, error) {
			updated := inProgressAttempt()
			updated.Answers = answers
			return updated, nil
		},
	}
	svc := NewService(repo, &mockSimRepo{}, nil, nil, nil)

	result, err := svc.SaveAnswers(context.Background(), testUser(), "attempt-1",
		[]model.Answer{{QuestionID: "q1", Value: "下書き"}})
	if err != nil {
		t.Fatalf("SaveAnswers returned error: %v", err)
	}
	if result.Status != model.AttemptStatusInProgress {
		t.Errorf("status = %q, want in_progress", result.Status)
	}
}

// TestSaveAnswers_TerminalAttempt は終端済み受験への下書き保存が
// 提出と同じガードで拒否されることを検証する。
func TestSaveAnswers_TerminalAttempt(t *testing.T) {
	timedOut := inProgressAttempt()
	timedOut.Status = model.AttemptStatusTimedOut

	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return timedOut, nil
		},
		updateAnswersFn: func(ctx context.Context, id, userID string, answers []model.Answer) (*model.Attempt, error) {
			return nil, nil
		},
	}
	svc := NewService(repo, &mockSimRepo{}, nil, nil, nil)

	_, err := svc.SaveAnswers(context.Background(), testUser(), "attempt-1", nil)
	var transErr *model.InvalidTransitionError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

// TestAbandon_KeepsDraftAnswers は放棄の遷移で回答下書きが
// 上書きされない（nilが渡る）ことを検証する。
func TestAbandon_KeepsDraftAnswers(t *testing.T) {
	var gotAnswers []model.Answer = []model.Answer{{QuestionID: "sentinel", Value: "x"}}
	repo := &mockAttemptRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Attempt, error) {
			return inProgressAttempt(), nil
		},
		transitionToTerminalFn: func(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
			if status != model.AttemptStatusAbandoned {
				t.Errorf("status = %q, want abandoned", status)
			}
			if durationSeconds != nil {
				t.Errorf("durationSeconds = %v, want nil for abandoned", durationSeconds)
			}
			gotAnswers = answers
			updated := inProgressAttempt()
			updated.Status = status
			return updated, nil
		},
	}
	svc := NewService(repo, &mockSimRepo{}, nil, nil, nil)

	if _, err := svc.Abandon(context.Background(), testUser(), "attempt-1"); err != nil {
		t.Fatalf("Abandon returned error: %v", err)
	}
	if gotAnswers != nil {
		t.Errorf("answers = %v, want nil (keep existing draft)", gotAnswers)
	}
}

// TestListForUser_RequiresUser は未認証でのリスト取得を検証する。
func TestListForUser_RequiresUser(t *testing.T) {
	svc := NewService(&mockAttemptRepo{}, &mockSimRepo{}, nil, nil, nil)

	_, err := svc.ListForUser(context.Background(), nil)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotAuthenticated {
		t.Fatalf("expected NOT_AUTHENTICATED, got %v", err)
	}
}
