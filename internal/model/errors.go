// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, entitlement, quota, attempt, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	ErrCodePlanNotFound       = "PLAN_NOT_FOUND"
	ErrCodeQuotaExceeded      = "QUOTA_EXCEEDED"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrCodeAttemptNotFound    = "ATTEMPT_NOT_FOUND"
	ErrCodeSimulationNotFound = "SIMULATION_NOT_FOUND"
	ErrCodeAttemptInProgress  = "ATTEMPT_IN_PROGRESS"
	ErrCodeTooManyAnswers     = "TOO_MANY_ANSWERS"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
)

// NewNotAuthenticatedError は未認証エラーを生成する。
// サイレントなリトライはせず、常に呼び出し元へ返す。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewProfileNotFoundError はプロフィール行が存在しない場合のエラーを生成する。
func NewProfileNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("プロフィールが見つかりません: %s", userID),
		Category: "entitlement",
		Action:   "ログインし直してください。解決しない場合はサポートへ連絡してください。",
	}
}

// NewPlanNotFoundError はプロフィールが参照するプランが存在しない場合のエラーを生成する。
// 無制限プランや無料プランへのフォールバックは意図しないアクセス許可につながるため行わない。
func NewPlanNotFoundError(planID string) *APIError {
	return &APIError{
		Code:     ErrCodePlanNotFound,
		Message:  fmt.Sprintf("プランが見つかりません: %s", planID),
		Category: "entitlement",
		Action:   "サポートへ連絡してください。",
	}
}

// NewAttemptNotFoundError は受験が見つからない場合のエラーを生成する。
func NewAttemptNotFoundError(attemptID string) *APIError {
	return &APIError{
		Code:     ErrCodeAttemptNotFound,
		Message:  fmt.Sprintf("指定された受験が見つかりません: %s", attemptID),
		Category: "attempt",
		Action:   "受験IDを確認してください。",
	}
}

// NewSimulationNotFoundError は演習が見つからない場合のエラーを生成する。
func NewSimulationNotFoundError(simulationID string) *APIError {
	return &APIError{
		Code:     ErrCodeSimulationNotFound,
		Message:  fmt.Sprintf("指定された演習が見つかりません: %s", simulationID),
		Category: "attempt",
		Action:   "演習IDを確認してください。",
	}
}

// NewAttemptInProgressError は同一演習の受験がすでに進行中の場合のエラーを生成する。
// 並行受験を許可しない設定のときのみ発生する。
func NewAttemptInProgressError(simulationID string) *APIError {
	return &APIError{
		Code:     ErrCodeAttemptInProgress,
		Message:  fmt.Sprintf("この演習の受験がすでに進行中です: %s", simulationID),
		Category: "attempt",
		Action:   "進行中の受験を再開するか、提出・放棄してから開始してください。",
	}
}

// NewTooManyAnswersError は回答数が演習の設問数を超えた場合のエラーを生成する。
func NewTooManyAnswersError(got, max int) *APIError {
	return &APIError{
		Code:     ErrCodeTooManyAnswers,
		Message:  fmt.Sprintf("回答数が設問数を超えています: %d > %d", got, max),
		Category: "validation",
		Action:   "設問数以下の回答を送信してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// QuotaExceededError は月間クォータ超過による受験開始の拒否を表す。
// アップグレード導線の表示に必要な構造化フィールドを保持するため、
// APIErrorとは別の専用型として定義する。期待される正常系の結果であり、
// アプリケーション障害としてログに記録してはならない。
type QuotaExceededError struct {
	Used     int    // 今期の消費数
	Limit    int    // プランの月間上限
	PlanName string // 現在のプラン名
}

// Error はerrorインターフェースを実装する。
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("[%s] 今月の受験回数が上限に達しています: %d/%d (%s)",
		ErrCodeQuotaExceeded, e.Used, e.Limit, e.PlanName)
}

// InvalidTransitionError は終端状態の受験への変更、または所有者以外による
// 変更の試行を表す。呼び出し側のプログラミングエラーまたはレースガードであり、
// 常に呼び出し元へ伝播する。
type InvalidTransitionError struct {
	AttemptID string
	Status    AttemptStatus // 変更を拒否した時点のステータス
}

// Error はerrorインターフェースを実装する。
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("[%s] 受験 %s は状態 %s のため変更できません",
		ErrCodeInvalidTransition, e.AttemptID, e.Status)
}

// StoreUnavailableError はレコードストアへの操作の失敗を表す。
// INSERT/UPDATE系の操作では必ず伝播させる（部分書き込みを握りつぶさない）。
// クォータのカウント読み取りに限り、呼び出し側で0件へ縮退させる。
type StoreUnavailableError struct {
	Op  string // 失敗した操作名
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("[%s] レコードストアの操作に失敗しました (%s): %v",
		ErrCodeStoreUnavailable, e.Op, e.Err)
}

// Unwrap はラップされた元のエラーを返す。
func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}
