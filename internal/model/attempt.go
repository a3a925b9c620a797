// Package model はドメインモデルを定義する。
package model

import "time"

// AttemptStatus は受験（演習の1回分）のライフサイクル状態を表す。
type AttemptStatus string

const (
	// AttemptStatusInProgress は受験中の状態。
	AttemptStatusInProgress AttemptStatus = "in_progress"
	// AttemptStatusCompleted は提出により完了した状態。
	AttemptStatusCompleted AttemptStatus = "completed"
	// AttemptStatusTimedOut は制限時間超過により終了した状態。
	AttemptStatusTimedOut AttemptStatus = "timed_out"
	// AttemptStatusAbandoned は放棄により終了した状態。
	// 放棄された受験は月間クォータの消費対象に含めない。
	AttemptStatusAbandoned AttemptStatus = "abandoned"
)

// Terminal は終端状態（以降の変更を受け付けない状態）かどうかを返す。
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusTimedOut || s == AttemptStatusAbandoned
}

// Valid は既知のステータス値かどうかを返す。
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptStatusInProgress, AttemptStatusCompleted, AttemptStatusTimedOut, AttemptStatusAbandoned:
		return true
	}
	return false
}

// Answer は設問1つに対する回答を表す。
// 提出前は同一QuestionIDの重複を許容し、後勝ちで上書きされる。
type Answer struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

// Attempt は1回の受験を表す。
// in_progressで作成され、completed / timed_out / abandonedのいずれかの
// 終端状態へちょうど1回だけ遷移する。終端後の変更は許可されない。
type Attempt struct {
	ID           string
	UserID       string
	SimulationID string
	Status       AttemptStatus
	Answers      []Answer
	// CreatedAt はクォータ計上と一覧の並び順の基準になる作成時刻。
	CreatedAt time.Time
	StartedAt time.Time
	// CompletedAt / DurationSeconds / Score はin_progressの間はnil。
	CompletedAt     *time.Time
	DurationSeconds *int
	Score           *int
}

// InProgress は受験中かどうかを返す。
func (a *Attempt) InProgress() bool {
	return a.Status == AttemptStatusInProgress
}

// AttemptWithSimulation は受験と演習プロジェクションを結合した一覧表示用モデル。
// 表示専用であり、クォータ計上の判断には使用しない。
type AttemptWithSimulation struct {
	Attempt
	Simulation SimulationSummary
}
