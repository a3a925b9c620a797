// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/simdojo/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentityAndProfile はユーザー・identity・初期プロフィールを
	// 同一トランザクションで作成する。初回ログイン時のプロビジョニングに使用する。
	CreateWithIdentityAndProfile(ctx context.Context, user *model.User, identity *model.Identity, profile *model.Profile) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はプロフィール行の永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// UpdatePlan はプロフィールのプランIDと有効期限を更新する。
	// 課金Webhookの書き込み経路。対象行がない場合はエラーを返す。
	UpdatePlan(ctx context.Context, userID, planID string, planExpiresAt *time.Time) error
}

// PlanRepository はプランリファレンスデータの読み取りインターフェース。
// プラン行は外部の課金プロセスが管理するため書き込み操作は持たない。
type PlanRepository interface {
	// FindByID は指定IDのプランを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Plan, error)

	// FindBySlug は指定slugのプランを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Plan, error)

	// List は全プランをslug昇順で返す。
	List(ctx context.Context) ([]*model.Plan, error)
}

// SimulationRepository は演習データの読み取りインターフェース。
type SimulationRepository interface {
	// FindByID は指定IDの演習を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Simulation, error)

	// List は全演習をタイトル昇順で返す。
	List(ctx context.Context) ([]*model.Simulation, error)
}

// AttemptRepository は受験データの永続化インターフェース。
// 受験の作成（クォータ条件付き）、終端遷移、期間カウントを提供する。
type AttemptRepository interface {
	// FindByID は指定IDの受験を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Attempt, error)

	// CountInPeriod は半開区間 [start, end) にcreated_atが含まれる受験数を返す。
	// abandonedの受験はクォータを消費しないためカウントから除外する。
	CountInPeriod(ctx context.Context, userID string, start, end time.Time) (int, error)

	// Create は受験を無条件に作成する。無制限プランの許可経路で使用する。
	Create(ctx context.Context, attempt *model.Attempt) error

	// CreateIfUnderQuota はカウントと作成を単一トランザクション内で実行する。
	// ユーザーIDをキーとするアドバイザリロックを保持した上で [start, end) の
	// 消費数を再カウントし、used < limit の場合のみINSERTする。
	// 同一ユーザーの並行リクエストが両方とも used < limit を観測する
	// check-then-actレースはこのロックで閉じる。
	// allowParallelがfalseの場合、同一演習のin_progress受験が存在すれば
	// ATTEMPT_IN_PROGRESSエラーを返す。
	// 戻り値は (作成されたか, トランザクション内で観測した消費数, エラー)。
	CreateIfUnderQuota(ctx context.Context, attempt *model.Attempt, limit int, start, end time.Time, allowParallel bool) (bool, int, error)

	// UpdateAnswers はin_progressの受験の回答下書きを上書きする。
	// 対象がin_progressでない、または所有者が異なる場合はnilを返す。
	UpdateAnswers(ctx context.Context, id, userID string, answers []model.Answer) (*model.Attempt, error)

	// TransitionToTerminal はin_progressの受験を終端状態へ遷移させる。
	// WHERE句でstatus = 'in_progress'と所有者を同時に検証する条件付きUPDATEであり、
	// すでに終端の受験・他ユーザーの受験に対してはnilを返す（行は変更されない）。
	// durationSecondsはcompletedのみ設定し、timed_out / abandonedではnilを渡す。
	// answersがnilの場合は既存の回答下書きを保持する。
	TransitionToTerminal(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error)

	// ListByUserWithSimulation はユーザーの受験一覧を演習プロジェクション付きで
	// created_at降順（新しい順）で返す。表示専用の読み取りプロジェクション。
	ListByUserWithSimulation(ctx context.Context, userID string) ([]model.AttemptWithSimulation, error)
}

// DeadlineRepository は期限ワーカー専用の一括終端遷移を提供する。
// どちらもstatus = 'in_progress'の行のみを対象とする条件付きUPDATEであり、
// ワーカーの多重起動や再実行があっても二重遷移は起こらない。
type DeadlineRepository interface {
	// MarkOverdueTimedOut は制限時間+猶予を超過したin_progressの受験を
	// timed_outへ一括遷移させ、遷移件数を返す。回答下書きは保持する。
	MarkOverdueTimedOut(ctx context.Context, grace time.Duration, now time.Time) (int, error)

	// MarkStaleAbandoned はcutoff以前に開始されたまま放置されている
	// in_progressの受験をabandonedへ一括遷移させ、遷移件数を返す。
	MarkStaleAbandoned(ctx context.Context, cutoff, now time.Time) (int, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
