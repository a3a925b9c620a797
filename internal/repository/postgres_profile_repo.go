package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/simdojo/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	profile := &model.Profile{}
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, plan_id, plan_expires_at, created_at, updated_at
		 FROM profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&profile.UserID, &profile.PlanID, &expiresAt, &profile.CreatedAt, &profile.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		profile.PlanExpiresAt = &t
	}

	return profile, nil
}

// UpdatePlan はプロフィールのプランIDと有効期限を更新する。
// 対象行がない場合はエラーを返す（部分書き込みを握りつぶさない）。
func (r *PostgresProfileRepo) UpdatePlan(ctx context.Context, userID, planID string, planExpiresAt *time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET plan_id = $2, plan_expires_at = $3, updated_at = now()
		 WHERE user_id = $1`,
		userID, planID, planExpiresAt,
	)
	if err != nil {
		return &model.StoreUnavailableError{Op: "profiles.update_plan", Err: err}
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewProfileNotFoundError(userID)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
