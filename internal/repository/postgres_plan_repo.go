package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/simdojo/internal/model"
)

// PostgresPlanRepo はPostgreSQLを使用したプランリポジトリ。
// プラン行は外部の課金プロセスが管理するリファレンスデータで、読み取り専用。
type PostgresPlanRepo struct {
	db *sql.DB
}

// NewPostgresPlanRepo はPostgresPlanRepoを生成する。
func NewPostgresPlanRepo(db *sql.DB) *PostgresPlanRepo {
	return &PostgresPlanRepo{db: db}
}

// FindByID は指定IDのプランを取得する。見つからない場合はnilを返す。
func (r *PostgresPlanRepo) FindByID(ctx context.Context, id string) (*model.Plan, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, slug, monthly_quota, created_at FROM plans WHERE id = $1`,
		id,
	))
}

// FindBySlug は指定slugのプランを取得する。見つからない場合はnilを返す。
func (r *PostgresPlanRepo) FindBySlug(ctx context.Context, slug string) (*model.Plan, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, slug, monthly_quota, created_at FROM plans WHERE slug = $1`,
		slug,
	))
}

// List は全プランをslug昇順で返す。
func (r *PostgresPlanRepo) List(ctx context.Context) ([]*model.Plan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, slug, monthly_quota, created_at FROM plans ORDER BY slug`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*model.Plan
	for rows.Next() {
		plan := &model.Plan{}
		var quota sql.NullInt64
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.Slug, &quota, &plan.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		if quota.Valid {
			q := int(quota.Int64)
			plan.MonthlyQuota = &q
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}

	return plans, nil
}

// scanOne は単一行のプランをスキャンする。sql.ErrNoRowsはnilに変換する。
func (r *PostgresPlanRepo) scanOne(row *sql.Row) (*model.Plan, error) {
	plan := &model.Plan{}
	var quota sql.NullInt64
	err := row.Scan(&plan.ID, &plan.Name, &plan.Slug, &quota, &plan.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}

	// monthly_quotaのNULLは無制限を意味する
	if quota.Valid {
		q := int(quota.Int64)
		plan.MonthlyQuota = &q
	}

	return plan, nil
}

// compile-time interface check
var _ PlanRepository = (*PostgresPlanRepo)(nil)
