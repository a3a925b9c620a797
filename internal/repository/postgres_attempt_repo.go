package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/simdojo/internal/model"
)

// attemptColumns は受験行のSELECT句。スキャン順はscanAttemptと一致させること。
const attemptColumns = `id, user_id, simulation_id, status, answers, created_at, started_at, completed_at, duration_seconds, score`

// PostgresAttemptRepo はPostgreSQLを使用した受験リポジトリ。
type PostgresAttemptRepo struct {
	db *sql.DB
}

// NewPostgresAttemptRepo はPostgresAttemptRepoを生成する。
func NewPostgresAttemptRepo(db *sql.DB) *PostgresAttemptRepo {
	return &PostgresAttemptRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAttempt は1行分の受験をスキャンする。
func scanAttempt(row rowScanner) (*model.Attempt, error) {
	attempt := &model.Attempt{}
	var answersJSON []byte
	var completedAt sql.NullTime
	var durationSeconds, score sql.NullInt64

	err := row.Scan(&attempt.ID, &attempt.UserID, &attempt.SimulationID, &attempt.Status,
		&answersJSON, &attempt.CreatedAt, &attempt.StartedAt, &completedAt, &durationSeconds, &score)
	if err != nil {
		return nil, err
	}

	if len(answersJSON) > 0 {
		if err := json.Unmarshal(answersJSON, &attempt.Answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		attempt.CompletedAt = &t
	}
	if durationSeconds.Valid {
		d := int(durationSeconds.Int64)
		attempt.DurationSeconds = &d
	}
	if score.Valid {
		s := int(score.Int64)
		attempt.Score = &s
	}

	return attempt, nil
}

// marshalAnswers は回答列をjsonbに格納するためのバイト列に変換する。
// nilスライスは空配列として格納する。
func marshalAnswers(answers []model.Answer) ([]byte, error) {
	if answers == nil {
		answers = []model.Answer{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answers: %w", err)
	}
	return data, nil
}

// FindByID は指定IDの受験を取得する。見つからない場合はnilを返す。
func (r *PostgresAttemptRepo) FindByID(ctx context.Context, id string) (*model.Attempt, error) {
	attempt, err := scanAttempt(r.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`,
		id,
	))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attempt: %w", err)
	}

	return attempt, nil
}

// countInPeriodQuery は期間内のクォータ消費数を数えるクエリ。
// 半開区間 [start, end): created_at = startの行は含み、created_at = endの行は含まない。
// abandonedはクォータを消費しないため除外する。
const countInPeriodQuery = `
	SELECT COUNT(*)
	FROM attempts
	WHERE user_id = $1
	  AND created_at >= $2
	  AND created_at < $3
	  AND status <> 'abandoned'`

// CountInPeriod は半開区間 [start, end) にcreated_atが含まれる受験数を返す。
func (r *PostgresAttemptRepo) CountInPeriod(ctx context.Context, userID string, start, end time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, countInPeriodQuery, userID, start, end).Scan(&count)
	if err != nil {
		return 0, &model.StoreUnavailableError{Op: "attempts.count_in_period", Err: err}
	}
	return count, nil
}

// Create は受験を無条件に作成する。無制限プランの許可経路で使用する。
func (r *PostgresAttemptRepo) Create(ctx context.Context, attempt *model.Attempt) error {
	answersJSON, err := marshalAnswers(attempt.Answers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO attempts (id, user_id, simulation_id, status, answers, created_at, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID, attempt.UserID, attempt.SimulationID, attempt.Status, answersJSON,
		attempt.CreatedAt, attempt.StartedAt,
	)
	if err != nil {
		return &model.StoreUnavailableError{Op: "attempts.create", Err: err}
	}
	return nil
}

// CreateIfUnderQuota はカウントと作成を単一トランザクション内で実行する。
//
// 同一ユーザーの並行リクエストはどちらも used < limit を観測し得るため、
// ユーザーIDをキーとするpg_advisory_xact_lockを先に取得し、ロック保持中に
// カウントとINSERTを行う。これによりカウントは常に直前のコミット済み状態を
// 反映し、limit-1消費済みのユーザーへの並行admitはちょうど1件だけ成功する。
// ロックのスコープは1ユーザーなので競合は同一ユーザーの多重送信に限られる。
func (r *PostgresAttemptRepo) CreateIfUnderQuota(ctx context.Context, attempt *model.Attempt, limit int, start, end time.Time, allowParallel bool) (bool, int, error) {
	answersJSON, err := marshalAnswers(attempt.Answers)
	if err != nil {
		return false, 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, &model.StoreUnavailableError{Op: "attempts.create_if_under_quota", Err: err}
	}
	defer tx.Rollback()

	// ユーザー単位のアドバイザリロック。トランザクション終了時に自動解放される。
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		attempt.UserID,
	); err != nil {
		return false, 0, &model.StoreUnavailableError{Op: "attempts.advisory_lock", Err: err}
	}

	// 並行受験を許可しない設定の場合、同一演習のin_progressが存在すれば拒否する
	if !allowParallel {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM attempts
				WHERE user_id = $1 AND simulation_id = $2 AND status = 'in_progress'
			)`,
			attempt.UserID, attempt.SimulationID,
		).Scan(&exists)
		if err != nil {
			return false, 0, &model.StoreUnavailableError{Op: "attempts.check_in_progress", Err: err}
		}
		if exists {
			return false, 0, model.NewAttemptInProgressError(attempt.SimulationID)
		}
	}

	// ロック保持中の再カウントが許可判断の正となる
	var used int
	if err := tx.QueryRowContext(ctx, countInPeriodQuery, attempt.UserID, start, end).Scan(&used); err != nil {
		return false, 0, &model.StoreUnavailableError{Op: "attempts.count_in_period", Err: err}
	}

	if used >= limit {
		// 拒否時はINSERTせずにコミットして観測値を返す
		if err := tx.Commit(); err != nil {
			return false, 0, &model.StoreUnavailableError{Op: "attempts.create_if_under_quota", Err: err}
		}
		return false, used, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO attempts (id, user_id, simulation_id, status, answers, created_at, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID, attempt.UserID, attempt.SimulationID, attempt.Status, answersJSON,
		attempt.CreatedAt, attempt.StartedAt,
	)
	if err != nil {
		return false, used, &model.StoreUnavailableError{Op: "attempts.create", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return false, used, &model.StoreUnavailableError{Op: "attempts.create_if_under_quota", Err: err}
	}

	return true, used, nil
}

// UpdateAnswers はin_progressの受験の回答下書きを上書きする。
// 対象がin_progressでない、または所有者が異なる場合はnilを返す。
func (r *PostgresAttemptRepo) UpdateAnswers(ctx context.Context, id, userID string, answers []model.Answer) (*model.Attempt, error) {
	answersJSON, err := marshalAnswers(answers)
	if err != nil {
		return nil, err
	}

	attempt, err := scanAttempt(r.db.QueryRowContext(ctx,
		`UPDATE attempts
		 SET answers = $3
		 WHERE id = $1 AND user_id = $2 AND status = 'in_progress'
		 RETURNING `+attemptColumns,
		id, userID, answersJSON,
	))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreUnavailableError{Op: "attempts.update_answers", Err: err}
	}

	return attempt, nil
}

// TransitionToTerminal はin_progressの受験を終端状態へ遷移させる。
// WHERE句のstatus = 'in_progress'と所有者チェックにより、終端済みの受験と
// 他ユーザーの受験は行が一致せずnilが返る（値は一切変更されない）。
// answersがnilの場合は既存の回答下書きを保持する（timed_out / abandoned用）。
func (r *PostgresAttemptRepo) TransitionToTerminal(ctx context.Context, id, userID string, status model.AttemptStatus, answers []model.Answer, durationSeconds *int, completedAt time.Time) (*model.Attempt, error) {
	var answersJSON interface{}
	if answers != nil {
		data, err := marshalAnswers(answers)
		if err != nil {
			return nil, err
		}
		answersJSON = data
	}

	attempt, err := scanAttempt(r.db.QueryRowContext(ctx,
		`UPDATE attempts
		 SET status = $3, answers = COALESCE($4::jsonb, answers), duration_seconds = $5, completed_at = $6
		 WHERE id = $1 AND user_id = $2 AND status = 'in_progress'
		 RETURNING `+attemptColumns,
		id, userID, status, answersJSON, durationSeconds, completedAt,
	))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreUnavailableError{Op: "attempts.transition", Err: err}
	}

	return attempt, nil
}

// ListByUserWithSimulation はユーザーの受験一覧を演習プロジェクション付きで
// created_at降順で返す。
func (r *PostgresAttemptRepo) ListByUserWithSimulation(ctx context.Context, userID string) ([]model.AttemptWithSimulation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.user_id, a.simulation_id, a.status, a.answers, a.created_at, a.started_at,
		        a.completed_at, a.duration_seconds, a.score,
		        s.id, s.title, s.difficulty, s.technology_id
		 FROM attempts a
		 JOIN simulations s ON s.id = a.simulation_id
		 WHERE a.user_id = $1
		 ORDER BY a.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var results []model.AttemptWithSimulation
	for rows.Next() {
		var item model.AttemptWithSimulation
		var answersJSON []byte
		var completedAt sql.NullTime
		var durationSeconds, score sql.NullInt64

		err := rows.Scan(&item.ID, &item.UserID, &item.SimulationID, &item.Status,
			&answersJSON, &item.CreatedAt, &item.StartedAt, &completedAt, &durationSeconds, &score,
			&item.Simulation.ID, &item.Simulation.Title, &item.Simulation.Difficulty, &item.Simulation.TechnologyID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		if len(answersJSON) > 0 {
			if err := json.Unmarshal(answersJSON, &item.Answers); err != nil {
				return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
			}
		}
		if completedAt.Valid {
			t := completedAt.Time
			item.CompletedAt = &t
		}
		if durationSeconds.Valid {
			d := int(durationSeconds.Int64)
			item.DurationSeconds = &d
		}
		if score.Valid {
			s := int(score.Int64)
			item.Score = &s
		}

		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}

	return results, nil
}

// MarkOverdueTimedOut は制限時間+猶予を超過したin_progressの受験を
// timed_outへ一括遷移させる。期限は演習ごとのduration_minutesから算出する。
func (r *PostgresAttemptRepo) MarkOverdueTimedOut(ctx context.Context, grace time.Duration, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE attempts a
		 SET status = 'timed_out', completed_at = $1
		 FROM simulations s
		 WHERE s.id = a.simulation_id
		   AND a.status = 'in_progress'
		   AND a.started_at + (s.duration_minutes * interval '1 minute') + $2 * interval '1 second' < $1`,
		now, int64(grace.Seconds()),
	)
	if err != nil {
		return 0, &model.StoreUnavailableError{Op: "attempts.mark_overdue_timed_out", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, &model.StoreUnavailableError{Op: "attempts.mark_overdue_timed_out", Err: err}
	}
	return int(affected), nil
}

// MarkStaleAbandoned は放置されたin_progressの受験をabandonedへ一括遷移させる。
func (r *PostgresAttemptRepo) MarkStaleAbandoned(ctx context.Context, cutoff, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE attempts
		 SET status = 'abandoned', completed_at = $2
		 WHERE status = 'in_progress'
		   AND started_at < $1`,
		cutoff, now,
	)
	if err != nil {
		return 0, &model.StoreUnavailableError{Op: "attempts.mark_stale_abandoned", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, &model.StoreUnavailableError{Op: "attempts.mark_stale_abandoned", Err: err}
	}
	return int(affected), nil
}

// compile-time interface check
var _ AttemptRepository = (*PostgresAttemptRepo)(nil)
var _ DeadlineRepository = (*PostgresAttemptRepo)(nil)
