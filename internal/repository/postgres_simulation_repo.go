package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/simdojo/internal/model"
)

// PostgresSimulationRepo はPostgreSQLを使用した演習リポジトリ。
type PostgresSimulationRepo struct {
	db *sql.DB
}

// NewPostgresSimulationRepo はPostgresSimulationRepoを生成する。
func NewPostgresSimulationRepo(db *sql.DB) *PostgresSimulationRepo {
	return &PostgresSimulationRepo{db: db}
}

// FindByID は指定IDの演習を取得する。見つからない場合はnilを返す。
func (r *PostgresSimulationRepo) FindByID(ctx context.Context, id string) (*model.Simulation, error) {
	sim := &model.Simulation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, description, difficulty, technology_id, duration_minutes, question_count, created_at, updated_at
		 FROM simulations
		 WHERE id = $1`,
		id,
	).Scan(&sim.ID, &sim.Title, &sim.Description, &sim.Difficulty, &sim.TechnologyID,
		&sim.DurationMinutes, &sim.QuestionCount, &sim.CreatedAt, &sim.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find simulation: %w", err)
	}

	return sim, nil
}

// List は全演習をタイトル昇順で返す。
func (r *PostgresSimulationRepo) List(ctx context.Context) ([]*model.Simulation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, description, difficulty, technology_id, duration_minutes, question_count, created_at, updated_at
		 FROM simulations
		 ORDER BY title`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list simulations: %w", err)
	}
	defer rows.Close()

	var sims []*model.Simulation
	for rows.Next() {
		sim := &model.Simulation{}
		if err := rows.Scan(&sim.ID, &sim.Title, &sim.Description, &sim.Difficulty, &sim.TechnologyID,
			&sim.DurationMinutes, &sim.QuestionCount, &sim.CreatedAt, &sim.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan simulation: %w", err)
		}
		sims = append(sims, sim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate simulations: %w", err)
	}

	return sims, nil
}

// compile-time interface check
var _ SimulationRepository = (*PostgresSimulationRepo)(nil)
