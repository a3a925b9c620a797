// Package model はドメインモデルを定義する。
package model

import "time"

// Difficulty は模擬演習の難易度を表す。
type Difficulty string

const (
	// DifficultyBeginner は初級。
	DifficultyBeginner Difficulty = "beginner"
	// DifficultyIntermediate は中級。
	DifficultyIntermediate Difficulty = "intermediate"
	// DifficultyAdvanced は上級。
	DifficultyAdvanced Difficulty = "advanced"
)

// Simulation は技術スキルの模擬演習を表す。
type Simulation struct {
	ID              string
	Title           string
	Description     string
	Difficulty      Difficulty
	TechnologyID    string
	DurationMinutes int
	QuestionCount   int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SimulationSummary は一覧表示用の軽量な演習プロジェクション。
type SimulationSummary struct {
	ID           string
	Title        string
	Difficulty   Difficulty
	TechnologyID string
}

// Summary は演習の軽量プロジェクションを返す。
func (s *Simulation) Summary() SimulationSummary {
	return SimulationSummary{
		ID:           s.ID,
		Title:        s.Title,
		Difficulty:   s.Difficulty,
		TechnologyID: s.TechnologyID,
	}
}
