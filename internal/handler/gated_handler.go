package handler

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/hitoshi/simdojo/internal/model"
)

// GatedHandler は機能ゲート配下の付加機能のHTTPハンドラー。
// ルーティング側でNewFeatureGateMiddlewareを通すため、ここに到達した時点で
// プランの機能判定は通過済みとして扱う。
type GatedHandler struct {
	service AttemptServiceInterface
}

// NewGatedHandler はGatedHandlerを生成する。
func NewGatedHandler(service AttemptServiceInterface) *GatedHandler {
	return &GatedHandler{service: service}
}

// certificateResponse は修了証1件のAPIレスポンス。
// 提出完了した受験が修了証の発行単位になる。
type certificateResponse struct {
	AttemptID       string    `json:"attempt_id"`
	SimulationID    string    `json:"simulation_id"`
	SimulationTitle string    `json:"simulation_title"`
	Difficulty      string    `json:"difficulty"`
	CompletedAt     time.Time `json:"completed_at"`
	Score           *int      `json:"score,omitempty"`
}

// rankingEntryResponse はスコアランキング1件のAPIレスポンス。
type rankingEntryResponse struct {
	Rank            int    `json:"rank"`
	AttemptID       string `json:"attempt_id"`
	SimulationTitle string `json:"simulation_title"`
	Score           int    `json:"score"`
}

// ListCertificates は提出完了済みの受験を修了証として一覧で返す。
// GET /api/certificates
func (h *GatedHandler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	attempts, err := h.service.ListForUser(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]certificateResponse, 0, len(attempts))
	for _, a := range attempts {
		if a.Status != model.AttemptStatusCompleted || a.CompletedAt == nil {
			continue
		}
		results = append(results, certificateResponse{
			AttemptID:       a.ID,
			SimulationID:    a.Simulation.ID,
			SimulationTitle: a.Simulation.Title,
			Difficulty:      string(a.Simulation.Difficulty),
			CompletedAt:     *a.CompletedAt,
			Score:           a.Score,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// GetRanking は採点済みの受験をスコア降順のランキングとして返す。
// GET /api/ranking
func (h *GatedHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	attempts, err := h.service.ListForUser(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	scored := make([]rankingEntryResponse, 0, len(attempts))
	for _, a := range attempts {
		if a.Status != model.AttemptStatusCompleted || a.Score == nil {
			continue
		}
		scored = append(scored, rankingEntryResponse{
			AttemptID:       a.ID,
			SimulationTitle: a.Simulation.Title,
			Score:           *a.Score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scored)
}
