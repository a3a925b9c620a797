package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/simdojo/internal/middleware"
	"github.com/hitoshi/simdojo/internal/model"
)

// SimulationFinderInterface は演習ハンドラーが必要とする読み取りインターフェース。
// repository.SimulationRepositoryが実装する。
type SimulationFinderInterface interface {
	// FindByID は指定IDの演習を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Simulation, error)
	// List は全演習をタイトル昇順で返す。
	List(ctx context.Context) ([]*model.Simulation, error)
}

// SimulationHandler は演習カタログのHTTPハンドラー。
type SimulationHandler struct {
	finder SimulationFinderInterface
}

// NewSimulationHandler はSimulationHandlerを生成する。
func NewSimulationHandler(finder SimulationFinderInterface) *SimulationHandler {
	return &SimulationHandler{finder: finder}
}

// simulationResponse は演習情報のAPIレスポンス。
type simulationResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Difficulty      string `json:"difficulty"`
	TechnologyID    string `json:"technology_id"`
	DurationMinutes int    `json:"duration_minutes"`
	QuestionCount   int    `json:"question_count"`
}

// ListSimulations は演習一覧を取得する。
// GET /api/simulations
func (h *SimulationHandler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	sims, err := h.finder.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]simulationResponse, len(sims))
	for i, sim := range sims {
		results[i] = toSimulationResponse(sim)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// GetSimulation は演習詳細を取得する。
// GET /api/simulations/:id
func (h *SimulationHandler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	simulationID := chi.URLParam(r, "id")

	sim, err := h.finder.FindByID(r.Context(), simulationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if sim == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSimulationNotFoundError(simulationID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSimulationResponse(sim))
}

// toSimulationResponse はmodel.SimulationからAPIレスポンスに変換する。
func toSimulationResponse(sim *model.Simulation) simulationResponse {
	return simulationResponse{
		ID:              sim.ID,
		Title:           sim.Title,
		Description:     sim.Description,
		Difficulty:      string(sim.Difficulty),
		TechnologyID:    sim.TechnologyID,
		DurationMinutes: sim.DurationMinutes,
		QuestionCount:   sim.QuestionCount,
	}
}
