package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/simdojo/internal/middleware"
	"github.com/hitoshi/simdojo/internal/model"
)

// AdmissionInterface は受験開始ハンドラーが必要とする入場判定インターフェース。
// admission.Gateが実装する。
type AdmissionInterface interface {
	// Admit はクォータ判定を行い、許可された場合のみ受験を作成する。
	Admit(ctx context.Context, user *model.User, simulationID string) (*model.Attempt, error)
}

// AttemptServiceInterface は受験ハンドラーが必要とするライフサイクルサービスインターフェース。
// attempt.Serviceが実装する。
type AttemptServiceInterface interface {
	// Submit は受験を提出しcompletedへ遷移させる。
	Submit(ctx context.Context, user *model.User, attemptID string, answers []model.Answer, durationSeconds int) (*model.Attempt, error)
	// SaveAnswers はin_progressの受験の回答下書きを保存する。
	SaveAnswers(ctx context.Context, user *model.User, attemptID string, answers []model.Answer) (*model.Attempt, error)
	// Abandon は受験を放棄しabandonedへ遷移させる。
	Abandon(ctx context.Context, user *model.User, attemptID string) (*model.Attempt, error)
	// Get は所有する受験を1件取得する。
	Get(ctx context.Context, user *model.User, attemptID string) (*model.Attempt, error)
	// ListForUser はユーザーの受験履歴を新しい順に返す。
	ListForUser(ctx context.Context, user *model.User) ([]model.AttemptWithSimulation, error)
}

// AttemptHandler は受験管理のHTTPハンドラー。
type AttemptHandler struct {
	gate    AdmissionInterface
	service AttemptServiceInterface
}

// NewAttemptHandler はAttemptHandlerを生成する。
func NewAttemptHandler(gate AdmissionInterface, service AttemptServiceInterface) *AttemptHandler {
	return &AttemptHandler{
		gate:    gate,
		service: service,
	}
}

// startAttemptRequest は受験開始リクエストのボディ。
type startAttemptRequest struct {
	SimulationID string `json:"simulation_id"`
}

// answerRequest は回答1件のリクエスト表現。
type answerRequest struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

// saveAnswersRequest は回答下書き保存リクエストのボディ。
type saveAnswersRequest struct {
	Answers []answerRequest `json:"answers"`
}

// submitAttemptRequest は提出リクエストのボディ。
type submitAttemptRequest struct {
	Answers         []answerRequest `json:"answers"`
	DurationSeconds int             `json:"duration_seconds"`
}

// attemptResponse は受験情報のAPIレスポンス。
type attemptResponse struct {
	ID              string         `json:"id"`
	SimulationID    string         `json:"simulation_id"`
	Status          string         `json:"status"`
	Answers         []model.Answer `json:"answers"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	Score           *int           `json:"score,omitempty"`
}

// attemptListItemResponse は受験一覧のAPIレスポンス（演習プロジェクション付き）。
type attemptListItemResponse struct {
	attemptResponse
	Simulation simulationSummaryResponse `json:"simulation"`
}

// simulationSummaryResponse は一覧表示用の演習プロジェクション。
type simulationSummaryResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Difficulty   string `json:"difficulty"`
	TechnologyID string `json:"technology_id"`
}

// StartAttempt は受験開始（入場判定）を処理する。
// POST /api/attempts
func (h *AttemptHandler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req startAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.SimulationID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "simulation_idが指定されていません。",
			Category: "validation",
			Action:   "開始する演習を指定してください。",
		})
		return
	}

	attempt, err := h.gate.Admit(r.Context(), user, req.SimulationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toAttemptResponse(attempt))
}

// ListAttempts はユーザーの受験履歴を取得する。
// GET /api/attempts
func (h *AttemptHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	attempts, err := h.service.ListForUser(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]attemptListItemResponse, len(attempts))
	for i, a := range attempts {
		results[i] = attemptListItemResponse{
			attemptResponse: toAttemptResponse(&a.Attempt),
			Simulation: simulationSummaryResponse{
				ID:           a.Simulation.ID,
				Title:        a.Simulation.Title,
				Difficulty:   string(a.Simulation.Difficulty),
				TechnologyID: a.Simulation.TechnologyID,
			},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// GetAttempt は受験詳細を取得する。
// GET /api/attempts/:id
func (h *AttemptHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	attempt, err := h.service.Get(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toAttemptResponse(attempt))
}

// SaveAnswers は回答下書きを保存する。
// POST /api/attempts/:id/answers
func (h *AttemptHandler) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req saveAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	attempt, err := h.service.SaveAnswers(r.Context(), user, chi.URLParam(r, "id"), toAnswers(req.Answers))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toAttemptResponse(attempt))
}

// Submit は受験を提出する。
// POST /api/attempts/:id/submit
func (h *AttemptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req submitAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.DurationSeconds < 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "duration_secondsが負の値です。",
			Category: "validation",
			Action:   "経過秒数を正しく指定してください。",
		})
		return
	}

	attempt, err := h.service.Submit(r.Context(), user, chi.URLParam(r, "id"), toAnswers(req.Answers), req.DurationSeconds)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toAttemptResponse(attempt))
}

// Abandon は受験を放棄する。
// POST /api/attempts/:id/abandon
func (h *AttemptHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	attempt, err := h.service.Abandon(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toAttemptResponse(attempt))
}

// --- ヘルパー関数 ---

// requireUser はリクエストコンテキストから認証済みユーザーを取り出す。
// 未認証の場合は401を書き込みfalseを返す。
func requireUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return nil, false
	}
	return &model.User{ID: userID}, true
}

// writeInvalidRequestBody はリクエストボディの解析失敗レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// toAnswers はリクエスト表現からドメインの回答列に変換する。
func toAnswers(reqs []answerRequest) []model.Answer {
	answers := make([]model.Answer, len(reqs))
	for i, a := range reqs {
		answers[i] = model.Answer{QuestionID: a.QuestionID, Value: a.Value}
	}
	return answers
}

// toAttemptResponse はmodel.AttemptからAPIレスポンスに変換する。
func toAttemptResponse(attempt *model.Attempt) attemptResponse {
	answers := attempt.Answers
	if answers == nil {
		answers = []model.Answer{}
	}
	return attemptResponse{
		ID:              attempt.ID,
		SimulationID:    attempt.SimulationID,
		Status:          string(attempt.Status),
		Answers:         answers,
		StartedAt:       attempt.StartedAt,
		CompletedAt:     attempt.CompletedAt,
		DurationSeconds: attempt.DurationSeconds,
		Score:           attempt.Score,
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// クォータ超過と遷移拒否は構造化フィールドを持つ専用型なので先に判定する。
func handleServiceError(w http.ResponseWriter, err error) {
	var quotaErr *model.QuotaExceededError
	if errors.As(err, &quotaErr) {
		middleware.WriteQuotaExceededResponse(w, quotaErr)
		return
	}

	var transitionErr *model.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		middleware.WriteErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeInvalidTransition,
			Message:  "この受験はすでに終了しているため変更できません。",
			Category: "attempt",
			Action:   "受験履歴から最新の状態を確認してください。",
		})
		return
	}

	var storeErr *model.StoreUnavailableError
	if errors.As(err, &storeErr) {
		slog.Error("store unavailable", slog.String("op", storeErr.Op), slog.String("error", storeErr.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     model.ErrCodeStoreUnavailable,
			Message:  "データストアに接続できません。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeAttemptNotFound, model.ErrCodeSimulationNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeProfileNotFound:
		return http.StatusForbidden
	case model.ErrCodeAttemptInProgress:
		return http.StatusConflict
	case model.ErrCodeTooManyAnswers:
		return http.StatusBadRequest
	case model.ErrCodePlanNotFound:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
