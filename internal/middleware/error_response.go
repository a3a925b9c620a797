package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/simdojo/internal/access"
	"github.com/hitoshi/simdojo/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。Detailsはクォータ超過時の消費数など
// UIの導線表示に必要な構造化フィールドを運ぶ。
type ErrorResponseBody struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Category string                 `json:"category"`
	Action   string                 `json:"action"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteQuotaExceededResponse はクォータ超過の統一レスポンスを書き込む。
// 消費数・上限・プラン名をdetailsに含め、UIのアップグレード導線表示に使う。
func WriteQuotaExceededResponse(w http.ResponseWriter, quotaErr *model.QuotaExceededError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     model.ErrCodeQuotaExceeded,
		Message:  quotaErr.Error(),
		Category: "quota",
		Action:   "プランをアップグレードするか、翌月のリセットをお待ちください。",
		Details: map[string]interface{}{
			"used":      quotaErr.Used,
			"limit":     quotaErr.Limit,
			"plan_name": quotaErr.PlanName,
		},
	})
}

// WriteFeatureGateDenied は機能ゲートの拒否レスポンスを書き込む。
// 誘導先をdetailsに含める。
func WriteFeatureGateDenied(w http.ResponseWriter, decision access.Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "FEATURE_NOT_AVAILABLE",
		Message:  "この機能は現在のプランではご利用いただけません。",
		Category: "entitlement",
		Action:   "プランをアップグレードしてください。",
		Details: map[string]interface{}{
			"reason":          decision.Reason,
			"redirect_target": decision.RedirectTarget,
		},
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
