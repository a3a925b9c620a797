package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/simdojo/internal/access"
	"github.com/hitoshi/simdojo/internal/model"
)

// GateEvaluator はアクセス判定のポート。access.Evaluatorの部分集合。
type GateEvaluator interface {
	Evaluate(ctx context.Context, user *model.User) access.Decision
}

// NewFeatureGateMiddleware は機能ゲート付きルートのミドルウェアを返す。
// SessionMiddlewareの後に配置すること。判定が拒否の場合は403と
// 誘導先を返し、ハンドラーには到達させない。
// 判定器がエラーを返すことはなく、解決不能時は安全側（拒否）へ倒れる。
func NewFeatureGateMiddleware(evaluator GateEvaluator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var user *model.User
			if userID, err := UserIDFromContext(r.Context()); err == nil {
				user = &model.User{ID: userID}
			}

			decision := evaluator.Evaluate(r.Context(), user)
			if !decision.Allowed {
				slog.Info("feature gate denied",
					slog.String("path", r.URL.Path),
					slog.String("reason", decision.Reason),
				)
				WriteFeatureGateDenied(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
