// Package scoring は外部スコアリングサービスとの連携を提供する。
// 提出後のユーザー統計再計算の依頼を含む。
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// defaultCallTimeout は1回の再計算呼び出しのタイムアウト。
const defaultCallTimeout = 10 * time.Second

// recalculateRequest は再計算RPCのリクエストボディ。
type recalculateRequest struct {
	Procedure string `json:"procedure"`
	UserID    string `json:"user_id"`
}

// Client は外部スコアリングサービスのクライアント。
// 統計の再計算は副作用的な後処理であり、失敗しても提出は成立する。
// そのためRecalculateUserStatsは結果を返さず、失敗はログにのみ残す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	timeout    time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはsecurity.EgressGuardServiceが生成したクライアントを渡す。
// endpointが空の場合、呼び出しはすべてスキップされる（ローカル開発向け）。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		timeout:    timeout,
	}
}

// RecalculateUserStats はユーザー統計の再計算を非同期に依頼する。
// 呼び出し元（提出処理）はブロックされず、失敗の通知も受けない。
func (c *Client) RecalculateUserStats(userID string) {
	if c.endpoint == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.call(ctx, userID); err != nil {
			c.logger.Error("スコア再計算の依頼に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// call は再計算RPCを1回呼び出す。
func (c *Client) call(ctx context.Context, userID string) error {
	body, err := json.Marshal(recalculateRequest{
		Procedure: "recalculate_user_stats",
		UserID:    userID,
	})
	if err != nil {
		return fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Simdojo/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		// コネクション再利用のためボディを読み捨てる
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("スコアリングサービスがエラーを返しました: status=%d", resp.StatusCode)
	}

	c.logger.Debug("スコア再計算を依頼しました", slog.String("user_id", userID))
	return nil
}
