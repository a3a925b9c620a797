// Package directory は外部IdP（ディレクトリ）との連携を提供する。
// OAuth認証フロー、セッションの発行・破棄、セッション変更イベントの配信を含む。
package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/simdojo/internal/model"
	"github.com/hitoshi/simdojo/internal/repository"
)

// defaultPlanSlug は初回ログイン時にプロフィールへ設定するプランのslug。
// 以後のプラン変更は課金Webhookのみが行う。
const defaultPlanSlug = "free"

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google", "github" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// SessionEvent はセッション状態の変更を表す。
// Userがnilの場合はサインアウトを意味する。
type SessionEvent struct {
	User *model.User
}

// ServiceConfig はディレクトリサービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service はIdP連携に関するビジネスロジックを提供する。
// ログイン成功・サインアウトのたびにセッション変更イベントを順序どおりに配信する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	planRepo    repository.PlanRepository
	config      ServiceConfig

	// events はEnableEventsで有効化されるセッション変更フィード。
	// 組み込み利用（セッションストア連携）時のみ使用する。
	events chan SessionEvent
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	planRepo repository.PlanRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		planRepo:    planRepo,
		config:      config,
	}
}

// EnableEvents はセッション変更フィードを有効化し、そのチャネルを返す。
// イベントはディレクトリが観測した順に送信され、結合（coalescing）は行わない。
// 呼び出し側（セッションストア）が継続的にドレインすることを前提とする。
func (s *Service) EnableEvents(buffer int) <-chan SessionEvent {
	s.events = make(chan SessionEvent, buffer)
	return s.events
}

// publish はセッション変更イベントをフィードへ送信する。
// フィードが無効の場合は何もしない。
func (s *Service) publish(user *model.User) {
	if s.events == nil {
		return
	}
	s.events <- SessionEvent{User: user}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusers・identities・profilesを同一トランザクションで
// 自動作成する。プロフィールの初期プランはfree。
// 登録済みユーザーの場合はidentitiesテーブルで既存ユーザーを特定しログインする。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var user *model.User

	if identity != nil {
		// 3a. 既存ユーザー: identityからユーザーを取得
		user, err = s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError()
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		// 3b. 新規ユーザー: users・identities・profilesを同時に作成
		user, err = s.provisionUser(ctx, userInfo)
		if err != nil {
			return nil, err
		}
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.publish(user)

	return session, nil
}

// provisionUser は初回ログインのユーザーをプロビジョニングする。
// 初期プランの解決に失敗した場合はユーザーを作成しない。
func (s *Service) provisionUser(ctx context.Context, userInfo *OAuthUserInfo) (*model.User, error) {
	plan, err := s.planRepo.FindBySlug(ctx, defaultPlanSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default plan: %w", err)
	}
	if plan == nil {
		return nil, model.NewPlanNotFoundError(defaultPlanSlug)
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		Role:      model.RoleCandidate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		CreatedAt:      now,
	}
	profile := &model.Profile{
		UserID:    user.ID,
		PlanID:    plan.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.userRepo.CreateWithIdentityAndProfile(ctx, user, identity, profile); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("provider", userInfo.Provider),
		slog.String("plan", defaultPlanSlug),
	)

	return user, nil
}

// Logout はセッションを破棄し、サインアウトイベントを配信する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	s.publish(nil)
	return nil
}

// CurrentUser はセッションIDから現在のユーザーを取得する。
// セッションが無効・期限切れの場合はNOT_AUTHENTICATEDを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewNotAuthenticatedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
