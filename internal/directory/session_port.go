package directory

import (
	"context"
	"errors"

	"github.com/hitoshi/simdojo/internal/model"
	"github.com/hitoshi/simdojo/internal/session"
)

// SessionPort はServiceをsession.Directoryポートへ適合させる。
// 単一プリンシパルの組み込み利用（ワーカー・検証ツール等）で、
// セッションストアにこのディレクトリ実装を接続するために使う。
type SessionPort struct {
	svc       *Service
	sessionID func() string
	changes   chan session.Change
}

var _ session.Directory = (*SessionPort)(nil)

// NewSessionPort はSessionPortを生成する。
// sessionIDは現在のセッションID（セッションCookie値）を返す関数。
// Serviceのイベントフィードを有効化し、session.Changeへ変換して中継する。
func NewSessionPort(svc *Service, sessionID func() string, buffer int) *SessionPort {
	events := svc.EnableEvents(buffer)
	changes := make(chan session.Change, buffer)
	go func() {
		defer close(changes)
		for ev := range events {
			changes <- session.Change{User: ev.User}
		}
	}()
	return &SessionPort{svc: svc, sessionID: sessionID, changes: changes}
}

// CurrentSession は現在のセッションのユーザーを返す。
// セッション未設定・無効はサインアウト状態として (nil, nil) に写す。
func (p *SessionPort) CurrentSession(ctx context.Context) (*model.User, error) {
	id := p.sessionID()
	if id == "" {
		return nil, nil
	}
	user, err := p.svc.CurrentUser(ctx, id)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeNotAuthenticated {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// Changes はセッション変更フィードを返す。
func (p *SessionPort) Changes() <-chan session.Change {
	return p.changes
}

// SignOut は現在のセッションを破棄する。
func (p *SessionPort) SignOut(ctx context.Context) error {
	id := p.sessionID()
	if id == "" {
		return nil
	}
	return p.svc.Logout(ctx, id)
}
