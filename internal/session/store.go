// Package session は現在のサインイン状態を保持・配信するセッションストアを提供する。
// ディレクトリ（IdP連携）を唯一の真実源とし、観測したセッション変更を
// 購読者へ順序どおりに配信する。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/simdojo/internal/model"
)

// Change はディレクトリが観測したセッション状態の変更を表す。
// Userがnilの場合はサインアウト状態を意味する。
type Change struct {
	User *model.User
}

// Directory はセッションストアが依存するIdP連携のポート。
type Directory interface {
	// CurrentSession は現在のセッションのユーザーを取得する。
	// サインインしていない場合は (nil, nil) を返す。
	CurrentSession(ctx context.Context) (*model.User, error)
	// Changes はセッション変更のフィードを返す。
	Changes() <-chan Change
	// SignOut はディレクトリ側のセッションを破棄する。
	SignOut(ctx context.Context) error
}

// Navigator はサインアウト完了後の画面遷移を担うコラボレーター。
type Navigator interface {
	NavigateToSignedOut()
}

// Store は最新のセッションスナップショットを保持し、変更を購読者へ配信する。
//
// 配信は以下を保証する:
//   - 順序: ディレクトリが観測した順のまま配信する。
//   - 非結合: 中間の遷移をスキップしない。サインアウト直後のサインインも
//     2つの独立したイベントとして届く。
//   - 少なくとも1回: 購読開始時点のスナップショットを必ず配信する。
//
// 購読者ごとに無制限キューを持つため、遅い購読者がいても他の購読者の
// 配信や変更の取り込みはブロックされない。
type Store struct {
	dir Directory
	nav Navigator

	mu      sync.Mutex
	current *model.User
	subs    map[*subscriber]struct{}
}

// NewStore はStoreを生成する。navはnil可（遷移を行わない）。
func NewStore(dir Directory, nav Navigator) *Store {
	return &Store{
		dir:  dir,
		nav:  nav,
		subs: make(map[*subscriber]struct{}),
	}
}

// Run はセッションストアを起動する。
// 起動時にディレクトリへ1回だけ現在セッションを問い合わせ（失敗時は
// サインアウト状態として続行）、以後はChangesフィードを消費して
// スナップショットを更新する。ctxのキャンセルで停止する。
func (s *Store) Run(ctx context.Context) {
	user, err := s.dir.CurrentSession(ctx)
	if err != nil {
		// 起動時の取得失敗はサインアウト状態へフェイルオープンする。
		// 本当にサインイン中であれば後続の変更イベントで回復する。
		slog.Warn("initial session fetch failed, starting signed out", slog.Any("error", err))
		user = nil
	}
	s.apply(user)

	changes := s.dir.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			s.apply(change.User)
		}
	}
}

// apply はスナップショットを更新し、全購読者のキューへ遷移を積む。
func (s *Store) apply(user *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = user
	for sub := range s.subs {
		sub.push(user)
	}
}

// Current は最新のセッションスナップショットを返す。
// サインアウト状態（未起動を含む）ではnil。
func (s *Store) Current() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe はセッションスナップショットの購読チャネルを返す。
// 最初に購読時点のスナップショットを配信し、以後すべての遷移を
// 順序どおりに配信する。ctxのキャンセルで購読は解除されチャネルは閉じる。
func (s *Store) Subscribe(ctx context.Context) <-chan *model.User {
	sub := newSubscriber()

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.push(s.current)
	s.mu.Unlock()

	go sub.pump()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.close()
	}()

	return sub.out
}

// SubscribeAuth はサインイン済みかどうかのbool射影を購読する。
// 値が変わらない遷移（サインイン中のユーザー切り替え等）もそのまま配信する。
func (s *Store) SubscribeAuth(ctx context.Context) <-chan bool {
	users := s.Subscribe(ctx)
	out := make(chan bool)
	go func() {
		defer close(out)
		for user := range users {
			select {
			case out <- user != nil:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SignOut はディレクトリのサインアウトを実行し、スナップショットを
// サインアウト状態へ遷移させてからNavigatorを呼び出す。
// 購読者はナビゲーションより先にnil遷移を観測できる。
// ディレクトリ側の破棄が失敗してもローカル状態はサインアウトへ倒す。
func (s *Store) SignOut(ctx context.Context) error {
	err := s.dir.SignOut(ctx)
	if err != nil {
		slog.Error("directory sign-out failed", slog.Any("error", err))
	}

	s.apply(nil)

	if s.nav != nil {
		s.nav.NavigateToSignedOut()
	}
	return err
}

// subscriber は購読者1人分の無制限キューと配信チャネルを持つ。
// pushは決してブロックしないため、遅い購読者は自分のキューに
// 遷移を溜めるだけで、ストア全体を止めない。
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*model.User
	closed bool
	done   chan struct{}
	out    chan *model.User
}

func newSubscriber() *subscriber {
	sub := &subscriber{
		done: make(chan struct{}),
		out:  make(chan *model.User),
	}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

// push は遷移をキュー末尾へ追加する。ブロックしない。
func (sub *subscriber) push(user *model.User) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.queue = append(sub.queue, user)
	sub.cond.Signal()
}

// pump はキューの先頭から順に配信チャネルへ送る。購読解除で終了する。
func (sub *subscriber) pump() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if sub.closed {
			sub.mu.Unlock()
			return
		}
		user := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		// 受信側が先に離脱した場合に送信で固まらないようdoneと選択する。
		select {
		case sub.out <- user:
		case <-sub.done:
			return
		}
	}
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.queue = nil
	close(sub.done)
	sub.cond.Signal()
	sub.mu.Unlock()
}
