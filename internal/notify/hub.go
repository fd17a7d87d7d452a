// Package notify は通知のリアルタイム配信機能を提供する。
// ユーザーごとの購読チャネルを管理するハブと、
// 永続化と配信を組み合わせるシンクを含む。
package notify

import (
	"sync"

	"github.com/hitoshi/campusfinder/internal/model"
)

// subscriptionBuffer は購読チャネルのバッファサイズ。
// 受信側の処理が遅れてもこの件数までは取りこぼさない。
const subscriptionBuffer = 16

// Hub は接続中ユーザーへの通知配信を管理するインプロセスレジストリ。
// ユーザーIDから購読チャネルへのマッピングを保持する。
// 複数のgoroutineから安全に呼び出せる。
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.Notification
}

// NewHub はHubの新しいインスタンスを生成する。
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string][]chan *model.Notification),
	}
}

// Subscribe はユーザーの購読チャネルを登録して返す。
// 返されたチャネルは必ずUnsubscribeで解除すること。
func (h *Hub) Subscribe(userID string) chan *model.Notification {
	ch := make(chan *model.Notification, subscriptionBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[userID] = append(h.subs[userID], ch)

	return ch
}

// Unsubscribe は購読チャネルを解除してクローズする。
// 登録されていないチャネルの解除は何もしない。
func (h *Hub) Unsubscribe(userID string, ch chan *model.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channels := h.subs[userID]
	for i, c := range channels {
		if c == ch {
			h.subs[userID] = append(channels[:i], channels[i+1:]...)
			close(c)
			break
		}
	}
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
}

// PushIfConnected は接続中ユーザーの購読チャネルに通知を配信する。
// 未接続ユーザーへの配信は何もしない（通知は永続化済みのため失われない）。
// チャネルのバッファが満杯の場合はその購読者への配信をスキップする。
// このメソッドがブロックすることはない。
func (h *Hub) PushIfConnected(userID string, notification *model.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[userID] {
		select {
		case ch <- notification:
		default:
			// バッファ満杯: スキップ（永続化済みのため一覧取得で回収できる）
		}
	}
}

// ConnectedCount は接続中の購読チャネル数を返す。
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var count int
	for _, channels := range h.subs {
		count += len(channels)
	}
	return count
}
