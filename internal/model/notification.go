package model

import "time"

// Notification はユーザーへの一方向の通知を表す。
// マッチ検出またはメッセージ受信時に作成され、既読フラグ以外は不変。
//
// 重複排除の不変条件: 任意の (UserID, MatchItemID) の組に対して
// 通知は最大1件しか存在してはならない。マッチスケジューラは挿入前に
// この組の存在チェックを必ず行う。
type Notification struct {
	ID      string
	UserID  string
	Message string
	IsRead  bool

	// マッチ通知の相互参照。メッセージ通知では未設定。
	ItemID      string // 通知対象ユーザー自身のレポート
	MatchItemID string // マッチ相手のレポート
	OtherUserID string // 相手ユーザー

	CreatedAt time.Time
}
