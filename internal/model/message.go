package model

import "time"

// Conversation は2ユーザー間の会話を表す。
// 参加者の組は正規化順（UserA < UserB）で保存され、組ごとに1件のみ存在する。
type Conversation struct {
	ID        string
	UserA     string
	UserB     string
	CreatedAt time.Time
}

// Message は会話内の1メッセージを表す。追記専用。
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Body           string
	CreatedAt      time.Time
}
