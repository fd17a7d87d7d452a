package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusfinder/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// orderedPair は参加者の組を正規化順（a < b）に並べ替える。
func orderedPair(x, y string) (string, string) {
	if x < y {
		return x, y
	}
	return y, x
}

// FindOrCreate は2ユーザー間の会話を取得し、なければ作成する。
// ON CONFLICTにより同時作成の競合があっても1件に収束する。
func (r *PostgresConversationRepo) FindOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	a, b := orderedPair(userA, userB)

	conv := &model.Conversation{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO conversations (id, user_a, user_b, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_a, user_b) DO UPDATE SET user_a = EXCLUDED.user_a
		 RETURNING id, user_a, user_b, created_at`,
		uuid.NewString(), a, b, time.Now(),
	).Scan(&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("会話の取得または作成に失敗しました: %w", err)
	}
	return conv, nil
}

// CreateMessage はメッセージを追記する。
func (r *PostgresConversationRepo) CreateMessage(ctx context.Context, msg *model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Body, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("メッセージの作成に失敗しました: %w", err)
	}
	return nil
}

// ListMessages は2ユーザー間のメッセージを作成日時昇順で返す。
func (r *PostgresConversationRepo) ListMessages(ctx context.Context, userA, userB string) ([]*model.Message, error) {
	a, b := orderedPair(userA, userB)

	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.body, m.created_at
		 FROM messages m
		 INNER JOIN conversations c ON m.conversation_id = c.id
		 WHERE c.user_a = $1 AND c.user_b = $2
		 ORDER BY m.created_at`,
		a, b)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("メッセージの読み取りに失敗しました: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メッセージの走査に失敗しました: %w", err)
	}
	return messages, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
