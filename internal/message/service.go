// Package message はユーザー間メッセージのビジネスロジックを提供する。
package message

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusfinder/internal/model"
	"github.com/hitoshi/campusfinder/internal/repository"
	"github.com/hitoshi/campusfinder/internal/security"
)

// Deliverer は受信者への通知配信インターフェース。
type Deliverer interface {
	Deliver(ctx context.Context, notifications []*model.Notification) error
}

// Service はメッセージの送信と会話履歴の取得を提供する。
// メッセージは追記専用で、送信のたびに受信者へ通知が作成される。
type Service struct {
	convRepo  repository.ConversationRepository
	userRepo  repository.UserRepository
	deliverer Deliverer
	sanitizer security.TextSanitizer
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	deliverer Deliverer,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		convRepo:  convRepo,
		userRepo:  userRepo,
		deliverer: deliverer,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Send はメッセージを送信し、受信者へ通知を配信する。
//
// 本文はサニタイズされ、空になった場合は拒否される。
// 通知の配信失敗はメッセージ送信の成功を妨げない。
func (s *Service) Send(ctx context.Context, senderID, receiverID, body string) (*model.Message, error) {
	if senderID == receiverID {
		return nil, model.NewInvalidRequestError("自分自身にはメッセージを送信できません。")
	}

	body = s.sanitizer.Sanitize(body)
	if body == "" {
		return nil, model.NewInvalidRequestError("メッセージ本文は必須です。")
	}

	receiver, err := s.userRepo.FindByID(ctx, receiverID)
	if err != nil {
		return nil, fmt.Errorf("受信者の取得に失敗しました: %w", err)
	}
	if receiver == nil {
		return nil, model.NewUserNotFoundError()
	}

	sender, err := s.userRepo.FindByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("送信者の取得に失敗しました: %w", err)
	}
	if sender == nil {
		return nil, model.NewUserNotFoundError()
	}

	conv, err := s.convRepo.FindOrCreate(ctx, senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("会話の取得に失敗しました: %w", err)
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		CreatedAt:      time.Now(),
	}
	if err := s.convRepo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの保存に失敗しました: %w", err)
	}

	notification := &model.Notification{
		ID:          uuid.NewString(),
		UserID:      receiverID,
		Message:     fmt.Sprintf("New message from %s.", sender.Name),
		OtherUserID: senderID,
	}
	if err := s.deliverer.Deliver(ctx, []*model.Notification{notification}); err != nil {
		// 通知の失敗はメッセージ送信の成功を妨げない
		s.logger.Warn("メッセージ通知の配信に失敗しました",
			slog.String("message_id", msg.ID),
			slog.String("receiver_id", receiverID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("メッセージを送信しました",
		slog.String("message_id", msg.ID),
		slog.String("conversation_id", conv.ID),
		slog.String("sender_id", senderID),
		slog.String("receiver_id", receiverID),
	)
	return msg, nil
}

// ListConversation は2ユーザー間のメッセージを作成日時昇順で返す。
// 会話が存在しない場合は空スライスを返す。
func (s *Service) ListConversation(ctx context.Context, userID, otherUserID string) ([]*model.Message, error) {
	messages, err := s.convRepo.ListMessages(ctx, userID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	return messages, nil
}
