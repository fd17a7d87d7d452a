package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/campusfinder/internal/model"
	"github.com/hitoshi/campusfinder/internal/repository"
)

// Pusher は接続中ユーザーへの通知配信のインターフェース。
// テスト時にモックに差し替え可能。
type Pusher interface {
	PushIfConnected(userID string, notification *model.Notification)
}

// Sink は通知の永続化とリアルタイム配信を組み合わせる。
// 永続化が成功した通知のみが配信される。
type Sink struct {
	repo   repository.NotificationRepository
	pusher Pusher
	logger *slog.Logger
}

// NewSink はSinkの新しいインスタンスを生成する。
func NewSink(repo repository.NotificationRepository, pusher Pusher, logger *slog.Logger) *Sink {
	return &Sink{
		repo:   repo,
		pusher: pusher,
		logger: logger,
	}
}

// Deliver は通知を永続化し、接続中の受信者に配信する。
// 永続化に失敗した場合は配信を行わずエラーを返す。
func (s *Sink) Deliver(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	if err := s.repo.InsertMany(ctx, notifications); err != nil {
		return fmt.Errorf("通知の保存に失敗しました: %w", err)
	}

	for _, n := range notifications {
		s.pusher.PushIfConnected(n.UserID, n)
	}

	s.logger.Info("通知を配信しました",
		slog.Int("count", len(notifications)),
	)

	return nil
}
