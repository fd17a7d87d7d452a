// Package notification は通知の参照・既読化のビジネスロジックを提供する。
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/campusfinder/internal/model"
	"github.com/hitoshi/campusfinder/internal/repository"
)

// Service はユーザー通知の一覧取得と既読化を提供する。
type Service struct {
	repo   repository.NotificationRepository
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.NotificationRepository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// ListByUser はユーザーの通知を作成日時降順で返す。
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*model.Notification, error) {
	notifications, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	return notifications, nil
}

// MarkRead は通知を既読にする。
// 他ユーザーの通知や存在しない通知はエラーとなる。
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	updated, err := s.repo.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}
	if !updated {
		return model.NewNotificationNotFoundError(notificationID)
	}
	return nil
}
