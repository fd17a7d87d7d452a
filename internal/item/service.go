// Package item は遺失物/拾得物レポートのビジネスロジックを提供する。
package item

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusfinder/internal/ai"
	"github.com/hitoshi/campusfinder/internal/model"
	"github.com/hitoshi/campusfinder/internal/security"
)

// ItemStore はServiceが必要とするレポート永続化操作。
type ItemStore interface {
	FindByID(ctx context.Context, id string) (*model.Item, error)
	Create(ctx context.Context, item *model.Item) error
	ListActive(ctx context.Context) ([]*model.Item, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Item, error)
	UpdateStatus(ctx context.Context, itemID string, status model.ItemStatus) error
}

// Service はレポートの作成・一覧・状態更新を提供する。
type Service struct {
	itemRepo  ItemStore
	embedder  ai.EmbeddingGenerator // nilの場合は同期埋め込みをスキップ
	fetcher   security.ImageFetcher
	sanitizer security.TextSanitizer
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// embedderがnilの場合、作成時の同期埋め込みは行われず、
// レポートはpendingのままワーカーに委ねられる。
func NewService(
	itemRepo ItemStore,
	embedder ai.EmbeddingGenerator,
	fetcher security.ImageFetcher,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		itemRepo:  itemRepo,
		embedder:  embedder,
		fetcher:   fetcher,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// CreateInput はレポート作成のリクエスト内容。
type CreateInput struct {
	ItemType      model.ItemType
	Category      string
	Color         string
	Description   string
	Longitude     *float64
	Latitude      *float64
	ImageURL      string
	ImagePublicID string
}

// Create は新しいレポートを作成する。
//
// ユーザー由来のテキストはすべてサニタイズされ、画像URLは
// SSRF検証を通過しなければならない。画像がある場合は
// ベストエフォートで同期的に埋め込みを試行し、失敗しても
// レポート作成は成功する（埋め込みはpendingのままワーカーが再試行する）。
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*model.Item, error) {
	if !input.ItemType.IsValid() {
		return nil, model.NewInvalidItemTypeError(string(input.ItemType))
	}

	category := s.sanitizer.Sanitize(input.Category)
	description := s.sanitizer.Sanitize(input.Description)
	color := s.sanitizer.Sanitize(input.Color)

	if category == "" {
		return nil, model.NewInvalidRequestError("カテゴリは必須です。")
	}
	if description == "" {
		return nil, model.NewInvalidRequestError("説明は必須です。")
	}

	if input.ImageURL != "" {
		if err := s.fetcher.ValidateImageURL(input.ImageURL); err != nil {
			s.logger.Warn("画像URLの検証に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return nil, model.NewSSRFBlockedError()
		}
	}

	now := time.Now()
	item := &model.Item{
		ID:              uuid.NewString(),
		UserID:          userID,
		ItemType:        input.ItemType,
		Category:        category,
		Color:           color,
		Description:     description,
		Longitude:       input.Longitude,
		Latitude:        input.Latitude,
		Status:          model.ItemStatusActive,
		ImageURL:        input.ImageURL,
		ImagePublicID:   input.ImagePublicID,
		EmbeddingStatus: model.EmbeddingStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// 画像がある場合はベストエフォートで同期埋め込みを試行する。
	// 失敗はレポート作成を妨げない。
	if s.embedder != nil && item.ImageURL != "" {
		embedding, err := s.embedder.ComputeEmbedding(ctx, item.ImageURL)
		if err != nil {
			s.logger.Warn("作成時の同期埋め込みに失敗しました。ワーカーに委ねます",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
		} else if len(embedding) > 0 {
			item.ImageEmbedding = embedding
			item.EmbeddingStatus = model.EmbeddingStatusSuccess
		}
	}

	if err := s.itemRepo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("レポートの作成に失敗しました: %w", err)
	}

	s.logger.Info("レポートを作成しました",
		slog.String("item_id", item.ID),
		slog.String("user_id", userID),
		slog.String("item_type", string(item.ItemType)),
		slog.String("embedding_status", string(item.EmbeddingStatus)),
	)
	return item, nil
}

// ListActive はアクティブなレポートを作成日時降順で返す。
func (s *Service) ListActive(ctx context.Context) ([]*model.Item, error) {
	items, err := s.itemRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("レポート一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// ListByUser は指定ユーザーのレポートを作成日時降順で返す。
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*model.Item, error) {
	items, err := s.itemRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("レポート一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// MarkReunited はレポートを解決済みにする。
//
// 所有者のみが実行でき、active → reunited の遷移は1回のみ。
// 既にreunitedのレポートへの再実行はエラーとなる。
func (s *Service) MarkReunited(ctx context.Context, userID, itemID string) (*model.Item, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("レポートの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	if item.UserID != userID {
		return nil, model.NewItemNotOwnedError()
	}
	if item.Status == model.ItemStatusReunited {
		return nil, model.NewItemAlreadyReunitedError()
	}

	if err := s.itemRepo.UpdateStatus(ctx, itemID, model.ItemStatusReunited); err != nil {
		return nil, fmt.Errorf("レポート状態の更新に失敗しました: %w", err)
	}

	item.Status = model.ItemStatusReunited
	s.logger.Info("レポートを解決済みにしました",
		slog.String("item_id", itemID),
		slog.String("user_id", userID),
	)
	return item, nil
}
