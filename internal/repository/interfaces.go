// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/campusfinder/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// ItemRepository はレポートデータの永続化インターフェース。
// 埋め込みパイプラインのクレーム操作とマッチングの近傍検索を含む。
type ItemRepository interface {
	// FindByID は指定IDのレポートを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// Create はレポートを作成する。
	Create(ctx context.Context, item *model.Item) error

	// ListActive はアクティブなレポートを作成日時降順で返す。
	ListActive(ctx context.Context) ([]*model.Item, error)

	// ListByUser はユーザーのレポートを作成日時降順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Item, error)

	// UpdateStatus はレポートの状態を更新する。
	UpdateStatus(ctx context.Context, itemID string, status model.ItemStatus) error

	// ClaimNextForEmbedding は埋め込み処理対象のレポートを1件アトミックにクレームする。
	// 適格性述語（最低経過時間、画像あり、非空の埋め込みなし、
	// embedding_statusがpending/failed、next_embed_retry_at未設定または経過済み）に
	// 合致する最古のレポートをembedding_status=processingに遷移させ、
	// 更新後のレポートを返す。適格なレポートがない場合はnilを返す。
	//
	// 条件一致と更新は単一の条件付きUPDATEで行われる（compare-and-set）。
	// これにより複数のスケジューラインスタンスが並行していても
	// 同一レポートの二重処理は起こらない。
	ClaimNextForEmbedding(ctx context.Context, minAge time.Duration) (*model.Item, error)

	// UpdateEmbeddingSuccess は埋め込みベクトルを保存し、
	// embedding_status=successに遷移させ、next_embed_retry_atをクリアする。
	UpdateEmbeddingSuccess(ctx context.Context, itemID string, embedding []float64) error

	// UpdateEmbeddingFailure は失敗を記録する。
	// embedding_attemptsをattemptsに更新し、embedding_status=failed、
	// next_embed_retry_at=retryAtを設定する。
	UpdateEmbeddingFailure(ctx context.Context, itemID string, attempts int, retryAt time.Time) error

	// ListRecentActive は指定時刻以降に作成されたアクティブなレポートを返す。
	// マッチスケジューラの候補集合の起点。
	ListRecentActive(ctx context.Context, since time.Time) ([]*model.Item, error)

	// FindNear は指定地点から半径maxDistanceメートル以内にある、
	// 指定種別のアクティブなレポートを返す。
	// 位置情報を持たないレポートはクエリの構造上対象外となる。
	FindNear(ctx context.Context, longitude, latitude, maxDistanceMeters float64, itemType model.ItemType) ([]*model.Item, error)
}

// NotificationRepository は通知データの永続化インターフェース。
type NotificationRepository interface {
	// ExistsByUserAndMatchItem は (user_id, match_item_id) の組の通知が
	// 既に存在するかをポイントクエリで確認する。
	// マッチスケジューラの重複排除の唯一のガード。
	ExistsByUserAndMatchItem(ctx context.Context, userID, matchItemID string) (bool, error)

	// InsertMany は複数の通知を挿入する。
	InsertMany(ctx context.Context, notifications []*model.Notification) error

	// ListByUser はユーザーの通知を作成日時降順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Notification, error)

	// MarkRead は通知を既読にする。ユーザーデータ分離のためuser_idも条件に含める。
	// 対象が存在しない場合はfalseを返す。
	MarkRead(ctx context.Context, userID, notificationID string) (bool, error)
}

// ConversationRepository は会話とメッセージの永続化インターフェース。
type ConversationRepository interface {
	// FindOrCreate は2ユーザー間の会話を取得し、なければ作成する。
	// 参加者の組は正規化順で一意。
	FindOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error)

	// CreateMessage はメッセージを追記する。
	CreateMessage(ctx context.Context, msg *model.Message) error

	// ListMessages は2ユーザー間のメッセージを作成日時昇順で返す。
	// 会話が存在しない場合は空スライスを返す。
	ListMessages(ctx context.Context, userA, userB string) ([]*model.Message, error)
}
