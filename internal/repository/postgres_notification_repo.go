package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/campusfinder/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// ExistsByUserAndMatchItem は (user_id, match_item_id) の組の通知の存在を
// ポイントクエリで確認する。近似ではなく厳密な組での判定を行う。
func (r *PostgresNotificationRepo) ExistsByUserAndMatchItem(ctx context.Context, userID, matchItemID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM notifications WHERE user_id = $1 AND match_item_id = $2
		 )`,
		userID, matchItemID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("通知の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// InsertMany は複数の通知を挿入する。
func (r *PostgresNotificationRepo) InsertMany(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for _, n := range notifications {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO notifications (id, user_id, message, is_read,
			                            item_id, other_user_id, match_item_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			n.ID, n.UserID, n.Message, n.IsRead,
			nullString(n.ItemID), nullString(n.OtherUserID),
			nullString(n.MatchItemID), n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("通知の挿入に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListByUser はユーザーの通知を作成日時降順で返す。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, message, is_read, item_id, other_user_id, match_item_id, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var itemID, otherUserID, matchItemID sql.NullString
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Message, &n.IsRead,
			&itemID, &otherUserID, &matchItemID, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("通知の読み取りに失敗しました: %w", err)
		}
		n.ItemID = nullStringValue(itemID)
		n.OtherUserID = nullStringValue(otherUserID)
		n.MatchItemID = nullStringValue(matchItemID)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知の走査に失敗しました: %w", err)
	}
	return notifications, nil
}

// MarkRead は通知を既読にする。ユーザーデータ分離のためuser_idも条件に含める。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, userID, notificationID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`,
		notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
