// Package cleanup は既読通知の自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過した既読の通知を日次バッチで削除する。
// 未読の通知は保持期間に関わらず削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// RetentionJob は保持期間を超過した既読通知の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type RetentionJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 既読通知の保持日数（デフォルト: 90）
}

// NewRetentionJob は新しいRetentionJobを生成する。
// デフォルトの保持日数は90日。
func NewRetentionJob(db Executor, logger *slog.Logger) *RetentionJob {
	return &RetentionJob{
		db:            db,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は保持期間を超過した既読通知を削除する。
// created_atがRetentionDays日前より古く、かつis_read=trueの通知をDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *RetentionJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM notifications WHERE is_read = true AND created_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("通知クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("通知クリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("通知クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
