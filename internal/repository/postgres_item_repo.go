package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/campusfinder/internal/model"
)

// itemColumns はitemsテーブルのSELECT対象カラム。全取得系クエリで共有する。
const itemColumns = `id, user_id, item_type, category, color, description,
       longitude, latitude, status, image_url, image_public_id,
       image_embedding, embedding_status, embedding_attempts,
       next_embed_retry_at, created_at, updated_at`

// PostgresItemRepo はPostgreSQLを使用したレポートリポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

// scanItem は1行からmodel.Itemを読み取る。
func scanItem(scanner interface{ Scan(...any) error }) (*model.Item, error) {
	item := &model.Item{}
	var color, imageURL, imagePublicID sql.NullString
	var longitude, latitude sql.NullFloat64
	var embedding pq.Float64Array
	var nextRetryAt sql.NullTime

	err := scanner.Scan(
		&item.ID, &item.UserID, &item.ItemType, &item.Category, &color,
		&item.Description, &longitude, &latitude, &item.Status,
		&imageURL, &imagePublicID, &embedding, &item.EmbeddingStatus,
		&item.EmbeddingAttempts, &nextRetryAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Color = nullStringValue(color)
	item.ImageURL = nullStringValue(imageURL)
	item.ImagePublicID = nullStringValue(imagePublicID)
	item.ImageEmbedding = []float64(embedding)
	if longitude.Valid {
		v := longitude.Float64
		item.Longitude = &v
	}
	if latitude.Valid {
		v := latitude.Float64
		item.Latitude = &v
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		item.NextEmbedRetryAt = &t
	}

	return item, nil
}

// FindByID は指定IDのレポートを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レポートの取得に失敗しました: %w", err)
	}
	return item, nil
}

// Create はレポートを作成する。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	var longitude, latitude sql.NullFloat64
	if item.Longitude != nil {
		longitude = sql.NullFloat64{Float64: *item.Longitude, Valid: true}
	}
	if item.Latitude != nil {
		latitude = sql.NullFloat64{Float64: *item.Latitude, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, user_id, item_type, category, color, description,
		                    longitude, latitude, status, image_url, image_public_id,
		                    image_embedding, embedding_status, embedding_attempts,
		                    next_embed_retry_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		item.ID, item.UserID, item.ItemType, item.Category, nullString(item.Color),
		item.Description, longitude, latitude, item.Status,
		nullString(item.ImageURL), nullString(item.ImagePublicID),
		pq.Float64Array(item.ImageEmbedding), item.EmbeddingStatus,
		item.EmbeddingAttempts, nullTime(item.NextEmbedRetryAt),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("レポートの作成に失敗しました: %w", err)
	}
	return nil
}

// ListActive はアクティブなレポートを作成日時降順で返す。
func (r *PostgresItemRepo) ListActive(ctx context.Context) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE status = 'active' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("アクティブなレポートの取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListByUser はユーザーのレポートを作成日時降順で返す。
func (r *PostgresItemRepo) ListByUser(ctx context.Context, userID string) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーのレポートの取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// UpdateStatus はレポートの状態を更新する。
func (r *PostgresItemRepo) UpdateStatus(ctx context.Context, itemID string, status model.ItemStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET status = $2, updated_at = now() WHERE id = $1`,
		itemID, status)
	if err != nil {
		return fmt.Errorf("レポート状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ClaimNextForEmbedding は埋め込み処理対象のレポートを1件アトミックにクレームする。
// 適格性述語の評価とprocessingへの遷移を単一の条件付きUPDATEで行う。
// FOR UPDATE SKIP LOCKEDにより、並行するスケジューラインスタンス間で
// 同一レポートが二重にクレームされることはない。
// 適格なレポートがない場合はnilを返す。
func (r *PostgresItemRepo) ClaimNextForEmbedding(ctx context.Context, minAge time.Duration) (*model.Item, error) {
	interval := fmt.Sprintf("%d seconds", int(minAge.Seconds()))

	row := r.db.QueryRowContext(ctx,
		`UPDATE items SET embedding_status = 'processing', updated_at = now()
		 WHERE id = (
		     SELECT id FROM items
		     WHERE created_at < now() - $1::interval
		       AND image_url IS NOT NULL
		       AND (image_embedding IS NULL OR cardinality(image_embedding) = 0)
		       AND embedding_status IN ('pending', 'failed')
		       AND (next_embed_retry_at IS NULL OR next_embed_retry_at <= now())
		     ORDER BY created_at
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+itemColumns,
		interval,
	)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("埋め込み対象レポートのクレームに失敗しました: %w", err)
	}
	return item, nil
}

// UpdateEmbeddingSuccess は埋め込みベクトルを保存し、successに遷移させる。
// next_embed_retry_atはクリアされる。embedding_attemptsはリセットしない。
func (r *PostgresItemRepo) UpdateEmbeddingSuccess(ctx context.Context, itemID string, embedding []float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET
		    image_embedding = $2,
		    embedding_status = 'success',
		    next_embed_retry_at = NULL,
		    updated_at = now()
		 WHERE id = $1`,
		itemID, pq.Float64Array(embedding))
	if err != nil {
		return fmt.Errorf("埋め込みの保存に失敗しました: %w", err)
	}
	return nil
}

// UpdateEmbeddingFailure は埋め込み計算の失敗を記録する。
func (r *PostgresItemRepo) UpdateEmbeddingFailure(ctx context.Context, itemID string, attempts int, retryAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET
		    embedding_status = 'failed',
		    embedding_attempts = $2,
		    next_embed_retry_at = $3,
		    updated_at = now()
		 WHERE id = $1`,
		itemID, attempts, retryAt)
	if err != nil {
		return fmt.Errorf("埋め込み失敗の記録に失敗しました: %w", err)
	}
	return nil
}

// ListRecentActive は指定時刻以降に作成されたアクティブなレポートを返す。
func (r *PostgresItemRepo) ListRecentActive(ctx context.Context, since time.Time) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE created_at >= $1 AND status = 'active'
		 ORDER BY created_at`,
		since)
	if err != nil {
		return nil, fmt.Errorf("最近のレポートの取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// FindNear は指定地点の近傍にある指定種別のアクティブなレポートを返す。
// 距離はhaversine式で計算する。インデックスを使える緯度経度の
// バウンディングボックスで先に絞り込み、haversineで正確に判定する。
// 緯度経度がNULLのレポートは述語の構造上ヒットしない。
func (r *PostgresItemRepo) FindNear(ctx context.Context, longitude, latitude, maxDistanceMeters float64, itemType model.ItemType) ([]*model.Item, error) {
	// 1度あたり約111,320m。バウンディングボックスは粗い上限でよい
	const metersPerDegree = 111320.0
	latDelta := maxDistanceMeters / metersPerDegree

	// acosの引数は浮動小数点誤差で[-1, 1]をわずかに外れうるため両側をクランプする
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE item_type = $1
		   AND status = 'active'
		   AND latitude IS NOT NULL
		   AND longitude IS NOT NULL
		   AND latitude BETWEEN $3 - $5 AND $3 + $5
		   AND (
		       6371000 * acos(greatest(-1.0, least(1.0,
		           cos(radians($3)) * cos(radians(latitude)) *
		           cos(radians(longitude) - radians($2)) +
		           sin(radians($3)) * sin(radians(latitude))
		       )))
		   ) <= $4
		 ORDER BY created_at`,
		itemType, longitude, latitude, maxDistanceMeters, latDelta)
	if err != nil {
		return nil, fmt.Errorf("近傍レポートの検索に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// collectItems は行集合からItemスライスを構築する。
func collectItems(rows *sql.Rows) ([]*model.Item, error) {
	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("レポートの読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レポートの走査に失敗しました: %w", err)
	}
	return items, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
