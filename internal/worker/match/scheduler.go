// Package match は紛失/拾得レポート間のマッチ検出のバックグラウンド処理を提供する。
// 定期的なスケジューラ、候補ペアの列挙、通知の重複排除を含む。
package match

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campusfinder/internal/matching"
	"github.com/hitoshi/campusfinder/internal/model"
)

// CandidateRepository はマッチスケジューラが必要とするレポート検索のインターフェース。
// repository.ItemRepositoryのサブセット。テスト時にモックに差し替え可能。
type CandidateRepository interface {
	// ListRecentActive は指定時刻以降に作成されたアクティブなレポートを返す。
	ListRecentActive(ctx context.Context, since time.Time) ([]*model.Item, error)
	// FindNear は指定地点の近傍にある指定種別のアクティブなレポートを返す。
	FindNear(ctx context.Context, longitude, latitude, maxDistanceMeters float64, itemType model.ItemType) ([]*model.Item, error)
}

// DedupChecker は通知の重複チェックのインターフェース。
type DedupChecker interface {
	// ExistsByUserAndMatchItem は (user_id, match_item_id) の通知が既に存在するかを確認する。
	ExistsByUserAndMatchItem(ctx context.Context, userID, matchItemID string) (bool, error)
}

// Deliverer は通知の永続化と配信のインターフェース。
type Deliverer interface {
	// Deliver は通知を永続化し、接続中の受信者に配信する。
	Deliver(ctx context.Context, notifications []*model.Notification) error
}

// Metrics はマッチサイクルのメトリクス記録インターフェース。
// metrics.Collectorの部分集合。
type Metrics interface {
	RecordMatchNotifications(count int)
}

// noopMetrics はメトリクス未設定時のデフォルト実装。
type noopMetrics struct{}

func (noopMetrics) RecordMatchNotifications(count int) {}

// SchedulerConfig はマッチスケジューラの設定パラメータ。
// 環境変数から設定可能。
type SchedulerConfig struct {
	// Interval はスケジューラの実行間隔（デフォルト: 10秒）。
	Interval time.Duration
	// Window はマッチ対象となるレポートの作成時刻の遡り幅（デフォルト: 24時間）。
	Window time.Duration
	// RadiusMeters は近傍検索の半径（デフォルト: 1000メートル）。
	RadiusMeters float64
}

// DefaultSchedulerConfig はデフォルトのスケジューラ設定を返す。
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     10 * time.Second,
		Window:       24 * time.Hour,
		RadiusMeters: 1000,
	}
}

// Scheduler はマッチ検出のバックグラウンドスケジューラ。
// 直近のアクティブレポートごとに反対種別の近傍レポートを検索し、
// 戦略エンジンでマッチを判定して両ユーザーに通知を作成する。
// スケジューラ自体は状態を持たず、重複排除は通知テーブルの
// (user_id, match_item_id) の存在チェックで行う。
type Scheduler struct {
	itemRepo  CandidateRepository
	dedup     DedupChecker
	deliverer Deliverer
	engine    *matching.Engine
	logger    *slog.Logger
	config    SchedulerConfig
	metrics   Metrics

	// running は同一プロセス内のサイクル多重実行を防ぐガード。
	running atomic.Bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	itemRepo CandidateRepository,
	dedup DedupChecker,
	deliverer Deliverer,
	engine *matching.Engine,
	logger *slog.Logger,
	config SchedulerConfig,
) *Scheduler {
	return &Scheduler{
		itemRepo:  itemRepo,
		dedup:     dedup,
		deliverer: deliverer,
		engine:    engine,
		logger:    logger,
		config:    config,
		metrics:   noopMetrics{},
	}
}

// WithMetrics はメトリクスコレクターを設定したSchedulerを返す。
func (s *Scheduler) WithMetrics(m Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Start はティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("マッチスケジューラを開始しました",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("window", s.config.Window),
		slog.Float64("radius_meters", s.config.RadiusMeters),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("マッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("マッチスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("マッチサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回のマッチサイクルを実行する。
// 前回サイクルが実行中の場合はスキップする。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("前回のマッチサイクルが実行中のためスキップします")
		return nil
	}
	defer s.running.Store(false)

	start := time.Now()

	since := time.Now().Add(-s.config.Window)
	items, err := s.itemRepo.ListRecentActive(ctx, since)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		return nil
	}

	var matched, notified int
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// 位置情報のないレポートは近傍検索の対象外
		if !item.HasLocation() {
			continue
		}

		candidates, err := s.itemRepo.FindNear(ctx,
			*item.Longitude, *item.Latitude, s.config.RadiusMeters, item.ItemType.Opposite())
		if err != nil {
			s.logger.Error("近傍レポートの検索に失敗しました",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, candidate := range candidates {
			// 同一レポートとの自己マッチは除外。
			// 同一ユーザーの別レポート同士のマッチは許可する
			// （自分のLostと自分のFoundが一致した場合も通知する）。
			if candidate.ID == item.ID {
				continue
			}

			result, ok := s.engine.Evaluate(item, candidate)
			if !ok {
				continue
			}
			matched++

			n, err := s.notifyPair(ctx, item, candidate, result)
			if err != nil {
				s.logger.Error("マッチ通知の作成に失敗しました",
					slog.String("item_id", item.ID),
					slog.String("candidate_id", candidate.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			notified += n
		}
	}

	if matched > 0 {
		duration := time.Since(start)
		s.logger.Info("マッチサイクルが完了しました",
			slog.Int("recent_items", len(items)),
			slog.Int("matched_pairs", matched),
			slog.Int("notifications_created", notified),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}

	return nil
}

// notifyPair はマッチしたペアの両ユーザーに通知を作成する。
// 各側で (user_id, match_item_id) の既存チェックを行い、
// 未通知の側のみ挿入する。作成した通知数を返す。
func (s *Scheduler) notifyPair(ctx context.Context, item, candidate *model.Item, result matching.Result) (int, error) {
	var pending []*model.Notification

	// item所有者側: candidateがマッチ相手
	exists, err := s.dedup.ExistsByUserAndMatchItem(ctx, item.UserID, candidate.ID)
	if err != nil {
		return 0, err
	}
	if !exists {
		pending = append(pending, &model.Notification{
			ID:          uuid.NewString(),
			UserID:      item.UserID,
			Message:     matching.PotentialMatchMessage(item.ItemType, item.Category),
			ItemID:      item.ID,
			MatchItemID: candidate.ID,
			OtherUserID: candidate.UserID,
		})
	}

	// candidate所有者側: itemがマッチ相手
	exists, err = s.dedup.ExistsByUserAndMatchItem(ctx, candidate.UserID, item.ID)
	if err != nil {
		return 0, err
	}
	if !exists {
		pending = append(pending, &model.Notification{
			ID:          uuid.NewString(),
			UserID:      candidate.UserID,
			Message:     matching.SimilarReportMessage(candidate.ItemType, candidate.Category),
			ItemID:      candidate.ID,
			MatchItemID: item.ID,
			OtherUserID: item.UserID,
		})
	}

	if len(pending) == 0 {
		return 0, nil
	}

	if err := s.deliverer.Deliver(ctx, pending); err != nil {
		return 0, err
	}
	s.metrics.RecordMatchNotifications(len(pending))

	s.logger.Info("マッチを検出しました",
		slog.String("item_id", item.ID),
		slog.String("candidate_id", candidate.ID),
		slog.String("match_type", result.MatchType),
		slog.Float64("score", result.Score),
		slog.Int("notifications", len(pending)),
	)

	return len(pending), nil
}
