package embed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitoshi/campusfinder/internal/ai"
	"github.com/hitoshi/campusfinder/internal/model"
)

// ItemClaimRepository は埋め込みスケジューラが必要とする永続化操作のインターフェース。
// repository.ItemRepositoryのサブセット。テスト時にモックに差し替え可能。
type ItemClaimRepository interface {
	// ClaimNextForEmbedding は処理対象レポートを1件アトミックにクレームする。
	// 適格なレポートがない場合はnilを返す。
	ClaimNextForEmbedding(ctx context.Context, minAge time.Duration) (*model.Item, error)
	// UpdateEmbeddingSuccess は埋め込みベクトルを保存して成功状態に遷移させる。
	UpdateEmbeddingSuccess(ctx context.Context, itemID string, embedding []float64) error
	// UpdateEmbeddingFailure は失敗回数と次回リトライ時刻を記録する。
	UpdateEmbeddingFailure(ctx context.Context, itemID string, attempts int, retryAt time.Time) error
}

// Metrics は埋め込みサイクルのメトリクス記録インターフェース。
// metrics.Collectorの部分集合。
type Metrics interface {
	RecordEmbeddingSuccess()
	RecordEmbeddingFailure(reason string)
}

// noopMetrics はメトリクス未設定時のデフォルト実装。
type noopMetrics struct{}

func (noopMetrics) RecordEmbeddingSuccess() {}

func (noopMetrics) RecordEmbeddingFailure(reason string) {}

// SchedulerConfig は埋め込みスケジューラの設定パラメータ。
// 環境変数から設定可能。
type SchedulerConfig struct {
	// Interval はスケジューラの実行間隔（デフォルト: 5分）。
	Interval time.Duration
	// BatchSize は1サイクルあたりの最大クレーム数（デフォルト: 3）。
	BatchSize int
	// MinItemAge はクレーム対象となる最低経過時間（デフォルト: 60秒）。
	// 作成直後の同期埋め込み試行との競合を避ける。
	MinItemAge time.Duration
	// MaxRetries は失敗レポートの最大リトライ回数。超過後はfailedのまま放置される
	// （リトライ上限はバックオフ遅延の頭打ちで実質的に制御される）。
	MaxRetries int
	// BackoffBase はリトライ遅延の初期値（デフォルト: 1秒）。
	BackoffBase time.Duration
	// BackoffFactor はリトライ遅延の増加倍率（デフォルト: 2.0）。
	BackoffFactor float64
}

// DefaultSchedulerConfig はデフォルトのスケジューラ設定を返す。
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      5 * time.Minute,
		BatchSize:     3,
		MinItemAge:    60 * time.Second,
		MaxRetries:    3,
		BackoffBase:   time.Second,
		BackoffFactor: 2.0,
	}
}

// Scheduler は埋め込み生成のバックグラウンドスケジューラ。
// ティッカーで定期的に処理対象レポートをアトミックにクレームし、
// 推論クライアントで埋め込みベクトルを生成して保存する。
// クレームは条件付きUPDATEによるcompare-and-setのため、
// 複数プロセスが並行しても同一レポートの二重処理は起こらない。
type Scheduler struct {
	itemRepo ItemClaimRepository
	client   ai.EmbeddingGenerator
	logger   *slog.Logger
	config   SchedulerConfig
	metrics  Metrics

	// running は同一プロセス内のサイクル多重実行を防ぐガード。
	// 前回サイクルが実行中のままティッカーが発火した場合はスキップする。
	running atomic.Bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	itemRepo ItemClaimRepository,
	client ai.EmbeddingGenerator,
	logger *slog.Logger,
	config SchedulerConfig,
) *Scheduler {
	return &Scheduler{
		itemRepo: itemRepo,
		client:   client,
		logger:   logger,
		config:   config,
		metrics:  noopMetrics{},
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

	s.logger.Info("埋め込みスケジューラを開始しました",
		slog.Duration("interval", s.config.Interval),
		slog.Int("batch_size", s.config.BatchSize),
		slog.Duration("min_item_age", s.config.MinItemAge),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("埋め込みサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("埋め込みスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("埋め込みサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回の埋め込みサイクルを実行する。
// BatchSize件まで1件ずつクレームし、クレームが空になった時点で終了する。
// 前回サイクルが実行中の場合はスキップする。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("前回の埋め込みサイクルが実行中のためスキップします")
		return nil
	}
	defer s.running.Store(false)

	start := time.Now()
	var processed, succeeded, failed int

	for i := 0; i < s.config.BatchSize; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		item, err := s.itemRepo.ClaimNextForEmbedding(ctx, s.config.MinItemAge)
		if err != nil {
			return err
		}
		if item == nil {
			// 処理対象なし: サイクル終了
			break
		}

		processed++
		if s.processItem(ctx, item.ID, item.ImageURL, item.EmbeddingAttempts) {
			succeeded++
		} else {
			failed++
		}
	}

	if processed == 0 {
		s.logger.Info("埋め込み処理対象のレポートはありません")
		return nil
	}

	duration := time.Since(start)
	s.logger.Info("埋め込みサイクルが完了しました",
		slog.Int("processed", processed),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// processItem は1件のレポートの埋め込みを生成し、結果を記録する。
// 成功時はtrueを返す。
func (s *Scheduler) processItem(ctx context.Context, itemID, imageURL string, priorAttempts int) bool {
	embedding, err := s.client.ComputeEmbedding(ctx, imageURL)
	if err == nil && len(embedding) == 0 {
		err = errors.New("推論クライアントが空の埋め込みベクトルを返しました")
	}

	if err != nil {
		attempts := priorAttempts + 1
		retryAt := time.Now().Add(RetryDelay(attempts, s.config.BackoffBase, s.config.BackoffFactor))

		reason := "error"
		if errors.Is(err, ai.ErrCooldown) {
			reason = "cooldown"
		}
		s.metrics.RecordEmbeddingFailure(reason)

		if errors.Is(err, ai.ErrCooldown) {
			s.logger.Warn("クールダウン中のため埋め込み生成をスキップしました",
				slog.String("item_id", itemID),
				slog.Int("attempts", attempts),
				slog.Time("next_retry_at", retryAt),
			)
		} else {
			s.logger.Error("埋め込みベクトルの生成に失敗しました",
				slog.String("item_id", itemID),
				slog.Int("attempts", attempts),
				slog.Time("next_retry_at", retryAt),
				slog.String("error", err.Error()),
			)
		}

		if updateErr := s.itemRepo.UpdateEmbeddingFailure(ctx, itemID, attempts, retryAt); updateErr != nil {
			s.logger.Error("埋め込み失敗状態の更新に失敗しました",
				slog.String("item_id", itemID),
				slog.String("error", updateErr.Error()),
			)
		}
		return false
	}

	if err := s.itemRepo.UpdateEmbeddingSuccess(ctx, itemID, embedding); err != nil {
		s.logger.Error("埋め込みベクトルの保存に失敗しました",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.metrics.RecordEmbeddingSuccess()
	s.logger.Info("埋め込みベクトルを生成しました",
		slog.String("item_id", itemID),
		slog.Int("dimensions", len(embedding)),
	)
	return true
}
