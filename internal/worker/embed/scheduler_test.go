package embed

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/campusfinder/internal/ai"
	"github.com/hitoshi/campusfinder/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- モック定義 ---

// mockClaimRepo は埋め込みスケジューラ用のリポジトリモック。
type mockClaimRepo struct {
	claimFunc   func(ctx context.Context, minAge time.Duration) (*model.Item, error)
	successFunc func(ctx context.Context, itemID string, embedding []float64) error
	failureFunc func(ctx context.Context, itemID string, attempts int, retryAt time.Time) error
}

func (m *mockClaimRepo) ClaimNextForEmbedding(ctx context.Context, minAge time.Duration) (*model.Item, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx, minAge)
	}
	return nil, nil
}

func (m *mockClaimRepo) UpdateEmbeddingSuccess(ctx context.Context, itemID string, embedding []float64) error {
	if m.successFunc != nil {
		return m.successFunc(ctx, itemID, embedding)
	}
	return nil
}

func (m *mockClaimRepo) UpdateEmbeddingFailure(ctx context.Context, itemID string, attempts int, retryAt time.Time) error {
	if m.failureFunc != nil {
		return m.failureFunc(ctx, itemID, attempts, retryAt)
	}
	return nil
}

// mockGenerator は推論クライアントのモック。
type mockGenerator struct {
	computeFunc func(ctx context.Context, imageURL string) ([]float64, error)
}

func (m *mockGenerator) ComputeEmbedding(ctx context.Context, imageURL string) ([]float64, error) {
	if m.computeFunc != nil {
		return m.computeFunc(ctx, imageURL)
	}
	return []float64{0.1, 0.2}, nil
}

// claimQueue はクレーム対象のレポート列を順番に返すヘルパー。
func claimQueue(items ...*model.Item) func(ctx context.Context, minAge time.Duration) (*model.Item, error) {
	var mu sync.Mutex
	idx := 0
	return func(ctx context.Context, minAge time.Duration) (*model.Item, error) {
		mu.Lock()
		defer mu.Unlock()
		if idx >= len(items) {
			return nil, nil
		}
		item := items[idx]
		idx++
		return item, nil
	}
}

func pendingItem(id string) *model.Item {
	return &model.Item{
		ID:              id,
		ItemType:        model.ItemTypeLost,
		Category:        "Wallet",
		ImageURL:        "https://example.com/" + id + ".jpg",
		Status:          model.ItemStatusActive,
		EmbeddingStatus: model.EmbeddingStatusPending,
	}
}

// --- テスト ---

func TestNewScheduler_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	s := NewScheduler(&mockClaimRepo{}, &mockGenerator{}, newTestLogger(&buf), DefaultSchedulerConfig())
	if s == nil {
		t.Fatal("NewScheduler は nil を返してはならない")
	}
}

func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()

	if cfg.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", cfg.Interval)
	}
	if cfg.BatchSize != 3 {
		t.Errorf("BatchSize = %d, want 3", cfg.BatchSize)
	}
	if cfg.MinItemAge != 60*time.Second {
		t.Errorf("MinItemAge = %v, want 60s", cfg.MinItemAge)
	}
	if cfg.BackoffBase != time.Second {
		t.Errorf("BackoffBase = %v, want 1s", cfg.BackoffBase)
	}
	if cfg.BackoffFactor != 2.0 {
		t.Errorf("BackoffFactor = %v, want 2.0", cfg.BackoffFactor)
	}
}

// TestRunOnce_NoEligibleItems は処理対象なしの場合に何もせず終了することをテストする。
func TestRunOnce_NoEligibleItems(t *testing.T) {
	var buf bytes.Buffer
	var successCalls, failureCalls int

	repo := &mockClaimRepo{
		successFunc: func(ctx context.Context, itemID string, embedding []float64) error {
			successCalls++
			return nil
		},
		failureFunc: func(ctx context.Context, itemID string, attempts int, retryAt time.Time) error {
			failureCalls++
			return nil
		},
	}

	s := NewScheduler(repo, &mockGenerator{}, newTestLogger(&buf), DefaultSchedulerConfig())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if successCalls != 0 || failureCalls != 0 {
		t.Errorf("処理対象なしで更新が実行された: success=%d, failure=%d", successCalls, failureCalls)
	}
}

// TestRunOnce_ProcessesUpToBatchSize は1サイクルでBatchSize件まで処理することをテストする。
func TestRunOnce_ProcessesUpToBatchSize(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	var succeeded []string

	repo := &mockClaimRepo{
		claimFunc: claimQueue(
			pendingItem("item-1"),
			pendingItem("item-2"),
			pendingItem("item-3"),
			pendingItem("item-4"), // BatchSize=3のため処理されない
		),
		successFunc: func(ctx context.Context, itemID string, embedding []float64) error {
			mu.Lock()
			defer mu.Unlock()
			succeeded = append(succeeded, itemID)
			return nil
		},
	}

	s := NewScheduler(repo, &mockGenerator{}, newTestLogger(&buf), DefaultSchedulerConfig())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if len(succeeded) != 3 {
		t.Fatalf("処理件数 = %d, want 3", len(succeeded))
	}
	for i, want := range []string{"item-1", "item-2", "item-3"} {
		if succeeded[i] != want {
			t.Errorf("succeeded[%d] = %q, want %q", i, succeeded[i], want)
		}
	}
}

// TestRunOnce_StopsOnEmptyClaim はクレームが空になった時点でサイクルが終了することをテストする。
func TestRunOnce_StopsOnEmptyClaim(t *testing.T) {
	var buf bytes.Buffer
	var claimCalls int

	repo := &mockClaimRepo{
		claimFunc: func(ctx context.Context, minAge time.Duration) (*model.Item, error) {
			claimCalls++
			if claimCalls == 1 {
				return pendingItem("item-1"), nil
			}
			return nil, nil
		},
	}

	s := NewScheduler(repo, &mockGenerator{}, newTestLogger(&buf), DefaultSchedulerConfig())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	// 1件処理 + 空クレームで終了 = 2回（BatchSize=3まで呼ばれない）
	if claimCalls != 2 {
		t.Errorf("クレーム呼び出し回数 = %d, want 2", claimCalls)
	}
}

// TestRunOnce_SuccessStoresEmbedding は成功時に埋め込みベクトルが保存されることをテストする。
func TestRunOnce_SuccessStoresEmbedding(t *testing.T) {
	var buf bytes.Buffer
	wantEmbedding := []float64{0.5, -0.3, 0.8}

	var gotItemID string
	var gotEmbedding []float64

	repo := &mockClaimRepo{
		claimFunc: claimQueue(pendingItem("item-1")),
		successFunc: func(ctx context.Context, itemID string, embedding []float64) error {
			gotItemID = itemID
			gotEmbedding = embedding
			return nil
		},
	}
	gen := &mockGenerator{
		computeFunc: func(ctx context.Context, imageURL string) ([]float64, error) {
			return wantEmbedding, nil
		},
	}

	s := NewScheduler(repo, gen, newTestLogger(&buf), DefaultSchedulerConfig())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if gotItemID != "item-1" {
		t.Errorf("保存対象 = %q, want %q", gotItemID, "item-1")
	}
	if len(gotEmbedding) != 3 {
		t.Fatalf("埋め込みベクトルの次元 = %d, want 3", len(gotEmbedding))
	}
}

// TestRunOnce_FailureRecordsBackoff は失敗時に失敗回数とリトライ時刻が記録されることをテストする。
func TestRunOnce_FailureRecordsBackoff(t *testing.T) {
	var buf bytes.Buffer

	item := pendingItem("item-1")
	item.EmbeddingAttempts = 2 // 過去に2回失敗済み

	var gotAttempts int
	var gotRetryAt time.Time

	repo := &mockClaimRepo{
		claimFunc: claimQueue(item),
		failureFunc: func(ctx context.Context, itemID string, attempts int, retryAt time.Time) error {
			gotAttempts = attempts
			gotRetryAt = retryAt
			return nil
		},
	}
	gen := &mockGenerator{
		computeFunc: func(ctx context.Context, imageURL string) ([]float64, error) {
			return nil, errors.New("inference failed")
		},
	}

	before := time.Now()
	s := NewScheduler(repo, gen, newTestLogger(&buf), DefaultSchedulerConfig())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if gotAttempts != 3 {
		t.Errorf("attempts = %d, want 3", gotAttempts)
	}

	// 3回目の失敗: 遅延は 1s * 2^2 = 4s
	wantDelay := 4 * time.Second
	minRetryAt := before.Add(wantDelay)
	maxRetryAt := time.Now().Add(wantDelay + time.Second)
	if gotRetryAt.Before(minRetryAt) || gotRetryAt.After(maxRetryAt) {
		t.Errorf("retryAt = %v が期待範囲 [%v, %v] の外", gotRetryAt, minRetryAt, maxRetryAt)
	}
}

// TestRunOnce_EmptyEmbeddingIsFailure は空の埋め込みベクトルが失敗として扱われることをテストする。
func TestRunOnce_EmptyEmbeddingIsFailure(t *testing.T) {
	var buf bytes.Buffer
	var failureCalled bool

	repo := &mockClaimRepo{
		claimFunc: claimQueue(pendingItem("item-1")),
		failureFunc: func(ctx context.Context, itemID string, attempts int, retryAt time.Time) error {
			failureCalled = true
			return nil
		},
	}
	gen := &mockGenerator{
		computeFunc: func(ctx context.Context, imageURL string) ([]float64, error) {
			return []float64{}, nil
		},
	}

	s := NewScheduler(repo, gen, newTestLogger(&buf), DefaultSchedulerConfig())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if !failureCalled {
		t.Error("空の埋め込みベクトルで失敗が記録されなければならない")
	}
}

// TestRunOnce_CooldownCountsAsFailure はクールダウンによるスキップも失敗として
// リトライ時刻が記録されることをテストする。
func TestRunOnce_CooldownCountsAsFailure(t *testing.T) {
	var buf bytes.Buffer
	var failureCalled bool

	repo := &mockClaimRepo{
		claimFunc: claimQueue(pendingItem("item-1")),
		failureFunc: func(ctx context.Context, itemID string, attempts int, retryAt time.Time) error {
			failureCalled = true
			return nil
		},
	}
	gen := &mockGenerator{
		computeFunc: func(ctx context.Context, imageURL string) ([]float64, error) {
			return nil, ai.ErrCooldown
		},
	}

	s := NewScheduler(repo, gen, newTestLogger(&buf), DefaultSchedulerConfig())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if !failureCalled {
		t.Error("クールダウンスキップで失敗が記録されなければならない")
	}
}

// TestRunOnce_ClaimErrorPropagates はクレームのエラーが呼び出し元に伝播することをテストする。
func TestRunOnce_ClaimErrorPropagates(t *testing.T) {
	var buf bytes.Buffer

	repo := &mockClaimRepo{
		claimFunc: func(ctx context.Context, minAge time.Duration) (*model.Item, error) {
			return nil, errors.New("database down")
		},
	}

	s := NewScheduler(repo, &mockGenerator{}, newTestLogger(&buf), DefaultSchedulerConfig())
	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("クレーム失敗でエラーを返さなければならない")
	}
}

// TestRunOnce_OverlapGuard はサイクル実行中の再入がスキップされることをテストする。
func TestRunOnce_OverlapGuard(t *testing.T) {
	var buf bytes.Buffer

	firstClaimStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var claimCalls int
	var mu sync.Mutex

	repo := &mockClaimRepo{
		claimFunc: func(ctx context.Context, minAge time.Duration) (*model.Item, error) {
			mu.Lock()
			claimCalls++
			n := claimCalls
			mu.Unlock()
			if n == 1 {
				close(firstClaimStarted)
				<-releaseFirst
			}
			return nil, nil
		},
	}

	s := NewScheduler(repo, &mockGenerator{}, newTestLogger(&buf), DefaultSchedulerConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.RunOnce(context.Background())
	}()

	<-firstClaimStarted

	// 1回目のサイクルが実行中: 2回目はスキップされクレームは呼ばれない
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("多重実行時のRunOnce がエラーを返した: %v", err)
	}

	mu.Lock()
	callsWhileRunning := claimCalls
	mu.Unlock()
	if callsWhileRunning != 1 {
		t.Errorf("多重実行中のクレーム呼び出し回数 = %d, want 1", callsWhileRunning)
	}

	close(releaseFirst)
	<-done
}

// TestRunOnce_MinItemAgePassedToClaim は設定の最低経過時間がクレームに渡されることをテストする。
func TestRunOnce_MinItemAgePassedToClaim(t *testing.T) {
	var buf bytes.Buffer
	var gotMinAge time.Duration

	repo := &mockClaimRepo{
		claimFunc: func(ctx context.Context, minAge time.Duration) (*model.Item, error) {
			gotMinAge = minAge
			return nil, nil
		},
	}

	cfg := DefaultSchedulerConfig()
	cfg.MinItemAge = 90 * time.Second

	s := NewScheduler(repo, &mockGenerator{}, newTestLogger(&buf), cfg)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if gotMinAge != 90*time.Second {
		t.Errorf("minAge = %v, want 90s", gotMinAge)
	}
}

// TestStart_StopsOnContextCancel はコンテキストキャンセルでスケジューラが停止することをテストする。
func TestStart_StopsOnContextCancel(t *testing.T) {
	var buf bytes.Buffer

	cfg := DefaultSchedulerConfig()
	cfg.Interval = 10 * time.Millisecond

	s := NewScheduler(&mockClaimRepo{}, &mockGenerator{}, newTestLogger(&buf), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("コンテキストキャンセル後もスケジューラが停止しない")
	}
}
