package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/campusfinder/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// mockNotificationRepo は通知リポジトリのモック。
type mockNotificationRepo struct {
	existsFunc     func(ctx context.Context, userID, matchItemID string) (bool, error)
	insertManyFunc func(ctx context.Context, notifications []*model.Notification) error
	listByUserFunc func(ctx context.Context, userID string) ([]*model.Notification, error)
	markReadFunc   func(ctx context.Context, userID, notificationID string) (bool, error)
}

func (m *mockNotificationRepo) ExistsByUserAndMatchItem(ctx context.Context, userID, matchItemID string) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, userID, matchItemID)
	}
	return false, nil
}

func (m *mockNotificationRepo) InsertMany(ctx context.Context, notifications []*model.Notification) error {
	if m.insertManyFunc != nil {
		return m.insertManyFunc(ctx, notifications)
	}
	return nil
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string) ([]*model.Notification, error) {
	if m.listByUserFunc != nil {
		return m.listByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, userID, notificationID string) (bool, error) {
	if m.markReadFunc != nil {
		return m.markReadFunc(ctx, userID, notificationID)
	}
	return true, nil
}

// TestSink_DeliverPersistsAndPushes は通知が永続化と配信の両方に到達することをテストする。
func TestSink_DeliverPersistsAndPushes(t *testing.T) {
	var buf bytes.Buffer

	var inserted []*model.Notification
	repo := &mockNotificationRepo{
		insertManyFunc: func(ctx context.Context, notifications []*model.Notification) error {
			inserted = notifications
			return nil
		},
	}

	hub := NewHub()
	ch := hub.Subscribe("user-1")
	defer hub.Unsubscribe("user-1", ch)

	sink := NewSink(repo, hub, newTestLogger(&buf))

	notifications := []*model.Notification{
		testNotification("user-1", "A potential match for your lost wallet was found!"),
	}
	if err := sink.Deliver(context.Background(), notifications); err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	if len(inserted) != 1 {
		t.Fatalf("永続化された通知数 = %d, want 1", len(inserted))
	}

	select {
	case got := <-ch:
		if got.UserID != "user-1" {
			t.Errorf("配信先 = %q, want %q", got.UserID, "user-1")
		}
	case <-time.After(time.Second):
		t.Fatal("接続中ユーザーに通知が配信されなかった")
	}
}

// TestSink_DeliverEmptySliceIsNoop は空スライスで何もしないことをテストする。
func TestSink_DeliverEmptySliceIsNoop(t *testing.T) {
	var buf bytes.Buffer

	var insertCalled bool
	repo := &mockNotificationRepo{
		insertManyFunc: func(ctx context.Context, notifications []*model.Notification) error {
			insertCalled = true
			return nil
		},
	}

	sink := NewSink(repo, NewHub(), newTestLogger(&buf))
	if err := sink.Deliver(context.Background(), nil); err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	if insertCalled {
		t.Error("空スライスでInsertManyが呼ばれた")
	}
}

// TestSink_DeliverPersistFailureSkipsPush は永続化失敗時に配信されないことをテストする。
func TestSink_DeliverPersistFailureSkipsPush(t *testing.T) {
	var buf bytes.Buffer

	repo := &mockNotificationRepo{
		insertManyFunc: func(ctx context.Context, notifications []*model.Notification) error {
			return errors.New("insert failed")
		},
	}

	hub := NewHub()
	ch := hub.Subscribe("user-1")
	defer hub.Unsubscribe("user-1", ch)

	sink := NewSink(repo, hub, newTestLogger(&buf))

	err := sink.Deliver(context.Background(), []*model.Notification{
		testNotification("user-1", "msg"),
	})
	if err == nil {
		t.Fatal("永続化失敗でエラーを返さなければならない")
	}

	select {
	case n := <-ch:
		t.Errorf("永続化に失敗した通知が配信された: %+v", n)
	default:
	}
}
