package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusfinder/internal/middleware"
	"github.com/hitoshi/campusfinder/internal/model"
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	// ListByUser はユーザーの通知一覧を返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Notification, error)
	// MarkRead は通知を既読にする。
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// NotificationSubscriber はSSEストリームが必要とする購読インターフェース。
// notify.Hubの部分集合。
type NotificationSubscriber interface {
	Subscribe(userID string) chan *model.Notification
	Unsubscribe(userID string, ch chan *model.Notification)
}

// streamKeepAliveInterval はSSE接続維持のコメント送信間隔。
const streamKeepAliveInterval = 30 * time.Second

// NotificationHandler は通知管理のHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
	hub     NotificationSubscriber
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface, hub NotificationSubscriber) *NotificationHandler {
	return &NotificationHandler{service: service, hub: hub}
}

// notificationResponse は通知のレスポンス。
type notificationResponse struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	IsRead      bool      `json:"is_read"`
	ItemID      string    `json:"item_id,omitempty"`
	MatchItemID string    `json:"match_item_id,omitempty"`
	OtherUserID string    `json:"other_user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toNotificationResponse(n *model.Notification) notificationResponse {
	return notificationResponse{
		ID:          n.ID,
		Message:     n.Message,
		IsRead:      n.IsRead,
		ItemID:      n.ItemID,
		MatchItemID: n.MatchItemID,
		OtherUserID: n.OtherUserID,
		CreatedAt:   n.CreatedAt,
	}
}

// ListNotifications は通知一覧を取得する。
// GET /api/notifications
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	notifications, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, responses)
}

// MarkRead は通知を既読にする。
// PUT /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	notificationID := chi.URLParam(r, "id")
	if err := h.service.MarkRead(r.Context(), userID, notificationID); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stream は通知のSSEストリームを開始する。
// GET /api/notifications/stream
// 接続中に作成された通知をリアルタイムに配信する。
// クライアント切断またはサーバー停止で終了する。
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(userID, ch)

	keepAlive := time.NewTicker(streamKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			// 接続維持のコメント行
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case n, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(toNotificationResponse(n))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
