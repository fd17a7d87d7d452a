package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusfinder/internal/middleware"
	"github.com/hitoshi/campusfinder/internal/model"
)

// MessageServiceInterface はメッセージハンドラーが必要とするサービスインターフェース。
type MessageServiceInterface interface {
	// Send はメッセージを送信し、受信者へ通知を配信する。
	Send(ctx context.Context, senderID, receiverID, body string) (*model.Message, error)
	// ListConversation は2ユーザー間のメッセージを作成日時昇順で返す。
	ListConversation(ctx context.Context, userID, otherUserID string) ([]*model.Message, error)
}

// MessageHandler はユーザー間メッセージのHTTPハンドラー。
type MessageHandler struct {
	service MessageServiceInterface
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(service MessageServiceInterface) *MessageHandler {
	return &MessageHandler{service: service}
}

// sendMessageRequest はメッセージ送信リクエストのボディ。
type sendMessageRequest struct {
	Body string `json:"body"`
}

// messageResponse はメッセージのレスポンス。
type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMessageResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
	}
}

// SendMessage はメッセージを送信する。
// POST /api/messages/:receiverID
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	receiverID := chi.URLParam(r, "receiverID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	msg, err := h.service.Send(r.Context(), userID, receiverID, req.Body)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// ListMessages は指定ユーザーとの会話履歴を取得する。
// GET /api/messages/:userID
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	otherUserID := chi.URLParam(r, "userID")

	messages, err := h.service.ListConversation(r.Context(), userID, otherUserID)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	responses := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		responses = append(responses, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, responses)
}
