package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusfinder/internal/item"
	"github.com/hitoshi/campusfinder/internal/middleware"
	"github.com/hitoshi/campusfinder/internal/model"
)

// ItemServiceInterface はレポートハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	// Create は新しいレポートを作成する。
	Create(ctx context.Context, userID string, input item.CreateInput) (*model.Item, error)
	// ListActive はアクティブなレポート一覧を返す。
	ListActive(ctx context.Context) ([]*model.Item, error)
	// ListByUser は指定ユーザーのレポート一覧を返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Item, error)
	// MarkReunited はレポートを解決済みにする。
	MarkReunited(ctx context.Context, userID, itemID string) (*model.Item, error)
}

// ItemHandler はレポート管理のHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

// --- リクエスト/レスポンス型 ---

// createItemRequest はレポート作成リクエストのボディ。
// 画像は事前にホスティング済みで、URLのみを受け取る。
type createItemRequest struct {
	ItemType      string   `json:"item_type"`
	Category      string   `json:"category"`
	Color         string   `json:"color,omitempty"`
	Description   string   `json:"description"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	ImagePublicID string   `json:"image_public_id,omitempty"`
}

// itemResponse はレポートのレスポンス。
type itemResponse struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ItemType        string    `json:"item_type"`
	Category        string    `json:"category"`
	Color           string    `json:"color,omitempty"`
	Description     string    `json:"description"`
	Longitude       *float64  `json:"longitude,omitempty"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Status          string    `json:"status"`
	ImageURL        string    `json:"image_url,omitempty"`
	EmbeddingStatus string    `json:"embedding_status"`
	CreatedAt       time.Time `json:"created_at"`
}

func toItemResponse(i *model.Item) itemResponse {
	return itemResponse{
		ID:              i.ID,
		UserID:          i.UserID,
		ItemType:        string(i.ItemType),
		Category:        i.Category,
		Color:           i.Color,
		Description:     i.Description,
		Longitude:       i.Longitude,
		Latitude:        i.Latitude,
		Status:          string(i.Status),
		ImageURL:        i.ImageURL,
		EmbeddingStatus: string(i.EmbeddingStatus),
		CreatedAt:       i.CreatedAt,
	}
}

func toItemResponses(items []*model.Item) []itemResponse {
	responses := make([]itemResponse, 0, len(items))
	for _, i := range items {
		responses = append(responses, toItemResponse(i))
	}
	return responses
}

// CreateItem は新しいレポートを作成する。
// POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	created, err := h.service.Create(r.Context(), userID, item.CreateInput{
		ItemType:      model.ItemType(req.ItemType),
		Category:      req.Category,
		Color:         req.Color,
		Description:   req.Description,
		Longitude:     req.Longitude,
		Latitude:      req.Latitude,
		ImageURL:      req.ImageURL,
		ImagePublicID: req.ImagePublicID,
	})
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toItemResponse(created))
}

// ListItems はアクティブなレポート一覧を取得する。
// GET /api/items
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListActive(r.Context())
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponses(items))
}

// ListMyItems は認証済みユーザー自身のレポート一覧を取得する。
// GET /api/items/mine
func (h *ItemHandler) ListMyItems(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	items, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponses(items))
}

// updateStatusRequest はレポート状態更新リクエストのボディ。
type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus はレポートを解決済みにする。
// PUT /api/items/:id/status
// 所有者のみが実行でき、active → reunited の遷移のみ許可される。
func (h *ItemHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	itemID := chi.URLParam(r, "id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}
	if req.Status != string(model.ItemStatusReunited) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("statusにはreunitedのみ指定できます。"))
		return
	}

	updated, err := h.service.MarkReunited(r.Context(), userID, itemID)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(updated))
}
