package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusfinder/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	JWTSecret         string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// サービス
	AuthService         AuthServiceInterface
	ItemService         ItemServiceInterface
	NotificationService NotificationServiceInterface
	NotificationHub     NotificationSubscriber
	MessageService      MessageServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → ログ → リカバリ → JWT認証 → レート制限(General)
//
// /health と認証エンドポイント（register/login）はJWT認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	authHandler := NewAuthHandler(deps.AuthService)
	itemHandler := NewItemHandler(deps.ItemService)
	notificationHandler := NewNotificationHandler(deps.NotificationService, deps.NotificationHub)
	messageHandler := NewMessageHandler(deps.MessageService)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/auth/register", authHandler.Register)
	r.Post("/api/auth/login", authHandler.Login)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: JWT認証 → レート制限(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.JWTSecret))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/auth/me", authHandler.Me)

		// レポート管理
		r.Route("/api/items", func(r chi.Router) {
			// POST /api/items - レポート作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.ReportMiddleware()).Post("/", itemHandler.CreateItem)

			r.Get("/", itemHandler.ListItems)
			r.Get("/mine", itemHandler.ListMyItems)
			r.Put("/{id}/status", itemHandler.UpdateStatus)
		})

		// 通知管理
		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.ListNotifications)
			r.Get("/stream", notificationHandler.Stream)
			r.Put("/{id}/read", notificationHandler.MarkRead)
		})

		// メッセージ
		r.Route("/api/messages", func(r chi.Router) {
			r.Post("/{receiverID}", messageHandler.SendMessage)
			r.Get("/{userID}", messageHandler.ListMessages)
		})
	})

	return r
}
