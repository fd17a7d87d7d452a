// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, item, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken           = "EMAIL_TAKEN"
	ErrCodeItemNotFound         = "ITEM_NOT_FOUND"
	ErrCodeItemNotOwned         = "ITEM_NOT_OWNED"
	ErrCodeItemAlreadyReunited  = "ITEM_ALREADY_REUNITED"
	ErrCodeInvalidItemType      = "INVALID_ITEM_TYPE"
	ErrCodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeSSRFBlocked          = "SSRF_BLOCKED"
)

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト内容不正エラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  fmt.Sprintf("このメールアドレスは既に登録されています: %s", email),
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewItemNotFoundError はレポート未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定されたレポートが見つかりません: %s", itemID),
		Category: "item",
		Action:   "レポートIDを確認してください。",
	}
}

// NewItemNotOwnedError は所有者以外による操作エラーを生成する。
func NewItemNotOwnedError() *APIError {
	return &APIError{
		Code:     ErrCodeItemNotOwned,
		Message:  "このレポートを操作する権限がありません。",
		Category: "auth",
		Action:   "自分が作成したレポートのみ操作できます。",
	}
}

// NewItemAlreadyReunitedError は終端状態のレポートへの再操作エラーを生成する。
func NewItemAlreadyReunitedError() *APIError {
	return &APIError{
		Code:     ErrCodeItemAlreadyReunited,
		Message:  "このレポートは既に解決済みです。",
		Category: "item",
		Action:   "解決済みのレポートは変更できません。",
	}
}

// NewInvalidItemTypeError はレポート種別不正エラーを生成する。
func NewInvalidItemTypeError(itemType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidItemType,
		Message:  fmt.Sprintf("無効なレポート種別です: %s", itemType),
		Category: "validation",
		Action:   "種別には Lost または Found を指定してください。",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", id),
		Category: "item",
		Action:   "通知IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定された画像URLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されている画像ホスティングのURLを指定してください。",
	}
}
