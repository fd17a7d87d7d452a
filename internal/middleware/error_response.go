package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/campusfinder/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// statusForErrorCode はAPIErrorのエラーコードをHTTPステータスコードに対応付ける。
var statusForErrorCode = map[string]int{
	model.ErrCodeUnauthorized:         http.StatusUnauthorized,
	model.ErrCodeInvalidCredentials:   http.StatusUnauthorized,
	model.ErrCodeInvalidRequest:       http.StatusBadRequest,
	model.ErrCodeInvalidItemType:      http.StatusBadRequest,
	model.ErrCodeSSRFBlocked:          http.StatusBadRequest,
	model.ErrCodeEmailTaken:           http.StatusConflict,
	model.ErrCodeItemAlreadyReunited:  http.StatusConflict,
	model.ErrCodeItemNotOwned:         http.StatusForbidden,
	model.ErrCodeItemNotFound:         http.StatusNotFound,
	model.ErrCodeNotificationNotFound: http.StatusNotFound,
	model.ErrCodeUserNotFound:         http.StatusNotFound,
}

// WriteServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIErrorは対応するステータスコードで、それ以外は500で応答する。
func WriteServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status, ok := statusForErrorCode[apiErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		WriteErrorResponse(w, status, apiErr)
		return
	}
	WriteInternalServerError(w)
}
