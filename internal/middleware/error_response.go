package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lifetracker/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードとHTTPステータスの対応表。
// 未登録のコードは500として扱う。
var statusByCode = map[string]int{
	model.ErrCodeValidation:           http.StatusBadRequest,
	model.ErrCodeInvalidID:            http.StatusBadRequest,
	model.ErrCodeEmailInUse:           http.StatusBadRequest,
	model.ErrCodePasswordMismatch:     http.StatusBadRequest,
	model.ErrCodeEmailMismatch:        http.StatusBadRequest,
	model.ErrCodeIncorrectPassword:    http.StatusBadRequest,
	model.ErrCodeConfirmationRequired: http.StatusBadRequest,
	model.ErrCodeInvalidTrack:         http.StatusBadRequest,
	model.ErrCodeInvalidQuery:         http.StatusBadRequest,
	model.ErrCodeUserNotFound:         http.StatusNotFound,
	model.ErrCodeTrackNotFound:        http.StatusNotFound,
	model.ErrCodeResetCodeNotFound:    http.StatusNotFound,
	model.ErrCodeDeletionForbidden:    http.StatusForbidden,
	model.ErrCodeLoginFailed:          http.StatusUnauthorized,
	model.ErrCodeInvalidAccessToken:   http.StatusUnauthorized,
	model.ErrCodeUnauthorized:         http.StatusUnauthorized,
	model.ErrCodeRateLimitExceeded:    http.StatusTooManyRequests,
}

// StatusForAPIError はAPIErrorに対応するHTTPステータスコードを返す。
func StatusForAPIError(apiErr *model.APIError) int {
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode error response",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
}

// WriteAPIError はエラーコードから決まるステータスでAPIErrorを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには汎用メッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
