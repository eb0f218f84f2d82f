// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, user, track, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeInvalidID            = "INVALID_ID"
	ErrCodeEmailInUse           = "EMAIL_IN_USE"
	ErrCodePasswordMismatch     = "PASSWORD_MISMATCH"
	ErrCodeEmailMismatch        = "EMAIL_MISMATCH"
	ErrCodeIncorrectPassword    = "INCORRECT_PASSWORD"
	ErrCodeDeletionForbidden    = "DELETION_FORBIDDEN"
	ErrCodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeTrackNotFound        = "TRACK_NOT_FOUND"
	ErrCodeInvalidTrack         = "INVALID_TRACK"
	ErrCodeInvalidQuery         = "INVALID_QUERY"
	ErrCodeResetCodeNotFound    = "RESET_CODE_NOT_FOUND"
	ErrCodeLoginFailed          = "LOGIN_FAILED"
	ErrCodeInvalidAccessToken   = "INVALID_ACCESS_TOKEN"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewValidationError はリクエスト値の検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidIDError はIDの形式が不正な場合のエラーを生成する。
func NewInvalidIDError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidID,
		Message:  fmt.Sprintf("IDの形式が不正です: %s", id),
		Category: "validation",
		Action:   "正しいIDを指定してください。",
	}
}

// NewEmailInUseError はメールアドレスが既に登録済みの場合のエラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "このメールアドレスは既に使用されています。",
		Category: "user",
		Action:   "別のメールアドレスを指定するか、ログインしてください。",
	}
}

// NewPasswordMismatchError はpasswordとconfirmPasswordが一致しない場合のエラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "パスワードと確認用パスワードが一致しません。",
		Category: "validation",
		Action:   "同じパスワードを2回入力してください。",
	}
}

// NewEmailMismatchError は指定されたメールアドレスがユーザーと一致しない場合のエラーを生成する。
func NewEmailMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailMismatch,
		Message:  "メールアドレスがユーザーと一致しません。",
		Category: "user",
		Action:   "登録済みのメールアドレスを入力してください。",
	}
}

// NewIncorrectPasswordError はパスワードが一致しない場合のエラーを生成する。
func NewIncorrectPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeIncorrectPassword,
		Message:  "パスワードが正しくありません。",
		Category: "user",
		Action:   "パスワードを確認してください。",
	}
}

// NewDeletionForbiddenError は認証情報が一致せず削除が拒否された場合のエラーを生成する。
func NewDeletionForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeDeletionForbidden,
		Message:  "パスワードが正しくないため削除できません。",
		Category: "user",
		Action:   "パスワードを確認してください。",
	}
}

// NewConfirmationRequiredError は削除確認フラグが指定されていない場合のエラーを生成する。
func NewConfirmationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationRequired,
		Message:  "削除にはconfirmDeletion: trueの指定が必要です。",
		Category: "validation",
		Action:   "削除を確認したうえでconfirmDeletionをtrueにしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "user",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewTrackNotFoundError はトラックが見つからない場合のエラーを生成する。
func NewTrackNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTrackNotFound,
		Message:  "トラックが見つかりません。",
		Category: "track",
		Action:   "トラックIDを確認してください。",
	}
}

// NewInvalidTrackError はトラックの内容が不正な場合のエラーを生成する。
func NewInvalidTrackError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTrack,
		Message:  fmt.Sprintf("トラックが不正です: %s", reason),
		Category: "validation",
		Action:   "トラック名と付随データを確認してください。",
	}
}

// NewInvalidQueryError は検索条件が不正な場合のエラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("検索条件が不正です: %s", reason),
		Category: "validation",
		Action:   "日付はRFC3339形式またはYYYY-MM-DD形式で指定してください。",
	}
}

// NewResetCodeNotFoundError はパスワードリセットコードが無効な場合のエラーを生成する。
func NewResetCodeNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeResetCodeNotFound,
		Message:  "パスワードリセットコードが無効です。",
		Category: "user",
		Action:   "パスワードリセットを再度リクエストしてください。",
	}
}

// NewLoginFailedError はログインに失敗した場合のエラーを生成する。
func NewLoginFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  message,
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewInvalidAccessTokenError はアクセストークンに対応するユーザーがいない場合のエラーを生成する。
func NewInvalidAccessTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAccessToken,
		Message:  "アクセストークンが無効です。",
		Category: "auth",
		Action:   "アクセストークンを再発行してください。",
	}
}

// NewUnauthorizedError は未認証の場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewRateLimitExceededError はレート制限を超えた場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError はサーバー内部エラーを生成する。
// 内部の詳細はクライアントに返さない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "サーバー内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
