package repository

import (
	"errors"

	"github.com/hitoshi/lifetracker/internal/database"
)

// リポジトリ層のセンチネルエラー。errors.Isで判定する。
var (
	ErrNotFound             = errors.New("repository: record not found")
	ErrDuplicateEmail       = errors.New("repository: duplicate email")
	ErrDuplicateAccessToken = errors.New("repository: duplicate access token")
	ErrDuplicateResetCode   = errors.New("repository: duplicate password reset code")
	ErrDuplicateKey         = errors.New("repository: duplicate key")
	ErrOwnerNotFound        = errors.New("repository: owning user does not exist")
	ErrCheckViolation       = errors.New("repository: check constraint violated")
)

// 一意制約名。migrationsで定義している名前と一致させる。
const (
	constraintUserEmail     = "users_email_unique"
	constraintUserToken     = "users_access_token_unique"
	constraintUserResetCode = "users_password_reset_code_unique"
)

// mapUniqueViolation は一意制約違反をセンチネルエラーに変換する。
// 一意制約違反でなければnilを返す。
func mapUniqueViolation(err error) error {
	constraint, ok := database.UniqueViolation(err)
	if !ok {
		return nil
	}
	switch constraint {
	case constraintUserEmail:
		return ErrDuplicateEmail
	case constraintUserToken:
		return ErrDuplicateAccessToken
	case constraintUserResetCode:
		return ErrDuplicateResetCode
	default:
		return ErrDuplicateKey
	}
}

// mapTrackWriteError はトラック書き込み時の制約違反をセンチネルエラーに変換する。
// 該当しなければerrをそのまま返す。
func mapTrackWriteError(err error) error {
	switch {
	case database.IsForeignKeyViolation(err):
		return ErrOwnerNotFound
	case database.IsCheckViolation(err):
		return ErrCheckViolation
	default:
		return err
	}
}
