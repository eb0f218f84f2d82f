// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/lifetracker/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// email、access_token、password_reset_codeの一意性はストア側で保証する。
type UserRepository interface {
	// Create はユーザーを作成する。
	// 一意制約違反の場合はErrDuplicateEmail、ErrDuplicateAccessTokenのいずれかを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByAccessToken はアクセストークンでユーザーを取得する。見つからない場合はnilを返す。
	FindByAccessToken(ctx context.Context, token string) (*model.User, error)

	// UpdateAccessToken はアクセストークンを置き換える。
	// 他ユーザーと衝突した場合はErrDuplicateAccessTokenを返す。
	UpdateAccessToken(ctx context.Context, id, token string) error

	// SetPasswordResetCode はパスワードリセットコードを発行済み状態にする。
	// 他ユーザーと衝突した場合はErrDuplicateResetCodeを返す。
	SetPasswordResetCode(ctx context.Context, id, code string, requestedAt time.Time) error

	// RedeemPasswordReset はissuedAfter以降に発行されたコードを1回だけ消費する。
	// パスワードハッシュの更新、コードの消去、全セッションの削除を同一トランザクションで行う。
	// 該当コードがない場合はErrNotFoundを返し、何も変更しない。
	RedeemPasswordReset(ctx context.Context, code, passwordHash string, issuedAfter time.Time) (string, error)

	// ClearStaleResetCodes はbefore より前に発行されたリセットコードを消去し、件数を返す。
	ClearStaleResetCodes(ctx context.Context, before time.Time) (int64, error)

	// DeleteWithTracks はユーザーと所有する全トラックを同一トランザクションで削除する。
	// ユーザーが存在しない場合はErrNotFoundを返す。
	DeleteWithTracks(ctx context.Context, id string) error
}

// TrackRepository はトラックデータの永続化インターフェース。
// すべての操作は所有ユーザーIDで絞り込む。
type TrackRepository interface {
	// Create はトラックを作成する。
	Create(ctx context.Context, track *model.Track) error

	// CreateMany は複数のトラックを同一トランザクションで作成する。
	// 1件でも失敗した場合は何も保存しない。
	CreateMany(ctx context.Context, tracks []*model.Track) error

	// FindByID は指定ユーザーが所有する指定IDのトラックを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Track, error)

	// List は検索条件に一致するトラックを返す。該当なしの場合は空スライスを返す。
	List(ctx context.Context, filter model.TrackFilter) ([]*model.Track, error)

	// Update はトラックを行ロックした状態でapplyを適用して保存する。
	// applyがエラーを返した場合はロールバックしてそのエラーを返す。
	// トラックが見つからない場合はnilを返す。
	Update(ctx context.Context, userID, id string, apply func(*model.Track) error) (*model.Track, error)

	// Delete は指定トラックを削除する。削除対象がなかった場合はfalseを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)

	// DeleteLatest は作成日時が最も新しいトラックを削除して返す。
	// トラックがない場合はnilを返す。
	DeleteLatest(ctx context.Context, userID string) (*model.Track, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

