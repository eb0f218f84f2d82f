package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/lifetracker/internal/model"
)

const userColumns = `id, user_name, email, password_hash, access_token,
	password_reset_code, password_reset_requested_at, sign_up_date, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var resetCode sql.NullString
	var resetRequestedAt sql.NullTime

	err := row.Scan(
		&user.ID, &user.UserName, &user.Email, &user.PasswordHash, &user.AccessToken,
		&resetCode, &resetRequestedAt, &user.SignUpDate, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if resetCode.Valid {
		code := resetCode.String
		user.PasswordResetCode = &code
	}
	if resetRequestedAt.Valid {
		at := resetRequestedAt.Time
		user.PasswordResetRequestedAt = &at
	}
	return user, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, user_name, email, password_hash, access_token, sign_up_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.UserName, user.Email, user.PasswordHash, user.AccessToken,
		user.SignUpDate, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByAccessToken はアクセストークンでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByAccessToken(ctx context.Context, token string) (*model.User, error) {
	user, err := r.findOne(ctx, `access_token = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by access token: %w", err)
	}
	return user, nil
}

// UpdateAccessToken はアクセストークンを置き換える。
func (r *PostgresUserRepo) UpdateAccessToken(ctx context.Context, id, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET access_token = $1, updated_at = now() WHERE id = $2`,
		token, id,
	)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return requireAffected(result)
}

// SetPasswordResetCode はパスワードリセットコードを保存する。
func (r *PostgresUserRepo) SetPasswordResetCode(ctx context.Context, id, code string, requestedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_reset_code = $1, password_reset_requested_at = $2, updated_at = now()
		 WHERE id = $3`,
		code, requestedAt, id,
	)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to set password reset code: %w", err)
	}
	return requireAffected(result)
}

// RedeemPasswordReset はリセットコードを消費してパスワードを更新する。
func (r *PostgresUserRepo) RedeemPasswordReset(ctx context.Context, code, passwordHash string, issuedAfter time.Time) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM users
		 WHERE password_reset_code = $1 AND password_reset_requested_at >= $2
		 FOR UPDATE`,
		code, issuedAfter,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock user by reset code: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users
		 SET password_hash = $1, password_reset_code = NULL, password_reset_requested_at = NULL, updated_at = now()
		 WHERE id = $2`,
		passwordHash, userID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to update password: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return "", fmt.Errorf("failed to delete user sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return userID, nil
}

// ClearStaleResetCodes は有効期限を過ぎたリセットコードを消去する。
func (r *PostgresUserRepo) ClearStaleResetCodes(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_reset_code = NULL, password_reset_requested_at = NULL, updated_at = now()
		 WHERE password_reset_code IS NOT NULL AND password_reset_requested_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear stale reset codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteWithTracks はユーザーと所有する全トラックを削除する。
// セッションはON DELETE CASCADEで削除される。
func (r *PostgresUserRepo) DeleteWithTracks(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracks WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tracks: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// requireAffected は更新件数が0件の場合にErrNotFoundを返す。
func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
