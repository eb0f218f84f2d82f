// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lifetracker/internal/mail"
	"github.com/hitoshi/lifetracker/internal/metrics"
	"github.com/hitoshi/lifetracker/internal/model"
	"github.com/hitoshi/lifetracker/internal/repository"
)

// maxGenerateAttempts はトークン・リセットコードが衝突した場合の最大試行回数。
const maxGenerateAttempts = 5

// errExhausted は衝突が続き一意な値を生成できなかったことを示す。
var errExhausted = errors.New("一意な値を生成できませんでした")

// CreateUserInput はユーザー登録の入力値。
type CreateUserInput struct {
	UserName        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Options はServiceの設定値。
type Options struct {
	BcryptCost int
	// ResetURL はリセットメールに記載するリンクの基底URL。codeクエリを付与する。
	ResetURL string
	// ResetTTL はリセットコードの有効期間。0以下なら期限なし。
	ResetTTL time.Duration
}

// Service はユーザー管理のサービス層。
// 登録、アクセストークン、退会、パスワードリセットのビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	validator *Validator
	mailer    mail.Sender
	metrics   metrics.MetricsCollector
	opts      Options

	now          func() time.Time
	newID        func() string
	newToken     func() (string, error)
	newResetCode func() (string, error)
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	validator *Validator,
	mailer mail.Sender,
	collector metrics.MetricsCollector,
	opts Options,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if mailer == nil {
		mailer = mail.LogMailer{}
	}
	return &Service{
		users:        users,
		validator:    validator,
		mailer:       mailer,
		metrics:      collector,
		opts:         opts,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
		newToken:     GenerateAccessToken,
		newResetCode: GenerateResetCode,
	}
}

// CreateUser はユーザーを登録する。
// アクセストークンが既存ユーザーと衝突した場合は再生成して登録をやり直す。
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*model.User, error) {
	u, err := s.validator.NewUser(in.UserName, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	if in.Password != in.ConfirmPassword {
		return nil, model.NewPasswordMismatchError()
	}

	hash, err := HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u.ID = s.newID()
	u.PasswordHash = hash
	u.SignUpDate = now
	u.CreatedAt = now
	u.UpdatedAt = now

	err = s.retryOnCollision(repository.ErrDuplicateAccessToken, s.newToken, func(token string) error {
		u.AccessToken = token
		return s.users.Create(ctx, u)
	})
	switch {
	case errors.Is(err, repository.ErrDuplicateEmail):
		return nil, model.NewEmailInUseError()
	case err != nil:
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	s.metrics.RecordUserCreated()
	slog.Info("ユーザーを登録しました",
		slog.String("user_id", u.ID),
	)
	return u, nil
}

// retryOnCollision はgenerateで生成した値でstoreを呼び出し、
// collisionエラーの間は値を生成し直して最大maxGenerateAttempts回まで繰り返す。
func (s *Service) retryOnCollision(collision error, generate func() (string, error), store func(string) error) error {
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		value, err := generate()
		if err != nil {
			return err
		}
		err = store(value)
		if !errors.Is(err, collision) {
			return err
		}
		slog.Warn("生成した値が既存の値と衝突したため再生成します",
			slog.Int("attempt", attempt),
		)
	}
	return errExhausted
}

// verifyOwner はユーザーの存在、メールアドレス、パスワードを順に確認する。
// パスワード不一致時のエラーは呼び出し側が決める。
func (s *Service) verifyOwner(ctx context.Context, userID, email, password string, wrongPassword func() *model.APIError) (*model.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	if NormalizeEmail(email) != u.Email {
		return nil, model.NewEmailMismatchError()
	}
	if !ComparePassword(u.PasswordHash, password) {
		return nil, wrongPassword()
	}
	return u, nil
}

// GetAccessToken は認証情報を確認して現在のアクセストークンを返す。
func (s *Service) GetAccessToken(ctx context.Context, userID, email, password string) (string, error) {
	u, err := s.verifyOwner(ctx, userID, email, password, model.NewIncorrectPasswordError)
	if err != nil {
		return "", err
	}
	return u.AccessToken, nil
}

// RegenerateAccessToken は認証情報を確認してアクセストークンを再発行する。
func (s *Service) RegenerateAccessToken(ctx context.Context, userID, email, password string) (string, error) {
	if _, err := s.verifyOwner(ctx, userID, email, password, model.NewIncorrectPasswordError); err != nil {
		return "", err
	}

	var issued string
	err := s.retryOnCollision(repository.ErrDuplicateAccessToken, s.newToken, func(token string) error {
		issued = token
		return s.users.UpdateAccessToken(ctx, userID, token)
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return "", model.NewUserNotFoundError()
	case err != nil:
		return "", fmt.Errorf("アクセストークンの再発行に失敗しました: %w", err)
	}

	slog.Info("アクセストークンを再発行しました",
		slog.String("user_id", userID),
	)
	return issued, nil
}

// DeleteUser は認証情報を確認してユーザーを退会させる。
// ユーザーと所有する全トラックを同一トランザクションで削除する。
func (s *Service) DeleteUser(ctx context.Context, userID, email, password string) error {
	if _, err := s.verifyOwner(ctx, userID, email, password, model.NewDeletionForbiddenError); err != nil {
		return err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.users.DeleteWithTracks(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	s.metrics.RecordUserDeleted()
	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}

// RequestPasswordReset はリセットコードを発行してメールで送る。
// メールアドレスの登録有無は呼び出し側に伝えない。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		slog.Debug("未登録のメールアドレスへのリセット要求を無視しました")
		return nil
	}

	requestedAt := s.now().UTC()
	var code string
	err = s.retryOnCollision(repository.ErrDuplicateResetCode, s.newResetCode, func(c string) error {
		code = c
		return s.users.SetPasswordResetCode(ctx, u.ID, c, requestedAt)
	})
	if err != nil {
		return fmt.Errorf("リセットコードの発行に失敗しました: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, u.Email, u.UserName, s.resetLink(code)); err != nil {
		// 送信失敗を応答に反映するとメールアドレスの登録有無が判別できてしまう
		slog.Error("パスワードリセットメールの送信に失敗しました",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	slog.Info("パスワードリセットコードを発行しました",
		slog.String("user_id", u.ID),
	)
	return nil
}

func (s *Service) resetLink(code string) string {
	return s.opts.ResetURL + "?code=" + url.QueryEscape(code)
}

// ResetPassword はリセットコードを消費して新しいパスワードを設定する。
// コードの消去と全セッションの破棄はパスワード更新と同じトランザクションで行う。
func (s *Service) ResetPassword(ctx context.Context, code, password, confirmPassword string) error {
	if password != confirmPassword {
		return model.NewPasswordMismatchError()
	}
	if err := s.validator.ValidatePassword(password); err != nil {
		return err
	}
	if code == "" {
		return model.NewResetCodeNotFoundError()
	}

	hash, err := HashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return err
	}

	var issuedAfter time.Time
	if s.opts.ResetTTL > 0 {
		issuedAfter = s.now().UTC().Add(-s.opts.ResetTTL)
	}

	userID, err := s.users.RedeemPasswordReset(ctx, code, hash, issuedAfter)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewResetCodeNotFoundError()
		}
		return fmt.Errorf("パスワードのリセットに失敗しました: %w", err)
	}

	slog.Info("パスワードをリセットしました",
		slog.String("user_id", userID),
	)
	return nil
}

// Authenticate はメールアドレスとパスワードでユーザーを認証する。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		s.metrics.RecordLoginFailure("unknown_email")
		return nil, model.NewLoginFailedError("メールアドレスまたはパスワードが正しくありません。")
	}
	if !ComparePassword(u.PasswordHash, password) {
		s.metrics.RecordLoginFailure("wrong_password")
		return nil, model.NewLoginFailedError("メールアドレスまたはパスワードが正しくありません。")
	}
	return u, nil
}
