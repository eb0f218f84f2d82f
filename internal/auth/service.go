// Package auth はローカル認証（メールアドレスとパスワード）とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lifetracker/internal/model"
	"github.com/hitoshi/lifetracker/internal/repository"
)

// Authenticator はメールアドレスとパスワードでユーザーを認証する。
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
}

// UserFinder はIDでユーザーを取得する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge           int // セッション有効期間（秒）
	SessionPersistentMaxAge int // ログイン状態を保持する場合の有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	authenticator Authenticator
	userRepo      UserFinder
	sessionRepo   repository.SessionRepository
	config        ServiceConfig
	now           func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	authenticator Authenticator,
	userRepo UserFinder,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		authenticator: authenticator,
		userRepo:      userRepo,
		sessionRepo:   sessionRepo,
		config:        config,
		now:           time.Now,
	}
}

// MaxAge はセッションの有効期間（秒）を返す。
func (s *Service) MaxAge(stayLoggedIn bool) int {
	if stayLoggedIn && s.config.SessionPersistentMaxAge > 0 {
		return s.config.SessionPersistentMaxAge
	}
	return s.config.SessionMaxAge
}

// LoginLocal はメールアドレスとパスワードで認証し、セッションを発行する。
// stayLoggedInがtrueの場合は永続セッションの有効期間を使う。
func (s *Service) LoginLocal(ctx context.Context, email, password string, stayLoggedIn bool) (*model.Session, *model.User, error) {
	user, err := s.authenticator.Authenticate(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID, s.MaxAge(stayLoggedIn))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.Bool("stay_logged_in", stayLoggedIn),
	)
	return session, user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
// セッションが無効な場合はUNAUTHORIZEDエラーを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.IsExpired(s.now()) {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, maxAge int) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(maxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
