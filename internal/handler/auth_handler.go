package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lifetracker/internal/middleware"
	"github.com/hitoshi/lifetracker/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// LoginLocal はメールアドレスとパスワードで認証しセッションを作成する。
	LoginLocal(ctx context.Context, email, password string, stayLoggedIn bool) (*model.Session, *model.User, error)
	// Logout はセッションを削除する。
	Logout(ctx context.Context, sessionID string) error
	// MaxAge はセッションCookieの有効期間（秒）を返す。
	MaxAge(stayLoggedIn bool) int
	// GetCurrentUser はセッションに紐づくユーザーを返す。
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// SessionCookieWriter はセッションCookieの書き込みと削除を行う。
type SessionCookieWriter interface {
	Save(w http.ResponseWriter, r *http.Request, sessionID string, maxAge int) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies SessionCookieWriter
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies SessionCookieWriter) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
	}
}

type loginRequest struct {
	Email        *string `json:"email" validate:"required,min=1"`
	Password     *string `json:"password" validate:"required,min=1"`
	StayLoggedIn *bool   `json:"stayLoggedIn"`
}

type loginResponse struct {
	Auth bool         `json:"auth"`
	User userResponse `json:"user"`
}

type isAuthenticatedResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
}

// LoginLocal はメールアドレスとパスワードでログインする。
// POST /v1/auth/login-local
func (h *AuthHandler) LoginLocal(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	stay := req.StayLoggedIn != nil && *req.StayLoggedIn

	session, u, err := h.service.LoginLocal(r.Context(), *req.Email, *req.Password, stay)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.cookies.Save(w, r, session.ID, h.service.MaxAge(stay)); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Auth: true, User: toUserResponse(u)})
}

// Logout はセッションを削除しCookieをクリアする。
// 未ログインでも成功として扱う。
// POST /v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := middleware.SessionIDFromContext(r.Context()); ok {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			// Cookieは削除するため、セッション削除の失敗はログのみ
			slog.Error("failed to delete session",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := h.cookies.Clear(w, r); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "ログアウトしました。"})
}

// IsAuthenticated はリクエストが有効なセッションを持つかどうかを返す。
// GET /v1/auth/is-authenticated
func (h *AuthHandler) IsAuthenticated(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, isAuthenticatedResponse{
		IsAuthenticated: middleware.IsAuthenticated(r.Context()),
	})
}

// CurrentUser はログイン中のユーザー情報を返す。
// GET /v1/auth/me
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionIDFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.GetCurrentUser(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}
