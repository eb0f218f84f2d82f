package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/lifetracker/internal/model"
	"github.com/hitoshi/lifetracker/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// CreateUser はユーザーを登録する。
	CreateUser(ctx context.Context, in user.CreateUserInput) (*model.User, error)
	// GetAccessToken は認証情報を確認して現在のアクセストークンを返す。
	GetAccessToken(ctx context.Context, userID, email, password string) (string, error)
	// RegenerateAccessToken は認証情報を確認してアクセストークンを再発行する。
	RegenerateAccessToken(ctx context.Context, userID, email, password string) (string, error)
	// DeleteUser はユーザーと所有する全トラックを削除する。
	DeleteUser(ctx context.Context, userID, email, password string) error
	// RequestPasswordReset はリセットコードを発行してメールで送る。
	RequestPasswordReset(ctx context.Context, email string) error
	// ResetPassword はリセットコードを消費して新しいパスワードを設定する。
	ResetPassword(ctx context.Context, code, password, confirmPassword string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type createUserRequest struct {
	UserName        *string `json:"userName" validate:"required"`
	Email           *string `json:"email" validate:"required"`
	Password        *string `json:"password" validate:"required"`
	ConfirmPassword *string `json:"confirmPassword" validate:"required"`
}

type credentialsRequest struct {
	Email    *string `json:"email" validate:"required,min=1"`
	Password *string `json:"password" validate:"required,min=1"`
}

type deleteUserRequest struct {
	Email           *string `json:"email" validate:"required,min=1"`
	Password        *string `json:"password" validate:"required,min=1"`
	ConfirmDeletion *bool   `json:"confirmDeletion" validate:"required"`
}

type passwordResetEmailRequest struct {
	Email *string `json:"email" validate:"required,min=1"`
}

type resetPasswordRequest struct {
	PasswordResetCode *string `json:"passwordResetCode" validate:"required,min=1"`
	Password          *string `json:"password" validate:"required"`
	ConfirmPassword   *string `json:"confirmPassword" validate:"required"`
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:       u.ID,
		UserName: u.UserName,
		Email:    u.Email,
	}
}

// userIDParam はパスのユーザーIDを検証して返す。不正なら400を書き込みfalseを返す。
func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError(id))
		return "", false
	}
	return id, true
}

// CreateUser はユーザー登録を処理する。
// POST /v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	u, err := h.service.CreateUser(r.Context(), user.CreateUserInput{
		UserName:        *req.UserName,
		Email:           *req.Email,
		Password:        *req.Password,
		ConfirmPassword: *req.ConfirmPassword,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// GetAccessToken は現在のアクセストークンを返す。
// GET /v1/users/{id}/accessToken
func (h *UserHandler) GetAccessToken(w http.ResponseWriter, r *http.Request) {
	h.accessToken(w, r, h.service.GetAccessToken)
}

// RegenerateAccessToken はアクセストークンを再発行する。
// POST /v1/users/{id}/accessToken
func (h *UserHandler) RegenerateAccessToken(w http.ResponseWriter, r *http.Request) {
	h.accessToken(w, r, h.service.RegenerateAccessToken)
}

func (h *UserHandler) accessToken(
	w http.ResponseWriter,
	r *http.Request,
	issue func(ctx context.Context, userID, email, password string) (string, error),
) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	token, err := issue(r.Context(), userID, *req.Email, *req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, accessTokenResponse{AccessToken: token})
}

// DeleteUser はユーザーの退会処理を実行する。
// DELETE /v1/users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req deleteUserRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if !*req.ConfirmDeletion {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewConfirmationRequiredError())
		return
	}

	if err := h.service.DeleteUser(r.Context(), userID, *req.Email, *req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordResetEmail はパスワードリセットメールの送信を受け付ける。
// メールアドレスの登録有無にかかわらず同じ応答を返す。
// POST /v1/users/request-password-reset-email
func (h *UserHandler) RequestPasswordResetEmail(w http.ResponseWriter, r *http.Request) {
	var req passwordResetEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), *req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: "登録済みのメールアドレスであれば、パスワードリセットの案内を送信しました。",
	})
}

// ResetPassword はリセットコードで新しいパスワードを設定する。
// PATCH /v1/users/reset-password
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), *req.PasswordResetCode, *req.Password, *req.ConfirmPassword); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "パスワードを変更しました。"})
}
