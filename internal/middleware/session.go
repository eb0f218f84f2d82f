// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/hitoshi/lifetracker/internal/model"
)

const (
	sessionCookieName = "lifetracker_session"
	sessionIDValueKey = "sid"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionIDContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
	sessionIDContextKey = contextKey("session_id")
)

// SessionCookieConfig はセッションCookieの設定。
type SessionCookieConfig struct {
	Secret string
	Secure bool
	Domain string
	MaxAge int // 秒
	// PersistentMaxAge はログイン状態を保持する場合のCookie有効期間（秒）。
	PersistentMaxAge int
}

// SessionCookies は署名付きCookieにセッションIDを格納する。
type SessionCookies struct {
	store *sessions.CookieStore
}

// NewSessionCookies はSessionCookiesを生成する。
// 署名の有効期限は発行しうる最長のCookie有効期間に合わせる。
func NewSessionCookies(cfg SessionCookieConfig) *SessionCookies {
	store := sessions.NewCookieStore([]byte(cfg.Secret))
	store.MaxAge(max(cfg.MaxAge, cfg.PersistentMaxAge))
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   cfg.MaxAge,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionCookies{store: store}
}

// Save はセッションIDをCookieに書き込む。maxAgeは秒で指定する。
func (c *SessionCookies) Save(w http.ResponseWriter, r *http.Request, sessionID string, maxAge int) error {
	// 改ざん・期限切れのCookieは無視して新しいセッションとして書き直す
	sess, _ := c.store.Get(r, sessionCookieName)
	sess.Values[sessionIDValueKey] = sessionID
	sess.Options.MaxAge = maxAge
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session cookie: %w", err)
	}
	return nil
}

// Read はCookieからセッションIDを取り出す。署名が不正な場合はfalseを返す。
func (c *SessionCookies) Read(r *http.Request) (string, bool) {
	sess, err := c.store.Get(r, sessionCookieName)
	if err != nil {
		return "", false
	}
	id, ok := sess.Values[sessionIDValueKey].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Clear はセッションCookieを削除する。
func (c *SessionCookies) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := c.store.Get(r, sessionCookieName)
	sess.Values = map[any]any{}
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear session cookie: %w", err)
	}
	return nil
}

// SessionReader はリクエストからセッションIDを取り出す。
type SessionReader interface {
	Read(r *http.Request) (string, bool)
}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionLoader はCookieのセッションが有効であれば
// ユーザーIDとセッションIDをリクエストコンテキストに注入するミドルウェアを返す。
// 無効な場合もリクエストは拒否しない。
func NewSessionLoader(cookies SessionReader, sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := cookies.Read(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, session.UserID)
			ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession は認証済みでないリクエストに401を返すミドルウェア。
// NewSessionLoaderの後に配置する。
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthenticated(r.Context()) {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsAuthenticated はリクエストが有効なセッションを持つかどうかを返す。
func IsAuthenticated(ctx context.Context) bool {
	_, err := UserIDFromContext(ctx)
	return err == nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
