package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/lifetracker/internal/model"
)

// mockSessionRepository はSessionFinderのモック。
type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

var _ SessionFinder = (*mockSessionRepository)(nil)

func newTestCookies() *SessionCookies {
	return NewSessionCookies(SessionCookieConfig{Secret: "0123456789abcdef0123456789abcdef", MaxAge: 3600})
}

// requestWithSession はSaveで発行したCookieを付与したリクエストを返す。
func requestWithSession(t *testing.T, cookies *SessionCookies, sessionID string) *http.Request {
	t.Helper()
	w := httptest.NewRecorder()
	if err := cookies.Save(w, httptest.NewRequest(http.MethodPost, "/v1/auth/login-local", nil), sessionID, 3600); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/tracks", nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func validSessionRepo(sessionID, userID string) *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != sessionID {
				return nil, nil
			}
			return &model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
}

func TestSessionCookies_SaveAndRead(t *testing.T) {
	cookies := newTestCookies()
	w := httptest.NewRecorder()

	if err := cookies.Save(w, httptest.NewRequest(http.MethodPost, "/", nil), "sess-abc", 7200); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	set := w.Result().Cookies()
	if len(set) != 1 {
		t.Fatalf("cookies = %d, want 1", len(set))
	}
	c := set[0]
	if c.Name != sessionCookieName {
		t.Errorf("cookie name = %q, want %q", c.Name, sessionCookieName)
	}
	if !c.HttpOnly {
		t.Error("HttpOnlyが設定されていません")
	}
	if c.MaxAge != 7200 {
		t.Errorf("MaxAge = %d, want 7200", c.MaxAge)
	}
	if c.Value == "sess-abc" {
		t.Error("セッションIDが署名されずに格納されています")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	id, ok := cookies.Read(req)
	if !ok || id != "sess-abc" {
		t.Errorf("Read() = (%q, %v), want (sess-abc, true)", id, ok)
	}
}

func TestSessionCookies_TamperedCookieRejected(t *testing.T) {
	cookies := newTestCookies()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "forged-value"})
	if _, ok := cookies.Read(req); ok {
		t.Error("改ざんされたCookieが受理されました")
	}

	other := NewSessionCookies(SessionCookieConfig{Secret: "another-secret-another-secret-00", MaxAge: 3600})
	req = requestWithSession(t, other, "sess-1")
	if _, ok := cookies.Read(req); ok {
		t.Error("別の鍵で署名されたCookieが受理されました")
	}
}

// signedCookieAt はissuedAt時点で署名されたセッションCookieの値を組み立てる。
// gorilla/securecookieの "date|value|mac" 形式に従う。
func signedCookieAt(t *testing.T, secret, sessionID string, issuedAt time.Time) string {
	t.Helper()
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(map[any]any{sessionIDValueKey: sessionID}); err != nil {
		t.Fatalf("gob encode: %v", err)
	}
	value := base64.URLEncoding.EncodeToString(payload.Bytes())
	signed := fmt.Sprintf("%s|%d|%s", sessionCookieName, issuedAt.Unix(), value)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))

	body := append([]byte(signed[len(sessionCookieName)+1:]+"|"), mac.Sum(nil)...)
	return base64.URLEncoding.EncodeToString(body)
}

func TestSessionCookies_PersistentCookieOutlivesDefaultCodecAge(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	const day = 24 * 60 * 60
	issued := time.Now().Add(-40 * 24 * time.Hour)

	tests := []struct {
		name       string
		persistent int
		wantOK     bool
	}{
		{"60日の保持期間内", 60 * day, true},
		{"30日の保持期間を超過", 30 * day, false},
		{"保持期間未設定", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cookies := NewSessionCookies(SessionCookieConfig{Secret: secret, MaxAge: day, PersistentMaxAge: tt.persistent})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: signedCookieAt(t, secret, "sess-old", issued)})

			id, ok := cookies.Read(req)
			if ok != tt.wantOK {
				t.Fatalf("Read() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && id != "sess-old" {
				t.Errorf("Read() id = %q, want sess-old", id)
			}
		})
	}
}

func TestSessionCookies_SignedCookieHelperMatchesCodec(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	cookies := NewSessionCookies(SessionCookieConfig{Secret: secret, MaxAge: 3600})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: signedCookieAt(t, secret, "sess-now", time.Now())})
	if id, ok := cookies.Read(req); !ok || id != "sess-now" {
		t.Errorf("Read() = (%q, %v), want (sess-now, true)", id, ok)
	}
}

func TestSessionCookies_Clear(t *testing.T) {
	cookies := newTestCookies()
	req := requestWithSession(t, cookies, "sess-1")
	w := httptest.NewRecorder()

	if err := cookies.Clear(w, req); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	set := w.Result().Cookies()
	if len(set) != 1 || set[0].MaxAge >= 0 {
		t.Errorf("Cookieが削除されていません: %+v", set)
	}
}

func TestSessionMiddleware_ValidSession_InjectsIdentity(t *testing.T) {
	cookies := newTestCookies()
	mw := loadAndRequire(cookies, validSessionRepo("sess-1", "user-123"))

	var gotUserID, gotSessionID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		gotSessionID, _ = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithSession(t, cookies, "sess-1"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != "user-123" {
		t.Errorf("userID = %q, want user-123", gotUserID)
	}
	if gotSessionID != "sess-1" {
		t.Errorf("sessionID = %q, want sess-1", gotSessionID)
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	cookies := newTestCookies()

	tests := []struct {
		name string
		repo *mockSessionRepository
		req  func(t *testing.T) *http.Request
	}{
		{
			name: "no cookie",
			repo: validSessionRepo("sess-1", "user-1"),
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/v1/tracks", nil)
			},
		},
		{
			name: "unknown or expired session",
			repo: validSessionRepo("sess-1", "user-1"),
			req: func(t *testing.T) *http.Request {
				return requestWithSession(t, cookies, "sess-expired")
			},
		},
		{
			name: "repository error",
			repo: &mockSessionRepository{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					return nil, errors.New("db error")
				},
			},
			req: func(t *testing.T) *http.Request {
				return requestWithSession(t, cookies, "sess-1")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := loadAndRequire(cookies, tt.repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, tt.req(t))

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestSessionLoader_PassesThroughUnauthenticated(t *testing.T) {
	cookies := newTestCookies()
	called := false
	handler := NewSessionLoader(cookies, validSessionRepo("sess-1", "user-1"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if IsAuthenticated(r.Context()) {
			t.Error("未認証リクエストが認証済みとして扱われました")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/auth/is-authenticated", nil))

	if !called {
		t.Error("handler should have been called")
	}
}

func TestIsAuthenticated(t *testing.T) {
	if IsAuthenticated(context.Background()) {
		t.Error("空のコンテキストで認証済みになりました")
	}
	if !IsAuthenticated(ContextWithUserID(context.Background(), "user-1")) {
		t.Error("ユーザーIDを持つコンテキストが未認証になりました")
	}
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for missing user ID")
	}
}

// loadAndRequire はルーターと同じ順序でNewSessionLoaderとRequireSessionを連結する。
func loadAndRequire(cookies SessionReader, finder SessionFinder) func(next http.Handler) http.Handler {
	load := NewSessionLoader(cookies, finder)
	return func(next http.Handler) http.Handler {
		return load(RequireSession(next))
	}
}
